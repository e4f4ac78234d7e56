package vigil

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/pkg/cache"
	"github.com/vigil/pkg/classifier"
	"github.com/vigil/pkg/database"
	"github.com/vigil/pkg/discovery"
	"github.com/vigil/pkg/gate"
	"github.com/vigil/pkg/probe"
	"github.com/vigil/pkg/resolver"
	"github.com/vigil/pkg/signature"
	"github.com/vigil/pkg/vuln"
	"github.com/vigil/shared"
)

var ErrEmptyDomain = errors.New("empty domain")

type Report = shared.Report

type engineOptions struct {
	logger     zerolog.Logger
	extensions []shared.Extension
	sources    []discovery.Source
	inspector  probe.Inspector
	now        func() time.Time
}

type Option func(*engineOptions)

func WithLogger(l zerolog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// Extensions registered in addition to the configured plugins
func WithExtensions(exts ...shared.Extension) Option {
	return func(o *engineOptions) { o.extensions = append(o.extensions, exts...) }
}

// Replaces the configured discovery sources
func WithSources(sources ...discovery.Source) Option {
	return func(o *engineOptions) { o.sources = sources }
}

func WithInspector(i probe.Inspector) Option {
	return func(o *engineOptions) { o.inspector = i }
}

func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) { o.now = now }
}

type Engine struct {
	conf *Configuration

	discoverer *discovery.Discoverer
	resolver   *resolver.Resolver
	prober     *probe.Prober
	classifier *classifier.Classifier
	emitter    *Emitter
	store      *database.Repository
	scanner    *vuln.Nuclei

	logger  zerolog.Logger
	now     func() time.Time
	closers []func()
}

func NewEngine(conf *Configuration, opts ...Option) (*Engine, error) {
	o := &engineOptions{logger: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	s := conf.Settings
	if err := s.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{conf: conf, logger: o.logger, now: o.now}

	sources := o.sources
	if sources == nil {
		sources = []discovery.Source{
			discovery.NewCertificateTransparency(s.CTEndpoint, s.CTTimeout, nil),
			discovery.NewWordlist(conf.Fs(), s.Wordlist),
		}
	}
	e.discoverer = discovery.New(sources, discovery.WithLogger(o.logger), discovery.WithClock(o.now))

	hosts := gate.New(s.Concurrency)
	dnsCache, err := cache.New[string, []string](s.CacheSize, resolver.DEFAULT_TTL, cache.WithClock(o.now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver cache")
	}
	e.resolver, err = resolver.New(resolver.Options{
		Servers: s.Resolvers,
		Timeout: s.Timeout,
		Gate:    hosts,
		Cache:   dnsCache,
		Logger:  o.logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolver")
	}

	probeCache, err := cache.New[string, *shared.ProbeRecord](s.CacheSize, probe.DEFAULT_CACHE_TTL, cache.WithClock(o.now))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create probe cache")
	}
	e.prober, err = probe.New(probe.Options{
		Timeout:             s.Timeout,
		Ports:               s.Ports,
		Paths:               s.Endpoints,
		HostGate:            hosts,
		EndpointConcurrency: s.EndpointConcurrency,
		Cache:               probeCache,
		Inspector:           o.inspector,
		Logger:              o.logger,
		Now:                 o.now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create prober")
	}

	exts := o.extensions
	if len(s.Plugins) > 0 {
		plugins, kill, err := LoadPlugins(s.Plugins, o.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load plugins")
		}
		e.closers = append(e.closers, kill)
		exts = append(exts, plugins...)
	}

	sigs, err := signature.Load(conf.Fs(), conf.Signatures())
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "failed to load signatures")
	}
	var hooks []shared.ClassifyHook
	for _, sig := range sigs {
		hooks = append(hooks, sig)
	}
	for _, ext := range exts {
		if h, ok := ext.(shared.ClassifyHook); ok {
			hooks = append(hooks, h)
		}
	}
	e.classifier = classifier.New(
		classifier.WithHooks(hooks...),
		classifier.WithLogger(o.logger),
		classifier.WithClock(o.now),
	)

	e.emitter = NewEmitter(o.logger)
	e.emitter.Subscribe(exts...)

	e.store, err = database.Open(database.NewConfiguration(s.Database))
	if err != nil {
		e.Close()
		return nil, errors.Wrap(err, "failed to open result store")
	}
	e.closers = append(e.closers, func() { e.store.Close() })

	e.scanner = vuln.NewNuclei(s.Nuclei, o.logger)
	return e, nil
}

// Stops plugins and closes the result store
func (e *Engine) Close() {
	for _, c := range e.closers {
		c()
	}
	e.closers = nil
}

func (e *Engine) Store() *database.Repository {
	return e.store
}

// Run scans the domain through every stage. Failures of single hosts,
// sources, hooks, the vulnerability scanner or the store never abort it.
func (e *Engine) Run(ctx context.Context, domain string) (*Report, error) {
	domain = discovery.Normalize(domain)
	if domain == "" {
		return nil, ErrEmptyDomain
	}

	report := &Report{Domain: domain, StartedAt: e.now()}
	log := e.logger.With().Str("domain", domain).Logger()

	discovered := e.discoverer.Discover(ctx, domain)
	for _, h := range discovered {
		e.emitter.SubdomainFound(ctx, *h)
	}
	log.Info().Int("hosts", len(discovered)).Msg("discovery done")

	report.Hosts = e.resolver.Resolve(ctx, discovered)
	log.Info().Int("hosts", len(report.Hosts)).Msg("resolution done")

	report.Probes = e.prober.ProbeAll(ctx, report.Hosts)
	for _, rec := range report.Probes {
		e.emitter.ProbeResult(ctx, *rec)
	}
	log.Info().Int("records", len(report.Probes)).Msg("probing done")

	for _, rec := range e.classifier.ClassifyAll(ctx, report.Probes) {
		report.Classified = append(report.Classified, *rec)
	}

	if e.scanner.Enabled() {
		report.Findings = e.scanner.Scan(ctx, liveURLs(report.Probes))
		log.Info().Int("findings", len(report.Findings)).Msg("vulnerability scan done")
	}
	report.FinishedAt = e.now()

	if _, err := e.store.SaveReport(report); err != nil {
		log.Warn().Err(err).Msg("failed to store scan results")
	}

	e.emitter.Complete(ctx, report.Classified)
	if err := ctx.Err(); err != nil {
		return report, errors.Wrap(err, "scan interrupted")
	}
	return report, nil
}

func liveURLs(records []*shared.ProbeRecord) []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, rec := range records {
		u := rec.URL()
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}

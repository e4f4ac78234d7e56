// Package probe interrogates resolved hosts over HTTP and HTTPS.
//
// Every attempt targets one (hostname, address, scheme) triple: connections
// go to the resolved address while the URL, Host header and SNI carry the
// hostname. Attempts that time out, fail to connect or redirect too often
// produce no record.
package probe

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/pkg/cache"
	"github.com/vigil/pkg/gate"
	"github.com/vigil/shared"
)

const (
	DEFAULT_TIMEOUT       = 10 * time.Second
	DEFAULT_MAX_REDIRECTS = 5
	DEFAULT_BODY_LIMIT    = 1 << 20
	DEFAULT_CACHE_TTL     = 10 * time.Minute
	DEFAULT_USER_AGENT    = "Mozilla/5.0 (compatible; vigil/1.0)"

	DEFAULT_ENDPOINT_CONCURRENCY = 6
)

var DefaultPorts = map[string]int{
	"https": 443,
	"http":  80,
}

// Attempted for every address, in this order
var schemes = []string{"https", "http"}

type Target struct {
	Hostname string
	Address  string
	Scheme   string
	Port     int
}

func (t Target) key() string {
	return strings.Join([]string{t.Scheme, t.Hostname, t.Address, strconv.Itoa(t.Port)}, "|")
}

// host[:port] as used in URLs, without the default port of the scheme
func (t Target) host() string {
	if DefaultPorts[t.Scheme] == t.Port {
		return t.Hostname
	}
	return net.JoinHostPort(t.Hostname, strconv.Itoa(t.Port))
}

func (t Target) url(path string) string {
	return t.Scheme + "://" + t.host() + path
}

type Options struct {
	// Bound for each request
	Timeout time.Duration
	// Port probed for each scheme
	Ports map[string]int
	// Base endpoint paths, expanded before probing
	Paths        []string
	MaxRedirects int
	BodyLimit    int64
	UserAgent    string

	// Endpoint checks in flight for a single probe attempt
	EndpointConcurrency int

	HostGate  *gate.Gate
	Cache     *cache.Cache[string, *shared.ProbeRecord]
	Inspector Inspector
	Logger    zerolog.Logger
	Now       func() time.Time
}

type Prober struct {
	opts  Options
	paths []string
}

func New(opts Options) (*Prober, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DEFAULT_TIMEOUT
	}
	if opts.Ports == nil {
		opts.Ports = DefaultPorts
	}
	if opts.Paths == nil {
		opts.Paths = DefaultPaths
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DEFAULT_MAX_REDIRECTS
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = DEFAULT_BODY_LIMIT
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DEFAULT_USER_AGENT
	}
	if opts.HostGate == nil {
		opts.HostGate = gate.New(20)
	}
	if opts.EndpointConcurrency <= 0 {
		opts.EndpointConcurrency = DEFAULT_ENDPOINT_CONCURRENCY
	}
	if opts.Cache == nil {
		c, err := cache.New[string, *shared.ProbeRecord](4096, DEFAULT_CACHE_TTL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create probe cache")
		}
		opts.Cache = c
	}
	if opts.Inspector == nil {
		opts.Inspector = NewInspector(opts.Timeout, nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Prober{opts: opts, paths: ExpandPaths(opts.Paths)}, nil
}

// Every (address, scheme) combination of the hosts
func (p *Prober) Targets(hosts []*shared.DiscoveredHost) []Target {
	var targets []Target
	for _, h := range hosts {
		for _, addr := range h.Addresses {
			for _, scheme := range schemes {
				port, ok := p.opts.Ports[scheme]
				if !ok {
					continue
				}
				targets = append(targets, Target{Hostname: h.Hostname, Address: addr, Scheme: scheme, Port: port})
			}
		}
	}
	return targets
}

// Probes all targets of the hosts under the host gate. The result keeps
// the order of the targets and skips attempts that produced nothing.
func (p *Prober) ProbeAll(ctx context.Context, hosts []*shared.DiscoveredHost) []*shared.ProbeRecord {
	return gate.Settle(ctx, p.opts.HostGate, p.Targets(hosts), func(ctx context.Context, t Target) (*shared.ProbeRecord, error) {
		return p.Probe(ctx, t), nil
	}, func(t Target, err error) {
		p.opts.Logger.Debug().Err(err).Str("target", t.key()).Msg("probe failed")
	})
}

// Returns nil when the attempt produced nothing
func (p *Prober) Probe(ctx context.Context, t Target) (rec *shared.ProbeRecord) {
	key := t.key()
	if cached, ok := p.opts.Cache.Get(key); ok {
		return cached
	}

	logger := p.opts.Logger.With().Str("target", key).Logger()
	defer func() {
		if r := recover(); r != nil {
			logger.Warn().Interface("panic", r).Msg("probe aborted")
			rec = nil
		}
	}()

	client := p.client(t)
	res, err := p.fetch(ctx, client, t.url("/"))
	if err != nil {
		logger.Debug().Err(err).Msg("no response")
		return nil
	}

	rec = &shared.ProbeRecord{
		Hostname:      t.Hostname,
		Address:       t.Address,
		Scheme:        t.Scheme,
		Port:          t.Port,
		StatusCode:    res.status,
		Headers:       normalizeHeaders(res.header),
		ContentLength: res.contentLength,
		Title:         extractTitle(res.body, res.header.Get("Content-Type")),
		RedirectChain: res.chain,
		ResponseTime:  res.elapsed.Milliseconds(),
		Timestamp:     p.opts.Now(),
	}

	if t.Scheme == "https" {
		desc, err := p.opts.Inspector.Inspect(ctx, t.Hostname, t.Address, t.Port)
		if err != nil {
			logger.Debug().Err(err).Msg("tls inspection failed")
		}
		rec.TLS = desc
	}

	rec.Endpoints = p.probeEndpoints(ctx, client, t)

	p.opts.Cache.Set(key, rec)
	return rec
}

// Package discovery enumerates candidate hostnames under a domain.
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

// A source of candidate hostnames. Names returned by a source are
// normalized and filtered by the discoverer, sources may return raw names.
type Source interface {
	Name() string
	Enumerate(ctx context.Context, domain string) ([]string, error)
}

type Discoverer struct {
	sources []Source
	logger  zerolog.Logger
	now     func() time.Time
}

type Option func(*Discoverer)

func WithLogger(l zerolog.Logger) Option {
	return func(d *Discoverer) { d.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(d *Discoverer) { d.now = now }
}

// Sources are merged in the order given here. When two sources report
// the same hostname, the first one keeps it.
func New(sources []Source, opts ...Option) *Discoverer {
	d := &Discoverer{
		sources: sources,
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Runs every source concurrently and merges their results. A failing
// source contributes nothing.
func (d *Discoverer) Discover(ctx context.Context, domain string) []*shared.DiscoveredHost {
	domain = Normalize(domain)
	if domain == "" {
		return nil
	}

	found := make([][]string, len(d.sources))
	var wg sync.WaitGroup
	for i, src := range d.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			names, err := src.Enumerate(ctx, domain)
			if err != nil {
				d.logger.Warn().Err(err).Str("source", src.Name()).Str("domain", domain).Msg("discovery source failed")
				return
			}
			found[i] = names
		}()
	}
	wg.Wait()

	now := d.now()
	seen := make(map[string]struct{})
	var hosts []*shared.DiscoveredHost
	for i, names := range found {
		for _, name := range names {
			name = Normalize(name)
			if !InScope(name, domain) {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			hosts = append(hosts, &shared.DiscoveredHost{
				Hostname:     name,
				Source:       d.sources[i].Name(),
				Addresses:    []string{},
				DiscoveredAt: now,
			})
		}
		d.logger.Debug().Str("source", d.sources[i].Name()).Int("names", len(names)).Msg("discovery source done")
	}
	return hosts
}

// Lowercase, trimmed and without the trailing dot of a FQDN
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".")
}

// Whether a normalized name belongs to the domain. Wildcards never do.
func InScope(name, domain string) bool {
	if name == "" || strings.Contains(name, "*") {
		return false
	}
	return name == domain || strings.HasSuffix(name, "."+domain)
}

// Package resolver verifies discovered hostnames against public
// recursive resolvers.
package resolver

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/pkg/cache"
	"github.com/vigil/pkg/gate"
	"github.com/vigil/shared"
)

var DefaultServers = []string{"8.8.8.8:53", "1.1.1.1:53"}

const (
	DEFAULT_TTL     = time.Hour
	DEFAULT_TIMEOUT = 5 * time.Second
)

var ErrNoRecords = errors.New("no records")

type Options struct {
	// Resolvers queried in order, host:port
	Servers []string
	Timeout time.Duration
	Gate    *gate.Gate
	Cache   *cache.Cache[string, []string]
	Logger  zerolog.Logger
}

type Resolver struct {
	servers []string
	client  *dns.Client
	gate    *gate.Gate
	cache   *cache.Cache[string, []string]
	logger  zerolog.Logger
}

func New(opts Options) (*Resolver, error) {
	if len(opts.Servers) == 0 {
		opts.Servers = DefaultServers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DEFAULT_TIMEOUT
	}
	if opts.Gate == nil {
		opts.Gate = gate.New(20)
	}
	if opts.Cache == nil {
		c, err := cache.New[string, []string](4096, DEFAULT_TTL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create resolver cache")
		}
		opts.Cache = c
	}

	return &Resolver{
		servers: opts.Servers,
		client:  &dns.Client{Net: "udp", Timeout: opts.Timeout},
		gate:    opts.Gate,
		cache:   opts.Cache,
		logger:  opts.Logger,
	}, nil
}

// Resolves every host under the gate, filling its addresses in place.
// Hosts that do not resolve are left out of the result.
func (r *Resolver) Resolve(ctx context.Context, hosts []*shared.DiscoveredHost) []*shared.DiscoveredHost {
	return gate.Settle(ctx, r.gate, hosts, func(ctx context.Context, h *shared.DiscoveredHost) (*shared.DiscoveredHost, error) {
		addrs, err := r.Lookup(ctx, h.Hostname)
		if err != nil {
			return nil, err
		}
		h.Addresses = addrs
		return h, nil
	}, func(h *shared.DiscoveredHost, err error) {
		r.logger.Debug().Err(err).Str("host", h.Hostname).Msg("dropping unresolved host")
	})
}

// Returns the IPv4 addresses of the host or, when there are none, its
// IPv6 addresses. Successful answers are cached.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]string, error) {
	return r.cache.GetOrCompute(host, func() ([]string, error) {
		addrs, err := r.query(ctx, host, dns.TypeA)
		if err == nil {
			return addrs, nil
		}

		addrs, err6 := r.query(ctx, host, dns.TypeAAAA)
		if err6 != nil {
			return nil, errors.Wrapf(err6, "failed to resolve %s", host)
		}
		return addrs, nil
	})
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		in, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = errors.Wrapf(err, "query to %s failed", server)
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			return nil, errors.Errorf("%s answered %s", server, dns.RcodeToString[in.Rcode])
		}
		return addresses(in, qtype)
	}
	return nil, lastErr
}

func addresses(in *dns.Msg, qtype uint16) ([]string, error) {
	var addrs []string
	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				addrs = append(addrs, rec.A.String())
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				addrs = append(addrs, rec.AAAA.String())
			}
		}
	}
	if len(addrs) == 0 {
		return nil, errors.Wrap(ErrNoRecords, dns.TypeToString[qtype])
	}
	return addrs, nil
}

package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrTooManyRedirects = errors.New("too many redirects")

type response struct {
	status        int
	header        http.Header
	body          []byte
	contentLength int64
	chain         []string
	elapsed       time.Duration
}

// A client that dials the target address whenever the target hostname
// is requested. Certificates are not verified here; the inspector
// judges them separately.
func (p *Prober) client(t Target) *http.Client {
	dialer := &net.Dialer{Timeout: p.opts.Timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err == nil && strings.EqualFold(host, t.Hostname) {
				addr = net.JoinHostPort(t.Address, port)
			}
			return dialer.DialContext(ctx, network, addr)
		},
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: p.opts.Timeout,
		DisableKeepAlives:   true,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Follows redirects by hand, up to the configured number of hops
func (p *Prober) fetch(ctx context.Context, client *http.Client, raw string) (*response, error) {
	current, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %s", raw)
	}

	start := time.Now()
	chain := []string{}
	for {
		res, loc, err := p.get(ctx, client, current.String(), p.opts.Timeout, p.opts.BodyLimit)
		if err != nil {
			return nil, err
		}

		if loc == "" {
			res.chain = chain
			res.elapsed = time.Since(start)
			return res, nil
		}

		if len(chain) >= p.opts.MaxRedirects {
			return nil, errors.Wrapf(ErrTooManyRedirects, "stopped at %s", current)
		}
		next, err := current.Parse(loc)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid location %q", loc)
		}
		chain = append(chain, next.String())
		current = next
	}
}

// Issues a single request bounded by timeout. For redirects, the body is
// discarded and the location is returned.
func (p *Prober) get(ctx context.Context, client *http.Client, u string, timeout time.Duration, limit int64) (*response, string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.Wrapf(err, "request to %s failed", u)
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); isRedirect(resp.StatusCode) && loc != "" {
		return nil, loc, nil
	}

	body, err := readLimited(resp, limit)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to read body of %s", u)
	}

	length := resp.ContentLength
	if length < 0 {
		length = int64(len(body))
	}

	return &response{
		status:        resp.StatusCode,
		header:        resp.Header,
		body:          body,
		contentLength: length,
	}, "", nil
}

func readLimited(resp *http.Response, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// Lowercase names, multiple values joined
func normalizeHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

package probe

import (
	"bytes"
	"context"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/vigil/pkg/gate"
	"github.com/vigil/shared"
)

const (
	ENDPOINT_TIMEOUT    = 2 * time.Second
	ENDPOINT_BODY_LIMIT = 64 << 10
)

var DefaultPaths = []string{
	"/",
	"/login",
	"/admin",
	"/api",
	"/status",
	"/health",
	"/.git",
	"/robots.txt",
	"/sitemap.xml",
}

var listingMarkers = [][]byte{
	[]byte("Index of /"),
	[]byte("Parent Directory"),
}

// Adds a trailing slash variant of every path and .php/.asp variants of
// every script-like path. The root is always included first.
func ExpandPaths(base []string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	add("/")
	var paths []string
	for _, p := range base {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths = append(paths, p)
		add(p)
	}

	for _, p := range paths {
		if !strings.HasSuffix(p, "/") {
			add(p + "/")
		}
		if scriptLike(p) {
			add(p + ".php")
			add(p + ".asp")
		}
	}
	return out
}

// A path is script-like when its last element has no extension and is not
// a dotfile. Dotfiles (.git, .env) are never served as scripts.
func scriptLike(p string) bool {
	if p == "/" || strings.HasSuffix(p, "/") {
		return false
	}
	base := path.Base(p)
	return !strings.HasPrefix(base, ".") && path.Ext(base) == ""
}

func (p *Prober) endpointTimeout() time.Duration {
	return min(ENDPOINT_TIMEOUT, p.opts.Timeout)
}

// Checks every expanded path without following redirects. Paths that
// cannot be reached are kept with status 0. Each attempt gets its own
// gate, so hosts never queue behind each other's checks.
func (p *Prober) probeEndpoints(ctx context.Context, client *http.Client, t Target) []shared.EndpointCheck {
	g := gate.New(p.opts.EndpointConcurrency)
	checks := gate.Settle(ctx, g, p.paths, func(ctx context.Context, endpoint string) (*shared.EndpointCheck, error) {
		return p.checkEndpoint(ctx, client, t, endpoint), nil
	}, func(endpoint string, err error) {
		p.opts.Logger.Debug().Err(err).Str("path", endpoint).Msg("endpoint check failed")
	})

	out := make([]shared.EndpointCheck, 0, len(checks))
	for _, c := range checks {
		out = append(out, *c)
	}

	// keep the root even when the gate gave up on it
	if !slices.ContainsFunc(out, func(c shared.EndpointCheck) bool { return c.Path == "/" }) {
		out = append([]shared.EndpointCheck{{Path: "/"}}, out...)
	}

	slices.SortStableFunc(out, func(a, b shared.EndpointCheck) int {
		switch {
		case a.Exists == b.Exists:
			return 0
		case a.Exists:
			return -1
		}
		return 1
	})
	return out
}

func (p *Prober) checkEndpoint(ctx context.Context, client *http.Client, t Target, endpoint string) *shared.EndpointCheck {
	check := &shared.EndpointCheck{Path: endpoint}

	u := t.url(endpoint)
	ctx, cancel := context.WithTimeout(ctx, p.endpointTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return check
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return check
	}
	defer resp.Body.Close()

	check.StatusCode = resp.StatusCode
	check.Exists = resp.StatusCode < 400
	if !check.Exists {
		return check
	}

	body, _ := readLimited(resp, ENDPOINT_BODY_LIMIT)
	check.Note = endpointNote(endpoint, body)
	return check
}

func endpointNote(endpoint string, body []byte) string {
	for _, m := range listingMarkers {
		if bytes.Contains(body, m) {
			return shared.NOTE_DIRECTORY_LISTING
		}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	switch strings.TrimSuffix(endpoint, "/") {
	case "/robots.txt":
		return shared.NOTE_ROBOTS
	case "/sitemap.xml":
		return shared.NOTE_SITEMAP
	}
	return ""
}

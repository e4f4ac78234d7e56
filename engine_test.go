package vigil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/vigil/pkg/discovery"
	"github.com/vigil/shared"
)

type staticSource []string

func (s staticSource) Name() string { return shared.SOURCE_WORDLIST }

func (s staticSource) Enumerate(context.Context, string) ([]string, error) {
	return s, nil
}

// Answers A queries for the given names with the loopback address
func startDNS(t *testing.T, names ...string) string {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
		q := r.Question[0]
		m := new(dns.Msg)
		m.SetReply(r)
		if q.Qtype == dns.TypeA && slices.Contains(names, q.Name) {
			rr, _ := dns.NewRR(fmt.Sprintf("%s 60 IN A 127.0.0.1", q.Name))
			m.Answer = append(m.Answer, rr)
		} else {
			m.Rcode = dns.RcodeNameError
		}
		w.WriteMsg(m)
	})

	started := make(chan struct{})
	srv := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go srv.ActivateAndServe()
	<-started
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

// A complete scan against local dns and http servers
func newTestEngine(t *testing.T, exts ...shared.Extension) *Engine {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "<title>Welcome</title>")
	}))
	t.Cleanup(srv.Close)
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)

	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/data/signatures/admin.vigil",
		[]byte(`rule admin_exposed (host: "^admin\\."; status: 200; score: 90; category: "exposed-admin")`), 0644)

	settings := DefaultSettings()
	settings.Resolvers = []string{startDNS(t, "www.example.com.", "admin.example.com.")}
	settings.Ports = map[string]int{"http": p}
	settings.Endpoints = []string{}

	conf := &Configuration{Paths: testPaths, Settings: settings, fs: fs}
	eng, err := NewEngine(conf,
		WithLogger(zerolog.Nop()),
		WithSources(staticSource{"www.example.com", "admin.example.com", "ghost.example.com"}),
		WithExtensions(exts...),
	)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng
}

func TestEngineRun(t *testing.T) {
	ext := &recordingExtension{name: "recorder"}
	eng := newTestEngine(t, ext)

	report, err := eng.Run(context.Background(), "Example.com.")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if report.Domain != "example.com" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("unexpected report header %+v", report)
	}

	if len(report.Hosts) != 2 {
		t.Fatalf("expected the unresolved host to be dropped, got %d hosts", len(report.Hosts))
	}
	if len(report.Probes) != 2 || len(report.Classified) != 2 {
		t.Fatalf("expected 2 probes and 2 classified records, got %d and %d", len(report.Probes), len(report.Classified))
	}

	byHost := make(map[string]shared.ClassifiedRecord)
	for _, rec := range report.Classified {
		byHost[rec.Hostname] = rec
	}
	admin := byHost["admin.example.com"]
	if admin.RiskScore != 90 || !slices.Contains(admin.Categories, "exposed-admin") || !slices.Contains(admin.Categories, "admin-panel") {
		t.Errorf("unexpected admin classification %v %d", admin.Categories, admin.RiskScore)
	}
	if www := byHost["www.example.com"]; www.Title != "Welcome" || slices.Contains(www.Categories, "exposed-admin") {
		t.Errorf("unexpected www record %+v", www)
	}

	if len(ext.subdomains) != 3 || len(ext.probes) != 2 || ext.completed != 2 {
		t.Errorf("unexpected hook calls: %d subdomains, %d probes, %d completed", len(ext.subdomains), len(ext.probes), ext.completed)
	}

	stored, err := eng.Store().TopRisks(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 2 || stored[0].Hostname != "admin.example.com" {
		t.Errorf("unexpected stored results %v", stored)
	}
}

// Endpoint limits apply per host, so two hosts check /wait at the same time
// even with a limit of one
func TestEngineEndpointLimitPerHost(t *testing.T) {
	var mu sync.Mutex
	inflight, peak := 0, 0
	both := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, "<title>Welcome</title>")
			return
		case "/wait":
		default:
			http.NotFound(w, r)
			return
		}

		mu.Lock()
		inflight++
		peak = max(peak, inflight)
		if inflight == 2 {
			close(both)
		}
		mu.Unlock()

		// held until the other host asks for the same path
		select {
		case <-both:
		case <-time.After(time.Second):
		}

		mu.Lock()
		inflight--
		mu.Unlock()
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)

	settings := DefaultSettings()
	settings.Resolvers = []string{startDNS(t, "a.example.com.", "b.example.com.")}
	settings.Ports = map[string]int{"http": p}
	settings.Endpoints = []string{"/wait"}
	settings.EndpointConcurrency = 1

	conf := &Configuration{Paths: testPaths, Settings: settings, fs: afero.NewMemMapFs()}
	eng, err := NewEngine(conf,
		WithLogger(zerolog.Nop()),
		WithSources(staticSource{"a.example.com", "b.example.com"}),
	)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer eng.Close()

	report, err := eng.Run(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Classified) != 2 {
		t.Fatalf("expected 2 classified records, got %d", len(report.Classified))
	}

	mu.Lock()
	defer mu.Unlock()
	if peak != 2 {
		t.Errorf("expected endpoint checks of both hosts to overlap, peak was %d", peak)
	}
}

func TestEngineRunFailingExtension(t *testing.T) {
	eng := newTestEngine(t, &recordingExtension{name: "broken", panic: true})

	report, err := eng.Run(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(report.Classified) != 2 {
		t.Errorf("expected hooks not to affect the scan, got %d records", len(report.Classified))
	}
}

func TestEngineRunEmptyDomain(t *testing.T) {
	eng := newTestEngine(t)
	if _, err := eng.Run(context.Background(), " . "); err != ErrEmptyDomain {
		t.Errorf("expected %v, got %v", ErrEmptyDomain, err)
	}
}

func TestNewEngineBrokenSignature(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/data/signatures/broken.vigil", []byte(`rule broken (`), 0644)

	conf := &Configuration{Paths: testPaths, Settings: DefaultSettings(), fs: fs}
	if _, err := NewEngine(conf, WithSources(discovery.Source(staticSource{}))); err == nil {
		t.Error("expected a broken signature to fail the engine")
	}
}

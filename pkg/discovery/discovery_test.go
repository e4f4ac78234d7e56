package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/vigil/shared"
)

type staticSource struct {
	name  string
	names []string
	err   error
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Enumerate(context.Context, string) ([]string, error) {
	return s.names, s.err
}

type discoverTester struct {
	sources  []Source
	expected map[string]string
}

func (t *discoverTester) runTest(test *testing.T, name string) {
	d := New(t.sources)
	hosts := d.Discover(context.Background(), "Example.com.")

	got := make(map[string]string)
	for _, h := range hosts {
		if _, ok := got[h.Hostname]; ok {
			test.Errorf("[%s] duplicated hostname %s", name, h.Hostname)
		}
		if strings.Contains(h.Hostname, "*") {
			test.Errorf("[%s] wildcard hostname %s", name, h.Hostname)
		}
		got[h.Hostname] = h.Source
	}

	if !reflect.DeepEqual(got, t.expected) {
		test.Errorf("[%s] expected %v, got %v", name, t.expected, got)
	}
}

var discoverTests = map[string]*discoverTester{
	"dedup-first-source-wins": {
		sources: []Source{
			&staticSource{name: shared.SOURCE_CT, names: []string{"www.example.com", "API.example.com."}},
			&staticSource{name: shared.SOURCE_WORDLIST, names: []string{"www.example.com", "mail.example.com", "api.example.com"}},
		},
		expected: map[string]string{
			"www.example.com":  shared.SOURCE_CT,
			"api.example.com":  shared.SOURCE_CT,
			"mail.example.com": shared.SOURCE_WORDLIST,
		},
	},
	"wildcards-and-foreign": {
		sources: []Source{
			&staticSource{name: shared.SOURCE_CT, names: []string{"*.example.com", "a.*.example.com", "example.org", "badexample.com", "example.com"}},
		},
		expected: map[string]string{
			"example.com": shared.SOURCE_CT,
		},
	},
	"failing-source": {
		sources: []Source{
			&staticSource{name: shared.SOURCE_CT, err: errors.New("unavailable")},
			&staticSource{name: shared.SOURCE_WORDLIST, names: []string{"dev.example.com"}},
		},
		expected: map[string]string{
			"dev.example.com": shared.SOURCE_WORDLIST,
		},
	},
	"all-failing": {
		sources: []Source{
			&staticSource{name: shared.SOURCE_CT, err: errors.New("unavailable")},
		},
		expected: map[string]string{},
	},
}

func TestDiscover(t *testing.T) {
	for tname, cfg := range discoverTests {
		cfg.runTest(t, tname)
	}
}

func TestCertificateTransparency(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"name_value": "www.example.com\n*.example.com\nMail.Example.com"},
			{"name_value": 42},
			"garbage",
			{"common_name": "x.example.com"},
			{"name_value": "other.org\nexample.com"}
		]`))
	}))
	defer srv.Close()

	src := NewCertificateTransparency(srv.URL, 0, srv.Client())
	names, err := src.Enumerate(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query != "%.example.com" {
		t.Errorf("unexpected query %q", query)
	}

	expected := []string{"www.example.com", "mail.example.com", "example.com"}
	if !reflect.DeepEqual(names, expected) {
		t.Errorf("expected %v, got %v", expected, names)
	}
}

func TestCertificateTransparencyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCertificateTransparency(srv.URL, 0, srv.Client())
	if _, err := src.Enumerate(context.Background(), "example.com"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}

	// and the discoverer degrades to nothing
	hosts := New([]Source{src}).Discover(context.Background(), "example.com")
	if len(hosts) != 0 {
		t.Errorf("expected no hosts, got %d", len(hosts))
	}
}

type wordlistTester struct {
	content  string
	path     string
	expected []string
	fails    bool
}

func (t *wordlistTester) runTest(test *testing.T, name string) {
	fs := afero.NewMemMapFs()
	if t.content != "" {
		afero.WriteFile(fs, "/etc/words.txt", []byte(t.content), 0644)
	}

	src := NewWordlist(fs, t.path)
	names, err := src.Enumerate(context.Background(), "example.com")
	if t.fails {
		if err == nil {
			test.Errorf("[%s] expected error", name)
		}
		return
	}
	if err != nil {
		test.Errorf("[%s] unexpected error: %v", name, err)
		return
	}
	if t.expected != nil && !reflect.DeepEqual(names, t.expected) {
		test.Errorf("[%s] expected %v, got %v", name, t.expected, names)
	}
	if t.expected == nil && len(names) == 0 {
		test.Errorf("[%s] expected built-in labels", name)
	}
}

var wordlistTests = map[string]*wordlistTester{
	"file": {
		content:  "www\n\n# comment\n  api  \nDev\n",
		path:     "/etc/words.txt",
		expected: []string{"www.example.com", "api.example.com", "dev.example.com"},
	},
	"missing": {
		path:  "/etc/missing.txt",
		fails: true,
	},
	"builtin": {},
}

func TestWordlist(t *testing.T) {
	for tname, cfg := range wordlistTests {
		cfg.runTest(t, tname)
	}
}

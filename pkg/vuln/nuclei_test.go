package vuln

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

const output = `{"template-id":"git-config","info":{"name":"Git Config Disclosure","severity":"medium","tags":["config","git","exposure"]},"host":"https://a.example.com","matched-at":"https://a.example.com/.git/config"}
[INF] not json

{"template-id":"tech-detect","info":{"name":"Wappalyzer","severity":"info","tags":"tech, detect"},"host":"http://b.example.com"}
{"info":{"name":"no template"}}
`

func TestParseFindings(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	findings, err := ParseFindings(strings.NewReader(output), now)
	if err != nil {
		t.Fatal(err)
	}

	expected := []shared.Finding{
		{
			TemplateID: "git-config",
			Name:       "Git Config Disclosure",
			Severity:   "medium",
			Target:     "https://a.example.com/.git/config",
			Tags:       []string{"config", "git", "exposure"},
			DetectedAt: now,
		},
		{
			TemplateID: "tech-detect",
			Name:       "Wappalyzer",
			Severity:   "info",
			Target:     "http://b.example.com",
			Tags:       []string{"tech", "detect"},
			DetectedAt: now,
		},
	}
	if !reflect.DeepEqual(findings, expected) {
		t.Errorf("expected %+v, got %+v", expected, findings)
	}
}

type scanTester struct {
	script   string
	bin      string
	expected int
}

func (t *scanTester) runTest(test *testing.T, name string) {
	bin := t.bin
	if t.script != "" {
		bin = filepath.Join(test.TempDir(), "nuclei")
		if err := os.WriteFile(bin, []byte(t.script), 0755); err != nil {
			test.Fatal(err)
		}
	}

	n := NewNuclei(bin, zerolog.Nop())
	n.Timeout = 5 * time.Second
	findings := n.Scan(context.Background(), []string{"https://a.example.com"})
	if len(findings) != t.expected {
		test.Errorf("[%s] expected %d findings, got %+v", name, t.expected, findings)
	}
}

var scanTests = map[string]*scanTester{
	"disabled": {},
	"missing":  {bin: "/nonexistent/nuclei"},
	"output": {
		script:   "#!/bin/sh\ncat > /dev/null\ncat <<'JSON'\n" + output + "JSON\n",
		expected: 2,
	},
	"failing": {
		script: "#!/bin/sh\necho boom >&2\nexit 3\n",
	},
}

func TestScan(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
	for tname, cfg := range scanTests {
		cfg.runTest(t, tname)
	}
}

// Package vuln runs an external template scanner against live URLs.
package vuln

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

const DEFAULT_TIMEOUT = 10 * time.Minute

type Nuclei struct {
	// Path to the nuclei binary. Empty disables scanning.
	Bin      string
	Timeout  time.Duration
	Severity []string
	Tags     []string
	Logger   zerolog.Logger
	now      func() time.Time
}

func NewNuclei(bin string, logger zerolog.Logger) *Nuclei {
	return &Nuclei{Bin: bin, Timeout: DEFAULT_TIMEOUT, Logger: logger, now: time.Now}
}

func (n *Nuclei) Enabled() bool {
	return n != nil && n.Bin != ""
}

func (n *Nuclei) args() []string {
	args := []string{"-jsonl", "-silent", "-no-color"}
	if len(n.Severity) > 0 {
		args = append(args, "-severity", strings.Join(n.Severity, ","))
	}
	if len(n.Tags) > 0 {
		args = append(args, "-tags", strings.Join(n.Tags, ","))
	}
	return args
}

// Scan feeds the urls to nuclei and collects its findings. The scanner is
// optional: a missing binary or a failed run yields nothing.
func (n *Nuclei) Scan(ctx context.Context, urls []string) []shared.Finding {
	if !n.Enabled() || len(urls) == 0 {
		return nil
	}

	stdout, err := n.run(ctx, strings.Join(urls, "\n")+"\n")
	if err != nil {
		n.Logger.Warn().Err(err).Str("bin", n.Bin).Msg("vulnerability scan failed")
		return nil
	}

	now := time.Now
	if n.now != nil {
		now = n.now
	}
	findings, err := ParseFindings(bytes.NewReader(stdout), now().UTC())
	if err != nil {
		n.Logger.Warn().Err(err).Msg("failed to read scanner output")
	}
	return findings
}

func (n *Nuclei) run(ctx context.Context, stdin string) ([]byte, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, n.Bin, n.args()...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(err, "command timed out")
		}
		return nil, errors.Wrapf(err, "command failed: %s", strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

type result struct {
	TemplateID string `json:"template-id"`
	Info       struct {
		Name     string `json:"name"`
		Severity string `json:"severity"`
		Tags     tags   `json:"tags"`
	} `json:"info"`
	Host    string `json:"host"`
	Matched string `json:"matched-at"`
}

// Tags come either as a list or as a comma separated string
type tags []string

func (t *tags) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*t = list
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, tag := range strings.Split(s, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			*t = append(*t, tag)
		}
	}
	return nil
}

// Reads one JSON result per line. Lines that do not parse are skipped.
func ParseFindings(r io.Reader, detected time.Time) ([]shared.Finding, error) {
	var findings []shared.Finding

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var res result
		if err := json.Unmarshal(line, &res); err != nil || res.TemplateID == "" {
			continue
		}

		target := res.Matched
		if target == "" {
			target = res.Host
		}
		findings = append(findings, shared.Finding{
			TemplateID: res.TemplateID,
			Name:       res.Info.Name,
			Severity:   res.Info.Severity,
			Target:     target,
			Tags:       []string(res.Info.Tags),
			DetectedAt: detected,
		})
	}
	return findings, scanner.Err()
}

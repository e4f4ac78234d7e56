package discovery

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/vigil/shared"
)

//go:embed wordlist.txt
var defaultWordlist []byte

// Expands a list of labels into hostnames under the domain. Without a
// path, the built-in list is used.
type Wordlist struct {
	fs   afero.Fs
	path string
}

func NewWordlist(fs afero.Fs, path string) *Wordlist {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Wordlist{fs: fs, path: path}
}

func (s *Wordlist) Name() string {
	return shared.SOURCE_WORDLIST
}

func (s *Wordlist) Enumerate(ctx context.Context, domain string) ([]string, error) {
	labels, err := s.labels()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(labels))
	for _, label := range labels {
		names = append(names, label+"."+domain)
	}
	return names, nil
}

func (s *Wordlist) labels() ([]string, error) {
	if s.path == "" {
		return ReadLabels(bytes.NewReader(defaultWordlist))
	}

	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open wordlist %s", s.path)
	}
	defer f.Close()
	return ReadLabels(f)
}

// Reads one label per line, skipping blank and # lines
func ReadLabels(r io.Reader) ([]string, error) {
	var labels []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		labels = append(labels, strings.Trim(strings.ToLower(line), "."))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read wordlist")
	}
	return labels, nil
}

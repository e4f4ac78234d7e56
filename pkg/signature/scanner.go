package signature

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const S_EXT = ".vigil"

type scanner struct {
	fs      afero.Fs
	allowed []string
	parser  *Parser
}

func (s *scanner) slugify(fpath string) string {
	return strings.TrimSuffix(filepath.Base(fpath), S_EXT)
}

// Signature files under the allowed directories whose name matches any
// of the patterns
func (s *scanner) search(patterns []string) ([]string, error) {
	var fpaths []string
	search := func(fpath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(fpath) != S_EXT {
			return nil
		}

		name := s.slugify(fpath)
		for _, pattern := range patterns {
			ok, err := filepath.Match(pattern, name)
			if err != nil {
				return errors.Wrapf(err, "invalid pattern %s", pattern)
			}
			if ok {
				fpaths = append(fpaths, fpath)
				return nil
			}
		}
		return nil
	}

	for _, root := range s.allowed {
		if ok, _ := afero.DirExists(s.fs, root); !ok {
			continue
		}
		if err := afero.Walk(s.fs, root, search); err != nil {
			return nil, errors.Wrapf(err, "failed to search %s", root)
		}
	}
	slices.Sort(fpaths)
	return slices.Compact(fpaths), nil
}

func (s *scanner) parse(fpath string) (*Signature, error) {
	f, err := s.fs.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open signature file")
	}
	defer f.Close()
	return s.parser.Parse(s.slugify(fpath), f)
}

// Loads the signatures found in the allowed directories. Without
// patterns, every signature is loaded.
func Load(fs afero.Fs, allowed []string, patterns ...string) ([]*Signature, error) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	s := &scanner{fs: fs, allowed: allowed, parser: NewParser()}
	fpaths, err := s.search(patterns)
	if err != nil {
		return nil, err
	}

	var sigs []*Signature
	for _, fpath := range fpaths {
		sig, err := s.parse(fpath)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// Parses a single file, reporting the first error
func Check(fs afero.Fs, fpath string) (*Signature, error) {
	s := &scanner{fs: fs, parser: NewParser()}
	return s.parse(fpath)
}

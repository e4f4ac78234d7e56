// Package signature loads declarative classification rules from .vigil
// files. A loaded signature acts as a classify hook.
package signature

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/vigil/shared"
)

// Conditions are combined with AND. Nil conditions are not checked.
type Rule struct {
	Name string

	Host   *regexp.Regexp
	Status int
	// Any existing endpoint
	Path   *regexp.Regexp
	Header string
	// Matched against Header
	Value *regexp.Regexp
	Title *regexp.Regexp

	Categories []string
	Score      int
	Note       string
}

func (r *Rule) hasCondition() bool {
	return r.Host != nil || r.Status != 0 || r.Path != nil || r.Header != "" || r.Title != nil
}

func (r *Rule) Match(rec *shared.ProbeRecord) bool {
	if r.Host != nil && !r.Host.MatchString(rec.Hostname) {
		return false
	}
	if r.Status != 0 && r.Status != rec.StatusCode {
		return false
	}
	if r.Title != nil && !r.Title.MatchString(rec.Title) {
		return false
	}
	if r.Header != "" {
		v, ok := rec.Headers[strings.ToLower(r.Header)]
		if !ok || (r.Value != nil && !r.Value.MatchString(v)) {
			return false
		}
	}
	if r.Path != nil {
		return slices.ContainsFunc(rec.Endpoints, func(e shared.EndpointCheck) bool {
			return e.Exists && r.Path.MatchString(e.Path)
		})
	}
	return true
}

type Signature struct {
	name  string
	rules []*Rule
}

func (s *Signature) Name() string {
	return "signature:" + s.name
}

func (s *Signature) Rules() []*Rule {
	return s.rules
}

// Merges every matching rule into one classification
func (s *Signature) OnClassify(_ context.Context, rec shared.ProbeRecord) (*shared.Classification, error) {
	var c *shared.Classification
	var notes []string
	for _, r := range s.rules {
		if !r.Match(&rec) {
			continue
		}
		if c == nil {
			c = &shared.Classification{}
		}
		c.Categories = append(c.Categories, r.Categories...)
		c.RiskScore = max(c.RiskScore, r.Score)
		if r.Note != "" {
			notes = append(notes, r.Note)
		}
	}
	if c != nil {
		c.Notes = strings.Join(notes, "; ")
	}
	return c, nil
}

// Package classifier scores probe records from the evidence they carry.
// Rules never touch the network. Every rule or hook that fires contributes
// a category, a score and a note; the record keeps the highest score.
package classifier

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/vigil/shared"
)

const NO_NOTES = "no notable risk indicators"

type verdict struct {
	categories []string
	score      int
	notes      []string
}

func (v *verdict) add(category string, score int, note string) {
	if category != "" && !slices.Contains(v.categories, category) {
		v.categories = append(v.categories, category)
	}
	v.score = max(v.score, score)
	if note != "" {
		v.notes = append(v.notes, note)
	}
}

func (v *verdict) has(category string) bool {
	return slices.Contains(v.categories, category)
}

type Classifier struct {
	rules  []rule
	hooks  []shared.ClassifyHook
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Classifier)

func WithHooks(hooks ...shared.ClassifyHook) Option {
	return func(c *Classifier) { c.hooks = append(c.hooks, hooks...) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

func New(opts ...Option) *Classifier {
	c := &Classifier{
		rules:  builtinRules,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Classifier) ClassifyAll(ctx context.Context, records []*shared.ProbeRecord) []*shared.ClassifiedRecord {
	out := make([]*shared.ClassifiedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, c.Classify(ctx, rec))
	}
	return out
}

func (c *Classifier) Classify(ctx context.Context, rec *shared.ProbeRecord) *shared.ClassifiedRecord {
	v := &verdict{}
	now := c.now()
	for _, r := range c.rules {
		r(rec, now, v)
	}

	for _, h := range c.hooks {
		res, err := c.invoke(ctx, h, rec)
		if err != nil {
			c.logger.Warn().Err(err).Str("hook", h.Name()).Str("host", rec.Hostname).Msg("classify hook failed")
			continue
		}
		if res == nil {
			continue
		}
		for _, cat := range res.Categories {
			v.add(cat, 0, "")
		}
		v.add("", res.RiskScore, res.Notes)
	}

	categories := v.categories
	if len(categories) == 0 {
		categories = []string{shared.STANDARD_CATEGORY}
	}
	notes := NO_NOTES
	if len(v.notes) > 0 {
		notes = strings.Join(v.notes, "; ")
	}

	return &shared.ClassifiedRecord{
		ProbeRecord: rec.Clone(),
		Categories:  categories,
		RiskScore:   min(max(v.score, 0), 100),
		Notes:       notes,
	}
}

// Runs a hook, turning panics into errors
func (c *Classifier) invoke(ctx context.Context, h shared.ClassifyHook, rec *shared.ProbeRecord) (res *shared.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("hook panicked: %v", r)
		}
	}()
	return h.OnClassify(ctx, rec.Clone())
}

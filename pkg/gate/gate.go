// Package gate bounds the number of tasks running at the same time.
// Waiting tasks are admitted in arrival order.
package gate

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var ErrPanic = errors.New("task panicked")

type Gate struct {
	sem  *semaphore.Weighted
	size int
}

func New(size int) *Gate {
	if size < 1 {
		size = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size)), size: size}
}

func (g *Gate) Size() int {
	return g.size
}

// Waits for a free slot and runs the task. The slot is released when
// the task returns, fails or panics. Panics are returned as ErrPanic.
func (g *Gate) Run(ctx context.Context, task func(context.Context) error) (err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire slot")
	}
	defer g.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPanic, "%v", r)
		}
	}()
	return task(ctx)
}

func Do[T any](ctx context.Context, g *Gate, task func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.Run(ctx, func(ctx context.Context) error {
		v, err := task(ctx)
		out = v
		return err
	})
	return out, err
}

// Runs fn for every item under the gate and waits for all of them.
// Returns the results that are not nil, in the order of the items.
// Failed items are reported to onErr, if set, and never stop the rest.
func Settle[T any, R any](ctx context.Context, g *Gate, items []T, fn func(context.Context, T) (*R, error), onErr func(T, error)) []*R {
	results := make([]*R, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := Do(ctx, g, func(ctx context.Context) (*R, error) {
				return fn(ctx, item)
			})
			if err != nil {
				if onErr != nil {
					onErr(item, err)
				}
				return
			}
			results[i] = r
		}()
	}
	wg.Wait()

	settled := results[:0]
	for _, r := range results {
		if r != nil {
			settled = append(settled, r)
		}
	}
	return settled
}

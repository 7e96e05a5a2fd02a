// Package cron runs named functions on cron cadences. Job bodies stay free of
// any scheduling concern; the runner only decides when to call them.
package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aptible/supercronic/cronexpr"
	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/pkg/logger"
)

type Func func(ctx context.Context) error

type entry struct {
	name string
	spec string
	expr *cronexpr.Expression
	fn   Func
}

type Runner struct {
	clock    clockwork.Clock
	location *time.Location
	logger   *logger.Logger
	entries  []entry
	wg       sync.WaitGroup
}

func NewRunner(clock clockwork.Clock, location *time.Location, log *logger.Logger) *Runner {
	if location == nil {
		location = time.UTC
	}
	return &Runner{clock: clock, location: location, logger: log}
}

// Add registers fn under spec (5 to 7 field cron syntax).
func (r *Runner) Add(name, spec string, fn Func) error {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q for %s: %w", spec, name, err)
	}
	r.entries = append(r.entries, entry{name: name, spec: spec, expr: expr, fn: fn})
	return nil
}

// Next reports when name fires next after now, or the zero time.
func (r *Runner) Next(name string) time.Time {
	now := r.clock.Now().In(r.location)
	for _, e := range r.entries {
		if e.name == name {
			return e.expr.Next(now)
		}
	}
	return time.Time{}
}

// Start launches one loop per entry. Loops end when ctx is cancelled; Wait
// blocks until they have.
func (r *Runner) Start(ctx context.Context) {
	for _, e := range r.entries {
		r.wg.Add(1)
		go r.loop(ctx, e)
		r.logger.Info("cron job registered", "job", e.name, "spec", e.spec)
	}
}

func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, e entry) {
	defer r.wg.Done()
	for {
		now := r.clock.Now().In(r.location)
		next := e.expr.Next(now)
		if next.IsZero() {
			r.logger.Warn(nil, "cron spec has no future run", "job", e.name)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(next.Sub(now)):
		}

		r.run(ctx, e)
	}
}

// run isolates one invocation so a failure or panic never ends the loop.
func (r *Runner) run(ctx context.Context, e entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error(fmt.Errorf("panic: %v", rec), "cron job panicked", "job", e.name)
		}
	}()
	if err := e.fn(ctx); err != nil {
		r.logger.Warn(err, "cron job failed", "job", e.name)
	}
}

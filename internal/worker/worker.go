package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/jwalitptl/election-api/internal/service/scheduler"
	"github.com/jwalitptl/election-api/pkg/cron"
	"github.com/jwalitptl/election-api/pkg/logger"
)

// JobWorker runs the recurring election jobs on their cron cadences.
type JobWorker struct {
	runner *cron.Runner
	logger *logger.Logger
	jobs   []string
}

// NewJobWorker registers every job that has a spec. An empty spec disables
// the job; a spec naming an unknown job is a configuration error.
func NewJobWorker(runner *cron.Runner, registry map[string]scheduler.JobFunc, specs map[string]string,
	log *logger.Logger) (*JobWorker, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		if _, ok := registry[name]; !ok {
			return nil, fmt.Errorf("unknown job %q in schedule", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	w := &JobWorker{runner: runner, logger: log}
	for _, name := range names {
		spec := specs[name]
		if spec == "" {
			log.Info("job disabled", "job", name)
			continue
		}
		fn := registry[name]
		if err := runner.Add(name, spec, func(ctx context.Context) error {
			report, err := fn(ctx)
			if err != nil {
				return err
			}
			log.Info("job finished", "job", name,
				"elections", report.Elections,
				"sent", report.Notifications.Sent,
				"failed", report.Notifications.Failed,
				"purged", report.Purged)
			return nil
		}); err != nil {
			return nil, err
		}
		w.jobs = append(w.jobs, name)
	}
	return w, nil
}

// Jobs lists the scheduled job names.
func (w *JobWorker) Jobs() []string {
	return w.jobs
}

// Start blocks until ctx is cancelled and every in-flight run returned.
func (w *JobWorker) Start(ctx context.Context) {
	w.logger.Info("job worker started", "jobs", len(w.jobs))
	w.runner.Start(ctx)
	<-ctx.Done()
	w.runner.Wait()
	w.logger.Info("job worker stopped")
}

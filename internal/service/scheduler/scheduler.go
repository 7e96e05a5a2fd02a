package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

// Broadcaster is the dispatch capability timers and jobs fan out through.
type Broadcaster interface {
	Broadcast(ctx context.Context, req model.NotificationRequest, recipientIDs []string) (model.BroadcastResult, error)
}

type SchedulerServicer interface {
	ScheduleAt(ctx context.Context, req model.NotificationRequest, recipientIDs []string, when time.Time) (*model.ScheduledNotification, error)
	Cancel(ctx context.Context, id string) (*model.ScheduledNotification, error)
	Get(ctx context.Context, id string) (*model.ScheduledNotification, error)
	List(ctx context.Context, status model.ScheduleStatus) ([]*model.ScheduledNotification, error)
}

// Scheduler arms one cancellable timer per scheduled notification.
type Scheduler struct {
	repo        repository.ScheduleRepository
	broadcaster Broadcaster
	clock       clockwork.Clock
	newID       idgen.Generator
	logger      *logger.Logger
	metrics     *metrics.Metrics

	// mu guards timers and running. Cancel holds it across its store
	// round trip so no dispatch can start mid-cancel.
	mu      sync.Mutex
	timers  map[string]clockwork.Timer
	running map[string]struct{}
}

func New(repo repository.ScheduleRepository, broadcaster Broadcaster, clock clockwork.Clock,
	newID idgen.Generator, log *logger.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		repo:        repo,
		broadcaster: broadcaster,
		clock:       clock,
		newID:       newID,
		logger:      log,
		metrics:     m,
		timers:      make(map[string]clockwork.Timer),
		running:     make(map[string]struct{}),
	}
}

var _ SchedulerServicer = (*Scheduler)(nil)

// ScheduleAt records the request and arms a timer for when. A when that is
// not in the future dispatches before returning.
func (s *Scheduler) ScheduleAt(ctx context.Context, req model.NotificationRequest, recipientIDs []string, when time.Time) (*model.ScheduledNotification, error) {
	if when.IsZero() {
		return nil, errors.Scheduling("scheduled time is required")
	}
	if req.Type == "" {
		return nil, errors.Scheduling("notification type is required")
	}
	if len(recipientIDs) == 0 {
		return nil, errors.Scheduling("at least one recipient is required")
	}

	now := s.clock.Now()
	sn := &model.ScheduledNotification{
		ID:           s.newID(),
		Request:      req,
		RecipientIDs: append([]string(nil), recipientIDs...),
		ScheduledFor: when,
		Status:       model.ScheduleStatusScheduled,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, sn); err != nil {
		return nil, fmt.Errorf("failed to record schedule: %w", err)
	}

	if !when.After(now) {
		s.logger.Info("scheduled time already passed, dispatching now", "schedule_id", sn.ID)
		s.mu.Lock()
		s.running[sn.ID] = struct{}{}
		s.mu.Unlock()
		err := s.process(context.WithoutCancel(ctx), sn.ID)
		s.release(sn.ID)
		if err != nil {
			return nil, err
		}
		return s.repo.Get(ctx, sn.ID)
	}

	s.arm(sn.ID, when.Sub(now))
	s.logger.Info("notification scheduled", "schedule_id", sn.ID, "scheduled_for", when, "recipients", len(recipientIDs))
	return sn, nil
}

func (s *Scheduler) arm(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[id] = s.clock.AfterFunc(d, func() { s.fire(id) })
	s.metrics.ScheduledPending.Set(float64(len(s.timers)))
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	_, armed := s.timers[id]
	delete(s.timers, id)
	if armed {
		s.running[id] = struct{}{}
	}
	s.metrics.ScheduledPending.Set(float64(len(s.timers)))
	s.mu.Unlock()
	if !armed {
		return
	}
	defer s.release(id)

	if err := s.process(context.Background(), id); err != nil {
		s.logger.Error(err, "scheduled notification failed", "schedule_id", id)
	}
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// process dispatches a schedule whose id the caller has marked running. The
// stored status is authoritative: anything not Scheduled is skipped.
func (s *Scheduler) process(ctx context.Context, id string) error {
	sn, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sn.Status != model.ScheduleStatusScheduled {
		return nil
	}

	result, err := s.broadcaster.Broadcast(ctx, sn.Request, sn.RecipientIDs)
	if err != nil {
		s.logger.Warn(err, "scheduled broadcast rejected", "schedule_id", id)
		result = model.BroadcastResult{Total: len(sn.RecipientIDs), Failed: len(sn.RecipientIDs)}
	}

	processedAt := s.clock.Now()
	sn.Status = model.ScheduleStatusProcessed
	sn.Result = &result
	sn.ProcessedAt = &processedAt
	if err := s.repo.Update(ctx, sn); err != nil {
		return fmt.Errorf("failed to record schedule result: %w", err)
	}
	s.logger.Info("scheduled notification processed", "schedule_id", id,
		"total", result.Total, "sent", result.Sent, "failed", result.Failed)
	return nil
}

// Cancel withdraws a pending schedule; it will never fire afterwards. A
// schedule that is recorded but not yet armed is cancelled through its stored
// status, which the timer checks before dispatching.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, running := s.running[id]; running {
		return nil, errors.InvalidState("schedule is being dispatched")
	}
	sn, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sn.Status {
	case model.ScheduleStatusCancelled:
		return nil, errors.InvalidState("schedule already cancelled")
	case model.ScheduleStatusProcessed:
		return nil, errors.InvalidState("schedule already processed")
	}

	if t, armed := s.timers[id]; armed {
		t.Stop()
		delete(s.timers, id)
		s.metrics.ScheduledPending.Set(float64(len(s.timers)))
	}

	sn.Status = model.ScheduleStatusCancelled
	if err := s.repo.Update(ctx, sn); err != nil {
		return nil, fmt.Errorf("failed to cancel schedule: %w", err)
	}
	s.logger.Info("scheduled notification cancelled", "schedule_id", id)
	return sn, nil
}

func (s *Scheduler) Get(ctx context.Context, id string) (*model.ScheduledNotification, error) {
	return s.repo.Get(ctx, id)
}

func (s *Scheduler) List(ctx context.Context, status model.ScheduleStatus) ([]*model.ScheduledNotification, error) {
	return s.repo.List(ctx, status)
}

// Restore re-arms schedules persisted by a previous process. Overdue ones
// are dispatched right away.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	pending, err := s.repo.List(ctx, model.ScheduleStatusScheduled)
	if err != nil {
		return 0, fmt.Errorf("failed to load pending schedules: %w", err)
	}

	now := s.clock.Now()
	for _, sn := range pending {
		s.mu.Lock()
		_, armed := s.timers[sn.ID]
		_, running := s.running[sn.ID]
		s.mu.Unlock()
		if armed || running {
			continue
		}
		d := sn.ScheduledFor.Sub(now)
		if d < 0 {
			d = 0
		}
		s.arm(sn.ID, d)
	}
	return len(pending), nil
}

// Stop disarms every timer without changing stored status.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.metrics.ScheduledPending.Set(0)
}

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

type NotificationRepository struct {
	mu    sync.RWMutex
	items map[string]*model.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: make(map[string]*model.Notification)}
}

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

func copyNotification(n *model.Notification) *model.Notification {
	c := *n
	if n.Metadata != nil {
		c.Metadata = make(map[string]string, len(n.Metadata))
		for k, v := range n.Metadata {
			c.Metadata[k] = v
		}
	}
	if n.SentAt != nil {
		t := *n.SentAt
		c.SentAt = &t
	}
	return &c
}

func (r *NotificationRepository) Create(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[n.ID]; exists {
		return errors.Conflict("notification already exists")
	}
	r.items[n.ID] = copyNotification(n)
	return nil
}

func (r *NotificationRepository) Get(_ context.Context, id string) (*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[id]
	if !ok {
		return nil, errors.NotFound("notification", nil)
	}
	return copyNotification(n), nil
}

func (r *NotificationRepository) Update(_ context.Context, n *model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.ID]; !ok {
		return errors.NotFound("notification", nil)
	}
	r.items[n.ID] = copyNotification(n)
	return nil
}

func (r *NotificationRepository) ListByRecipient(_ context.Context, recipientID string) ([]*model.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Notification
	for _, n := range r.items {
		if n.RecipientID == recipientID {
			out = append(out, copyNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *NotificationRepository) DeleteBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, item := range r.items {
		if item.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

// Len is used by tests and the readiness report.
func (r *NotificationRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

type ScheduleRepository struct {
	mu    sync.RWMutex
	items map[string]*model.ScheduledNotification
}

func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{items: make(map[string]*model.ScheduledNotification)}
}

var _ repository.ScheduleRepository = (*ScheduleRepository)(nil)

func copySchedule(s *model.ScheduledNotification) *model.ScheduledNotification {
	c := *s
	c.RecipientIDs = append([]string(nil), s.RecipientIDs...)
	if s.Result != nil {
		res := *s.Result
		c.Result = &res
	}
	return &c
}

func (r *ScheduleRepository) Create(_ context.Context, s *model.ScheduledNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[s.ID]; exists {
		return errors.Conflict("scheduled notification already exists")
	}
	r.items[s.ID] = copySchedule(s)
	return nil
}

func (r *ScheduleRepository) Get(_ context.Context, id string) (*model.ScheduledNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, errors.NotFound("scheduled notification", nil)
	}
	return copySchedule(s), nil
}

func (r *ScheduleRepository) Update(_ context.Context, s *model.ScheduledNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; !ok {
		return errors.NotFound("scheduled notification", nil)
	}
	r.items[s.ID] = copySchedule(s)
	return nil
}

func (r *ScheduleRepository) List(_ context.Context, status model.ScheduleStatus) ([]*model.ScheduledNotification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.ScheduledNotification
	for _, s := range r.items {
		if status == "" || s.Status == status {
			out = append(out, copySchedule(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

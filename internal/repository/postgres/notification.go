package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
)

const notificationColumns = `id, type, recipient_id, title, content, channel, status, metadata, last_error, created_at, sent_at`

type notificationRow struct {
	model.Notification
	MetadataJSON []byte `db:"metadata"`
}

func (row *notificationRow) toModel() (*model.Notification, error) {
	n := row.Notification
	if len(row.MetadataJSON) > 0 {
		if err := json.Unmarshal(row.MetadataJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode notification metadata: %w", err)
		}
	}
	return &n, nil
}

// jsonParam passes JSON as text; lib/pq would send []byte as bytea.
func jsonParam(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

type notificationRepository struct {
	*BaseRepository
}

func NewNotificationRepository(base *BaseRepository) repository.NotificationRepository {
	return &notificationRepository{
		BaseRepository: base,
	}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) (err error) {
	defer func(start time.Time) { r.observe("notification_create", start, err) }(time.Now())

	meta, err := encodeMetadata(n.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		n.ID,
		n.Type,
		n.RecipientID,
		n.Title,
		n.Content,
		n.Channel,
		n.Status,
		jsonParam(meta),
		n.LastError,
		n.CreatedAt,
		n.SentAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("notification already exists")
		}
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id string) (n *model.Notification, err error) {
	defer func(start time.Time) { r.observe("notification_get", start, err) }(time.Now())

	var row notificationRow
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("notification", nil)
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return row.toModel()
}

func (r *notificationRepository) Update(ctx context.Context, n *model.Notification) (err error) {
	defer func(start time.Time) { r.observe("notification_update", start, err) }(time.Now())

	query := `
		UPDATE notifications
		SET status = $1, last_error = $2, sent_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, n.Status, n.LastError, n.SentAt, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NotFound("notification", nil)
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string) (out []*model.Notification, err error) {
	defer func(start time.Time) { r.observe("notification_list", start, err) }(time.Now())

	var rows []notificationRow
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &rows, query, recipientID); err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out = make([]*model.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *notificationRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (n int64, err error) {
	defer func(start time.Time) { r.observe("notification_purge", start, err) }(time.Now())

	result, err := r.db.ExecContext(ctx, `DELETE FROM notifications WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge notifications: %w", err)
	}
	return result.RowsAffected()
}

const scheduleColumns = `id, request, recipient_ids, scheduled_for, status, result, created_at, processed_at`

type scheduleRow struct {
	ID           string         `db:"id"`
	Request      []byte         `db:"request"`
	RecipientIDs pq.StringArray `db:"recipient_ids"`
	ScheduledFor time.Time      `db:"scheduled_for"`
	Status       string         `db:"status"`
	Result       []byte         `db:"result"`
	CreatedAt    time.Time      `db:"created_at"`
	ProcessedAt  *time.Time     `db:"processed_at"`
}

func (row *scheduleRow) toModel() (*model.ScheduledNotification, error) {
	s := &model.ScheduledNotification{
		ID:           row.ID,
		RecipientIDs: []string(row.RecipientIDs),
		ScheduledFor: row.ScheduledFor,
		Status:       model.ScheduleStatus(row.Status),
		CreatedAt:    row.CreatedAt,
		ProcessedAt:  row.ProcessedAt,
	}
	if err := json.Unmarshal(row.Request, &s.Request); err != nil {
		return nil, fmt.Errorf("failed to decode scheduled request: %w", err)
	}
	if len(row.Result) > 0 {
		s.Result = &model.BroadcastResult{}
		if err := json.Unmarshal(row.Result, s.Result); err != nil {
			return nil, fmt.Errorf("failed to decode schedule result: %w", err)
		}
	}
	return s, nil
}

type scheduleRepository struct {
	*BaseRepository
}

func NewScheduleRepository(base *BaseRepository) repository.ScheduleRepository {
	return &scheduleRepository{BaseRepository: base}
}

func (r *scheduleRepository) Create(ctx context.Context, s *model.ScheduledNotification) (err error) {
	defer func(start time.Time) { r.observe("schedule_create", start, err) }(time.Now())

	req, err := json.Marshal(s.Request)
	if err != nil {
		return fmt.Errorf("failed to encode scheduled request: %w", err)
	}
	var result []byte
	if s.Result != nil {
		if result, err = json.Marshal(s.Result); err != nil {
			return fmt.Errorf("failed to encode schedule result: %w", err)
		}
	}

	query := `
		INSERT INTO scheduled_notifications (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		s.ID,
		jsonParam(req),
		pq.Array(s.RecipientIDs),
		s.ScheduledFor,
		s.Status,
		jsonParam(result),
		s.CreatedAt,
		s.ProcessedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Conflict("scheduled notification already exists")
		}
		return fmt.Errorf("failed to create scheduled notification: %w", err)
	}
	return nil
}

func (r *scheduleRepository) Get(ctx context.Context, id string) (s *model.ScheduledNotification, err error) {
	defer func(start time.Time) { r.observe("schedule_get", start, err) }(time.Now())

	var row scheduleRow
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_notifications WHERE id = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, errors.NotFound("scheduled notification", nil)
		}
		return nil, fmt.Errorf("failed to get scheduled notification: %w", err)
	}
	return row.toModel()
}

func (r *scheduleRepository) Update(ctx context.Context, s *model.ScheduledNotification) (err error) {
	defer func(start time.Time) { r.observe("schedule_update", start, err) }(time.Now())

	var result []byte
	if s.Result != nil {
		if result, err = json.Marshal(s.Result); err != nil {
			return fmt.Errorf("failed to encode schedule result: %w", err)
		}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET status = $1, result = $2, processed_at = $3
		WHERE id = $4
	`, s.Status, jsonParam(result), s.ProcessedAt, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update scheduled notification: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return errors.NotFound("scheduled notification", nil)
	}
	return nil
}

func (r *scheduleRepository) List(ctx context.Context, status model.ScheduleStatus) (out []*model.ScheduledNotification, err error) {
	defer func(start time.Time) { r.observe("schedule_list", start, err) }(time.Now())

	query := `SELECT ` + scheduleColumns + ` FROM scheduled_notifications`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_for`

	var rows []scheduleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list scheduled notifications: %w", err)
	}

	out = make([]*model.ScheduledNotification, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

package model

import (
	"time"
)

type NotificationType string

const (
	NotificationTypeRegistration       NotificationType = "registration"
	NotificationTypeVerification       NotificationType = "verification"
	NotificationTypePasswordReset      NotificationType = "password_reset"
	NotificationTypeElectionInvitation NotificationType = "election_invitation"
	NotificationTypeElectionReminder   NotificationType = "election_reminder"
	NotificationTypeElectionStarted    NotificationType = "election_started"
	NotificationTypeElectionEnded      NotificationType = "election_ended"
	NotificationTypeVoteConfirmation   NotificationType = "vote_confirmation"
	NotificationTypeResultsPublished   NotificationType = "results_published"
	NotificationTypeSystemAnnouncement NotificationType = "system_announcement"
)

type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelInApp NotificationChannel = "in_app"
	ChannelBoth  NotificationChannel = "both"
)

type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusRead    NotificationStatus = "read"
)

// Common metadata keys.
const (
	MetaElectionID    = "electionId"
	MetaElectionTitle = "electionTitle"
	MetaUrgent        = "urgent"
	MetaStartDate     = "startDate"
	MetaEndDate       = "endDate"
	MetaBallotID      = "ballotId"
	MetaTotalVotes    = "totalVotes"
	MetaElectionURL   = "electionUrl"
)

type Notification struct {
	ID          string              `json:"id" db:"id"`
	Type        NotificationType    `json:"type" db:"type"`
	RecipientID string              `json:"recipient_id" db:"recipient_id"`
	Title       string              `json:"title" db:"title"`
	Content     string              `json:"content" db:"content"`
	Channel     NotificationChannel `json:"channel" db:"channel"`
	Status      NotificationStatus  `json:"status" db:"status"`
	Metadata    map[string]string   `json:"metadata,omitempty" db:"-"`
	LastError   string              `json:"last_error,omitempty" db:"last_error"`
	CreatedAt   time.Time           `json:"created_at" db:"created_at"`
	SentAt      *time.Time          `json:"sent_at,omitempty" db:"sent_at"`
}

// NotificationRequest is the input to the composer.
type NotificationRequest struct {
	Type        NotificationType    `json:"type" validate:"required"`
	RecipientID string              `json:"recipient_id"`
	Channel     NotificationChannel `json:"channel" validate:"omitempty,oneof=email in_app both"`
	Title       string              `json:"title"`
	Content     string              `json:"content"`
	Metadata    map[string]string   `json:"metadata"`
}

// NotificationEvent is what travels over the pub/sub fabric.
type NotificationEvent struct {
	ID             string            `json:"id"`
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id,omitempty"`
	ElectionID     string            `json:"election_id,omitempty"`
	Type           string            `json:"type"`
	Title          string            `json:"title"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// ChannelOutcome is the result of one channel send for one recipient.
type ChannelOutcome struct {
	Channel   NotificationChannel `json:"channel"`
	MessageID string              `json:"message_id,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// DeliveryReport keeps both outcomes of a Both notification.
type DeliveryReport struct {
	Notification *Notification    `json:"notification"`
	Outcomes     []ChannelOutcome `json:"outcomes"`
}

// Failed reports whether any channel failed.
func (r *DeliveryReport) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Error != "" {
			return true
		}
	}
	return false
}

type BroadcastResult struct {
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusProcessed ScheduleStatus = "processed"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
)

type ScheduledNotification struct {
	ID           string              `json:"id"`
	Request      NotificationRequest `json:"request"`
	RecipientIDs []string            `json:"recipient_ids"`
	ScheduledFor time.Time           `json:"scheduled_for"`
	Status       ScheduleStatus      `json:"status"`
	Result       *BroadcastResult    `json:"result,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ProcessedAt  *time.Time          `json:"processed_at,omitempty"`
}

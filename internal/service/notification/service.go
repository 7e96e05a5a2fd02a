package notification

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/pool"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/metrics"
)

type NotificationServicer interface {
	Send(ctx context.Context, req model.NotificationRequest) (*model.DeliveryReport, error)
	Broadcast(ctx context.Context, req model.NotificationRequest, recipientIDs []string) (model.BroadcastResult, error)
	Get(ctx context.Context, id string) (*model.Notification, error)
	List(ctx context.Context, recipientID string) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) (*model.Notification, error)
}

type Config struct {
	// Concurrency bounds in-flight recipients per broadcast.
	Concurrency int
}

type Service struct {
	composer  *Composer
	email     Sender
	inApp     Sender
	repo      repository.NotificationRepository
	directory repository.Directory
	clock     clockwork.Clock
	logger    *logger.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

func NewService(composer *Composer, emailSender, inAppSender Sender, repo repository.NotificationRepository,
	directory repository.Directory, clock clockwork.Clock, log *logger.Logger, m *metrics.Metrics, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	return &Service{
		composer:  composer,
		email:     emailSender,
		inApp:     inAppSender,
		repo:      repo,
		directory: directory,
		clock:     clock,
		logger:    log,
		metrics:   m,
		cfg:       cfg,
	}
}

var _ NotificationServicer = (*Service)(nil)

// Send composes, dispatches and records one notification. The report is
// returned even when a channel failed; the error then carries DeliveryFailure.
func (s *Service) Send(ctx context.Context, req model.NotificationRequest) (*model.DeliveryReport, error) {
	n, err := s.composer.Compose(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to record notification: %w", err)
	}

	report := &model.DeliveryReport{Notification: n, Outcomes: s.dispatch(ctx, n)}

	var failures []string
	for _, o := range report.Outcomes {
		if o.Error != "" {
			failures = append(failures, o.Error)
		}
	}
	if len(failures) > 0 {
		n.Status = model.NotificationStatusFailed
		n.LastError = strings.Join(failures, "; ")
	} else {
		sentAt := s.clock.Now()
		n.Status = model.NotificationStatusSent
		n.SentAt = &sentAt
	}
	if err := s.repo.Update(ctx, n); err != nil {
		s.logger.Warn(err, "failed to record notification status", "notification_id", n.ID)
	}

	if len(failures) > 0 {
		return report, errors.DeliveryFailure(string(n.Channel), n.RecipientID, fmt.Errorf("%s", n.LastError))
	}
	return report, nil
}

// dispatch runs each selected channel independently.
func (s *Service) dispatch(ctx context.Context, n *model.Notification) []model.ChannelOutcome {
	var outcomes []model.ChannelOutcome
	if n.Channel == model.ChannelEmail || n.Channel == model.ChannelBoth {
		outcomes = append(outcomes, s.sendOn(ctx, model.ChannelEmail, s.email, n))
	}
	if n.Channel == model.ChannelInApp || n.Channel == model.ChannelBoth {
		outcomes = append(outcomes, s.sendOn(ctx, model.ChannelInApp, s.inApp, n))
	}
	return outcomes
}

func (s *Service) sendOn(ctx context.Context, channel model.NotificationChannel, sender Sender, n *model.Notification) model.ChannelOutcome {
	out := model.ChannelOutcome{Channel: channel}
	if sender == nil {
		out.Error = fmt.Sprintf("%s channel not configured", channel)
		s.metrics.NotificationsDispatched.WithLabelValues(string(channel), "error").Inc()
		return out
	}

	id, err := sender.Send(ctx, n)
	s.metrics.NotificationsDispatched.WithLabelValues(string(channel), metrics.Outcome(err)).Inc()
	if err != nil {
		out.Error = err.Error()
		s.logger.Warn(err, "channel delivery failed",
			"channel", string(channel), "recipient_id", n.RecipientID, "notification_id", n.ID)
		return out
	}
	out.MessageID = id
	return out
}

// Broadcast sends req to every recipient concurrently. A recipient fails when
// any of its channels fails; failures never stop the other recipients.
func (s *Service) Broadcast(ctx context.Context, req model.NotificationRequest, recipientIDs []string) (model.BroadcastResult, error) {
	if err := s.composer.Check(req); err != nil {
		return model.BroadcastResult{}, err
	}

	start := time.Now()
	var sent, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(s.cfg.Concurrency)
	for _, id := range recipientIDs {
		recipientReq := req
		recipientReq.RecipientID = id
		p.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					s.logger.Error(fmt.Errorf("panic: %v", r), "broadcast recipient panicked", "recipient_id", recipientReq.RecipientID)
				}
			}()
			if _, err := s.Send(ctx, recipientReq); err != nil {
				failed.Add(1)
				return
			}
			sent.Add(1)
		})
	}
	p.Wait()

	result := model.BroadcastResult{
		Total:  len(recipientIDs),
		Sent:   int(sent.Load()),
		Failed: int(failed.Load()),
	}
	s.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	s.metrics.BroadcastRecipients.WithLabelValues("sent").Add(float64(result.Sent))
	s.metrics.BroadcastRecipients.WithLabelValues("failed").Add(float64(result.Failed))
	s.logger.Info("broadcast finished", "type", string(req.Type),
		"total", result.Total, "sent", result.Sent, "failed", result.Failed)
	return result, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Notification, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, recipientID string) ([]*model.Notification, error) {
	return s.repo.ListByRecipient(ctx, recipientID)
}

// MarkRead only lets the recipient mark their own notification.
func (s *Service) MarkRead(ctx context.Context, id, recipientID string) (*model.Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != recipientID {
		return nil, errors.NotFound("notification", nil)
	}
	if n.Status == model.NotificationStatusRead {
		return n, nil
	}
	n.Status = model.NotificationStatusRead
	if err := s.repo.Update(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to mark notification read: %w", err)
	}
	return n, nil
}

// VoteCast sends the voter a confirmation. Failures are logged only.
func (s *Service) VoteCast(ctx context.Context, e *model.Election, ballot *model.Ballot) {
	_, err := s.Send(ctx, model.NotificationRequest{
		Type:        model.NotificationTypeVoteConfirmation,
		RecipientID: ballot.VoterID,
		Metadata: map[string]string{
			model.MetaElectionID:    e.ID,
			model.MetaElectionTitle: e.Title,
			model.MetaBallotID:      ballot.ID,
		},
	})
	if err != nil {
		s.logger.Warn(err, "vote confirmation failed", "election_id", e.ID, "voter_id", ballot.VoterID)
	}
}

// ResultsPublished tells every eligible voter the tally is public.
func (s *Service) ResultsPublished(ctx context.Context, e *model.Election) {
	if s.directory == nil {
		return
	}
	voters, err := s.directory.EligibleVoters(ctx, e.ID)
	if err != nil {
		s.logger.Warn(err, "failed to load voters for results notice", "election_id", e.ID)
		return
	}
	_, err = s.Broadcast(ctx, model.NotificationRequest{
		Type: model.NotificationTypeResultsPublished,
		Metadata: map[string]string{
			model.MetaElectionID:    e.ID,
			model.MetaElectionTitle: e.Title,
			model.MetaTotalVotes:    strconv.Itoa(e.TotalVotes),
		},
	}, voters)
	if err != nil {
		s.logger.Warn(err, "results notice failed", "election_id", e.ID)
	}
}

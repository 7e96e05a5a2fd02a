package notification

import (
	"context"
	"fmt"
	"html"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/internal/email"
	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/internal/repository"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/logger"
	"github.com/jwalitptl/election-api/pkg/messaging"
	"github.com/jwalitptl/election-api/pkg/template"
)

// Sender delivers a notification over one channel and returns a message id.
type Sender interface {
	Send(ctx context.Context, n *model.Notification) (string, error)
}

const emailLayout = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
<h2>{{title}}</h2>
<p>{{content}}</p>
{{#if urgent}}<p><strong>This is your final reminder.</strong></p>{{/if}}
{{#if electionUrl}}<p><a href="{{electionUrl}}">Open the election</a></p>{{/if}}
</body>
</html>`

type EmailSender struct {
	directory repository.Directory
	mailer    email.Service
}

func NewEmailSender(directory repository.Directory, mailer email.Service) *EmailSender {
	return &EmailSender{directory: directory, mailer: mailer}
}

func (s *EmailSender) Send(ctx context.Context, n *model.Notification) (string, error) {
	address, err := s.directory.AddressOf(ctx, n.RecipientID)
	if err != nil {
		return "", errors.DeliveryFailure(string(model.ChannelEmail), n.RecipientID, err)
	}

	vars := make(template.Vars, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		vars[k] = html.EscapeString(v)
	}
	vars["title"] = html.EscapeString(n.Title)
	vars["content"] = html.EscapeString(n.Content)

	body := template.Render(emailLayout, vars)
	text := fmt.Sprintf("%s\n\n%s", n.Title, n.Content)

	id, err := s.mailer.Deliver(ctx, address, n.Title, body, text)
	if err != nil {
		return "", errors.DeliveryFailure(string(model.ChannelEmail), n.RecipientID, err)
	}
	return id, nil
}

type InAppSender struct {
	broker messaging.Broker
	clock  clockwork.Clock
	newID  idgen.Generator
	logger *logger.Logger
}

func NewInAppSender(broker messaging.Broker, clock clockwork.Clock, newID idgen.Generator, log *logger.Logger) *InAppSender {
	return &InAppSender{broker: broker, clock: clock, newID: newID, logger: log}
}

// Send publishes onto the recipient's topic and, for election-scoped
// notifications, onto the election topic. Only the user publish decides the
// outcome.
func (s *InAppSender) Send(ctx context.Context, n *model.Notification) (string, error) {
	event := model.NotificationEvent{
		ID:             s.newID(),
		NotificationID: n.ID,
		UserID:         n.RecipientID,
		Type:           string(n.Type),
		Title:          n.Title,
		Content:        n.Content,
		Metadata:       n.Metadata,
		CreatedAt:      s.clock.Now(),
	}

	if err := s.broker.Publish(ctx, messaging.UserTopic(n.RecipientID), event); err != nil {
		return "", errors.DeliveryFailure(string(model.ChannelInApp), n.RecipientID, err)
	}

	if electionID := n.Metadata[model.MetaElectionID]; electionID != "" {
		update := event
		update.UserID = ""
		update.ElectionID = electionID
		if err := s.broker.Publish(ctx, messaging.ElectionTopic(electionID), update); err != nil {
			s.logger.Warn(err, "election update publish failed", "election_id", electionID, "notification_id", n.ID)
		}
	}
	return event.ID, nil
}

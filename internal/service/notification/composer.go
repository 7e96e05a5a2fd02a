package notification

import (
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/jwalitptl/election-api/internal/model"
	"github.com/jwalitptl/election-api/pkg/errors"
	"github.com/jwalitptl/election-api/pkg/idgen"
	"github.com/jwalitptl/election-api/pkg/template"
	"github.com/jwalitptl/election-api/pkg/validator"
)

type defaultCopy struct {
	title   string
	content string
}

var defaults = map[model.NotificationType]defaultCopy{
	model.NotificationTypeRegistration: {
		title:   "Welcome to the election portal",
		content: "Your account has been created.{{#if name}} Welcome aboard, {{name}}!{{/if}}",
	},
	model.NotificationTypeVerification: {
		title:   "Verify your email address",
		content: "Use this code to verify your account: {{code}}",
	},
	model.NotificationTypePasswordReset: {
		title:   "Reset your password",
		content: "A password reset was requested for your account.{{#if resetUrl}} Reset it here: {{resetUrl}}{{/if}}",
	},
	model.NotificationTypeElectionInvitation: {
		title:   "You are invited to vote in {{electionTitle}}",
		content: "You are eligible to vote in {{electionTitle}}.{{#if startDate}} Voting opens {{startDate}}.{{/if}}",
	},
	model.NotificationTypeElectionReminder: {
		title:   "Reminder: {{electionTitle}} closes soon",
		content: "{{#if urgent}}Last chance! {{/if}}You have not voted in {{electionTitle}} yet.{{#if endDate}} Voting closes {{endDate}}.{{/if}}",
	},
	model.NotificationTypeElectionStarted: {
		title:   "{{electionTitle}} is now open",
		content: "Voting in {{electionTitle}} has started.{{#if endDate}} It closes {{endDate}}.{{/if}}",
	},
	model.NotificationTypeElectionEnded: {
		title:   "{{electionTitle}} ends today",
		content: "Voting in {{electionTitle}} ends today.{{#if endDate}} Polls close {{endDate}}.{{/if}}",
	},
	model.NotificationTypeVoteConfirmation: {
		title:   "Your vote has been recorded",
		content: "Thank you for voting in {{electionTitle}}.{{#if ballotId}} Your receipt is {{ballotId}}.{{/if}}",
	},
	model.NotificationTypeResultsPublished: {
		title:   "Results are in for {{electionTitle}}",
		content: "The results of {{electionTitle}} have been published.{{#if totalVotes}} {{totalVotes}} votes were cast.{{/if}}",
	},
	model.NotificationTypeSystemAnnouncement: {
		title:   "System announcement",
		content: "There is a new announcement from the election administrators.",
	},
}

var generic = defaultCopy{
	title:   "Notification",
	content: "You have a new notification.",
}

// Composer turns requests into pending notifications.
type Composer struct {
	clock    clockwork.Clock
	newID    idgen.Generator
	validate validator.Validator
}

func NewComposer(clock clockwork.Clock, newID idgen.Generator) *Composer {
	return &Composer{clock: clock, newID: newID, validate: validator.New()}
}

// Check validates a request without composing it.
func (c *Composer) Check(req model.NotificationRequest) error {
	return c.validate.Validate(req)
}

func (c *Composer) Compose(req model.NotificationRequest) (*model.Notification, error) {
	if err := c.validate.Validate(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RecipientID) == "" {
		return nil, errors.BadRequest("recipient id is required", nil)
	}

	copyFor, ok := defaults[req.Type]
	if !ok {
		copyFor = generic
	}
	vars := template.FromStrings(req.Metadata)

	title := req.Title
	if title == "" {
		title = template.Render(copyFor.title, vars)
	}
	content := req.Content
	if content == "" {
		content = template.Render(copyFor.content, vars)
	}

	channel := req.Channel
	if channel == "" {
		channel = model.ChannelBoth
	}

	var meta map[string]string
	if len(req.Metadata) > 0 {
		meta = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			meta[k] = v
		}
	}

	return &model.Notification{
		ID:          c.newID(),
		Type:        req.Type,
		RecipientID: req.RecipientID,
		Title:       title,
		Content:     content,
		Channel:     channel,
		Status:      model.NotificationStatusPending,
		Metadata:    meta,
		CreatedAt:   c.clock.Now(),
	}, nil
}

package email

import (
	"context"
)

// Service is the mail transport. Deliver hands one message to the relay and
// returns the Message-ID it was sent with. Failures are not retried here.
type Service interface {
	Deliver(ctx context.Context, to, subject, html, text string) (string, error)
}

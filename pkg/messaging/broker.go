package messaging

import (
	"context"
	"fmt"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// UserTopic is the per-recipient in-app channel.
func UserTopic(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// ElectionTopic carries election-scoped updates.
func ElectionTopic(electionID string) string {
	return fmt.Sprintf("election:%s", electionID)
}

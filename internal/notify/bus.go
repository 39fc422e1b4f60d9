// Package notify delivers state-change events to interested parties.
//
// Events are published after the state change they describe has committed.
// Delivery is best effort: a failed publish is logged by the caller and never
// undoes the change.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	// TopicAdmin reaches every connected admin.
	TopicAdmin = "admin"
)

// UserTopic is the private topic of one user.
func UserTopic(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Event types.
const (
	EventCommandSubmitted = "command_submitted"
	EventApprovalUpdate   = "approval_update"
	EventCreditUpdate     = "credit_update"
	EventCommandStatus    = "command_status"
)

// Event is one notification.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Topic     string    `json:"topic"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent stamps a new event with an ID and the current time.
func NewEvent(eventType string, data any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Bus publishes events to a topic.
type Bus interface {
	Publish(ctx context.Context, topic string, evt Event) error
}

// Noop drops every event.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, string, Event) error { return nil }

// Multi fans an event out to several buses.
type Multi []Bus

// Publish delivers to every bus and joins their errors.
func (m Multi) Publish(ctx context.Context, topic string, evt Event) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Publish(ctx, topic, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

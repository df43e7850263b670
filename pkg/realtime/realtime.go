// Package realtime fans out row-insert events on named channels.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// EventInsert is the only event type published today.
const EventInsert = "INSERT"

// Event carries one changed row. Record is the raw row without relations.
type Event struct {
	Type            string          `json:"type"`
	Table           string          `json:"table"`
	Record          json.RawMessage `json:"record"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// Decode unmarshals the record into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Record, v); err != nil {
		return fmt.Errorf("decode %s record: %w", e.Table, err)
	}
	return nil
}

// NewInsertEvent wraps row as an INSERT on table.
func NewInsertEvent(table string, row any) (Event, error) {
	raw, err := json.Marshal(row)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s record: %w", table, err)
	}
	return Event{Type: EventInsert, Table: table, Record: raw, CommitTimestamp: time.Now().UTC()}, nil
}

// Handler is invoked once per delivered event, sequentially per subscription.
type Handler func(Event)

// Broker publishes events and opens subscriptions on channels.
type Broker interface {
	Publish(ctx context.Context, channel string, ev Event) error
	// Subscribe delivers events until the subscription is closed or ctx ends.
	Subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error)
	Close() error
}

// TaskMessagesChannel carries inserts on messages for one task.
func TaskMessagesChannel(taskID string) string {
	return "task-messages-" + taskID
}

// UserNotificationsChannel carries inserts on notifications for one user.
func UserNotificationsChannel(userID string) string {
	return "user-notifications-" + userID
}

// Subscription is a live channel subscription. Close is idempotent.
type Subscription struct {
	channel string
	stop    func() error
	done    chan struct{}

	once sync.Once
	err  error
}

func newSubscription(channel string, stop func() error) *Subscription {
	return &Subscription{channel: channel, stop: stop, done: make(chan struct{})}
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// Done is closed once delivery has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close stops delivery and releases the underlying resources.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.err = s.stop()
	})
	return s.err
}

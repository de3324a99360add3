// Package notify delivers member notifications. Delivery is best effort:
// a failed notification is logged and never affects the operation that
// produced it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/goldnet/ledger-engine/internal/model"
)

// Sink delivers one notification.
type Sink interface {
	Notify(ctx context.Context, n model.Notification) error
}

// LogSink writes notifications to the structured log. Used when no broker
// is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, n model.Notification) error {
	slog.Info("notification", "member", n.MemberID, "category", n.Category, "title", n.Title)
	return nil
}

// Subjects follow gold.notifications.{category}.{member_id}.
const subjectPrefix = "gold.notifications"

// NATSSink publishes notifications to a JetStream stream for the delivery
// service to pick up.
type NATSSink struct {
	js jetstream.JetStream
}

// NewNATSSink creates a JetStream-backed sink.
func NewNATSSink(js jetstream.JetStream) *NATSSink {
	return &NATSSink{js: js}
}

func (s *NATSSink) Notify(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, strings.ToLower(n.Category), n.MemberID)
	_, err = s.js.Publish(ctx, subject, data)
	return err
}

// EnsureStream creates the notifications stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "GOLD_NOTIFICATIONS",
		Subjects:  []string{subjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create notifications stream: %w", err)
	}
	slog.Info("ensured notifications stream", "stream", "GOLD_NOTIFICATIONS")
	return nil
}

// Memory records notifications. Used in tests.
type Memory struct {
	mu    sync.Mutex
	items []model.Notification
}

func (m *Memory) Notify(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, n)
	return nil
}

// Items returns a copy of everything received so far.
func (m *Memory) Items() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Notification(nil), m.items...)
}

// ForMember returns the notifications addressed to one member.
func (m *Memory) ForMember(memberID string) []model.Notification {
	var out []model.Notification
	for _, n := range m.Items() {
		if n.MemberID == memberID {
			out = append(out, n)
		}
	}
	return out
}

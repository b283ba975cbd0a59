// Package notifier consumes the outbound queue and delivers notifications.
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap"
)

var notificationsDelivered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "triage_notifications_delivered_total",
	Help: "Notifications successfully handed to the mailer.",
})

// Mailer performs the external delivery side effect.
type Mailer interface {
	Send(ctx context.Context, recipient, body string) error
}

// SimulatedMailer pretends to talk to an SMTP relay.
// Stands in until a real provider integration exists.
type SimulatedMailer struct {
	Log   *zap.Logger
	Delay time.Duration // artificial network delay
}

var _ Mailer = (*SimulatedMailer)(nil)

// Send logs the delivery.
func (m *SimulatedMailer) Send(ctx context.Context, recipient, body string) error {
	if m.Delay > 0 {
		timer := time.NewTimer(m.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	m.Log.Info("Delivered notification",
		zap.String("recipient", recipient),
		zap.Int("body_len", len(body)))
	return nil
}

// Worker consumes notification messages and acknowledges each one after the
// delivery side effect succeeds. A failed delivery leaves the message
// uncommitted; broker redelivery may cause a duplicate send, which is the
// same at-least-once trade-off the query worker makes.
type Worker struct {
	Mailer Mailer
	Log    *zap.Logger
}

// Setup is called by sarama when the consumer group member starts.
func (w *Worker) Setup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup is called by sarama after the consumer group member stops.
func (w *Worker) Cleanup(_ sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim runs the consumer loop, one in-flight message at a time.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := w.Deliver(session.Context(), msg.Value); err != nil {
			return err
		}
		session.MarkMessage(msg, "")
		session.Commit()
	}
	return nil
}

// Deliver decodes and delivers a single notification payload. Malformed
// payloads are logged and dropped; delivery failures are returned so the
// message stays unacknowledged.
func (w *Worker) Deliver(ctx context.Context, payload []byte) error {
	notification, err := types.DecodeNotification(payload)
	if err != nil {
		w.Log.Error("Dropping malformed notification payload", zap.Error(err))
		return nil
	}
	if err := w.Mailer.Send(ctx, notification.RecipientAddress, notification.Body); err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	notificationsDelivered.Inc()
	return nil
}

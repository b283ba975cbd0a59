// Package processor consumes the inbound query queue and runs each query
// through rate limiting, classification and the downstream side effects.
//
// Delivery semantics
//
// The worker marks and commits the inbound offset only after the outbound
// notification is published. A crash anywhere in the sequence leaves the
// message uncommitted and the broker redelivers it, re-running the full
// sequence. Every side effect tolerates that: the cache write is a
// last-write-wins overwrite and the audit insert is an independent append.
// Duplicate audit rows and duplicate notifications on redelivery are the
// accepted cost of never losing a message.
//
// Each worker instance keeps exactly one message in flight. Scale-out
// happens by adding instances to the consumer group; instances share no
// state except the Redis counters, the result cache and the queues.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.scholarhub.net/triage/pkg/audit"
	"go.scholarhub.net/triage/pkg/classifier"
	"go.scholarhub.net/triage/pkg/knowledge"
	"go.scholarhub.net/triage/pkg/ratelimit"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap"
)

var (
	queriesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_queries_processed_total",
		Help: "Queries fully processed and acknowledged, by result category.",
	}, []string{"category"})
	queriesRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_queries_rate_limited_total",
		Help: "Queries rejected by the per-sender rate limiter.",
	})
	queriesMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_queries_malformed_total",
		Help: "Inbound payloads dropped because they failed to decode.",
	})
)

// Worker processes inbound queries one message at a time.
type Worker struct {
	// Required components
	Limiter    *ratelimit.Limiter
	Classifier classifier.Classifier
	Cache      *resultcache.Cache
	Audit      audit.Recorder
	Producer   sarama.SyncProducer
	Log        *zap.Logger
	// Required config
	OutTopic  string
	AuditMode audit.Mode
	// Optional components
	Referrers knowledge.Directory // attributed-referrer validation
	// Optional config
	DeadTopic string // malformed payloads go here; empty discards them
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
// The offset is committed per message, after all side effects succeeded.
func (w *Worker) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := w.Process(session.Context(), msg.Value); err != nil {
			// Leave the message uncommitted so the broker redelivers it.
			return err
		}
		session.MarkMessage(msg, "")
		session.Commit()
	}
	return nil // messages channel closed, session ended
}

// Process runs the full per-message sequence against a raw payload.
// A nil return means all side effects are in place and the message may be
// acknowledged. Malformed payloads return nil as well: redelivery cannot
// fix them, so they are dead-lettered (or dropped) and counted as done.
func (w *Worker) Process(ctx context.Context, payload []byte) error {
	query, err := types.DecodeQuery(payload)
	if err != nil {
		queriesMalformed.Inc()
		w.Log.Error("Dropping malformed query payload", zap.Error(err))
		w.deadLetter(payload)
		return nil
	}
	log := w.Log.With(
		zap.String("process_id", uuid.New().String()),
		zap.String("platform", string(query.Platform)),
		zap.String("sender_id", query.SenderID))
	// Count the attempt against the sender's window before any real work.
	admitted, err := w.Limiter.Admit(ctx, query.SenderID)
	if err != nil {
		return fmt.Errorf("rate limiter unavailable: %w", err)
	}
	var result types.ClassificationResult
	if admitted {
		result = w.Classifier.Analyze(ctx, query.Content)
	} else {
		queriesRateLimited.Inc()
		log.Info("Sender over quota, skipping classifier")
		result = types.RateLimitedResult()
	}
	if result.Category == types.CategoryError {
		query.Status = types.StatusError
	} else {
		query.Status = types.StatusAnswered
	}
	if err := w.Cache.Put(ctx, query.SenderID, &result); err != nil {
		return err
	}
	if err := w.writeAudit(ctx, log, query, &result); err != nil {
		return err
	}
	if err := w.publishNotification(query, &result); err != nil {
		return err
	}
	queriesProcessed.WithLabelValues(string(result.Category)).Inc()
	log.Info("Processed query",
		zap.String("category", string(result.Category)),
		zap.Float64("sentiment_score", result.SentimentScore))
	return nil
}

func (w *Worker) writeAudit(ctx context.Context, log *zap.Logger, query *types.Query, result *types.ClassificationResult) error {
	record := &types.AuditRecord{
		Timestamp:          time.Now().UTC(),
		Platform:           query.Platform,
		SenderID:           query.SenderID,
		Question:           query.Content,
		Category:           result.Category,
		SentimentScore:     result.SentimentScore,
		AttributedReferrer: query.AttributedReferrer,
	}
	if query.AttributedReferrer != "" && w.Referrers != nil {
		registered, err := w.Referrers.IsRegistered(ctx, query.AttributedReferrer)
		if err != nil {
			// Attribution is analytics enrichment, not worth a redelivery.
			log.Warn("Referrer lookup failed", zap.Error(err))
		} else {
			record.ReferrerRegistered = registered
		}
	}
	if err := w.Audit.Insert(ctx, record); err != nil {
		if w.AuditMode == audit.ModeStrict {
			return fmt.Errorf("audit write failed: %w", err)
		}
		log.Error("Audit write failed, continuing", zap.Error(err))
	}
	return nil
}

func (w *Worker) publishNotification(query *types.Query, result *types.ClassificationResult) error {
	notification := types.NewNotification(query, result)
	buf, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	_, _, err = w.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: w.OutTopic,
		Key:   sarama.StringEncoder(query.SenderID),
		Value: sarama.ByteEncoder(buf),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

func (w *Worker) deadLetter(payload []byte) {
	if w.DeadTopic == "" {
		return
	}
	_, _, err := w.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: w.DeadTopic,
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		// The payload is already logged as lost, nothing more to do.
		w.Log.Error("Failed to dead-letter payload", zap.Error(err))
	}
}

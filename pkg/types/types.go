// Package types defines the queue message schemas and shared records.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the current version of the queue payload schemas.
// Messages carrying any other version are rejected at decode time.
const SchemaVersion = 1

// Platform identifies the external channel a query arrived from.
type Platform string

// Known platforms.
const (
	PlatformYouTube   Platform = "youtube"
	PlatformInstagram Platform = "instagram"
	PlatformTelegram  Platform = "telegram"
	PlatformWeb       Platform = "web"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformYouTube, PlatformInstagram, PlatformTelegram, PlatformWeb:
		return true
	}
	return false
}

// QueryStatus tracks a query through the pipeline.
type QueryStatus string

// Query statuses.
const (
	StatusReceived QueryStatus = "received"
	StatusAnswered QueryStatus = "answered"
	StatusError    QueryStatus = "error"
)

// Category is the classifier's verdict on a query.
type Category string

// The closed set of categories the classifier may return.
const (
	CategoryFAQ              Category = "faq"
	CategoryApplicationIssue Category = "application_issue"
	CategoryHighValue        Category = "high_value"
	CategorySpam             Category = "spam"
	CategoryError            Category = "error"
)

// Valid reports whether c is part of the closed category enumeration.
func (c Category) Valid() bool {
	switch c {
	case CategoryFAQ, CategoryApplicationIssue, CategoryHighValue, CategorySpam, CategoryError:
		return true
	}
	return false
}

// Query is the payload of an inbound queue message.
// It exists only in flight, never as a standalone stored record.
type Query struct {
	SchemaVersion      int         `json:"schema_version"`
	Platform           Platform    `json:"platform"`
	SenderID           string      `json:"sender_id"`
	Content            string      `json:"content"`
	AttributedReferrer string      `json:"attributed_referrer,omitempty"`
	Status             QueryStatus `json:"status"`
	Timestamp          time.Time   `json:"timestamp"`
}

// Check verifies all required fields are set.
func (q *Query) Check() error {
	if q.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version: %d", q.SchemaVersion)
	}
	if !q.Platform.Valid() {
		return fmt.Errorf("unknown platform: %q", q.Platform)
	}
	if q.SenderID == "" {
		return fmt.Errorf("empty sender_id")
	}
	if q.Content == "" {
		return fmt.Errorf("empty content")
	}
	return nil
}

// DecodeQuery parses and validates an inbound queue payload.
func DecodeQuery(buf []byte) (*Query, error) {
	q := new(Query)
	if err := json.Unmarshal(buf, q); err != nil {
		return nil, fmt.Errorf("invalid query payload: %w", err)
	}
	if err := q.Check(); err != nil {
		return nil, err
	}
	return q, nil
}

// ClassificationResult is the outcome of classifying a single query.
// Immutable once produced; written verbatim to the result cache and audit log.
type ClassificationResult struct {
	Category       Category `json:"category"`
	SentimentScore float64  `json:"sentiment_score"`
	ReplyText      string   `json:"reply_text"`
}

// Check verifies the result conforms to the classifier contract.
func (r *ClassificationResult) Check() error {
	if !r.Category.Valid() {
		return fmt.Errorf("unknown category: %q", r.Category)
	}
	if r.SentimentScore < 0 || r.SentimentScore > 1 {
		return fmt.Errorf("sentiment score out of range: %f", r.SentimentScore)
	}
	if r.ReplyText == "" {
		return fmt.Errorf("empty reply text")
	}
	return nil
}

// FallbackResult is returned whenever the classifier call fails.
func FallbackResult() ClassificationResult {
	return ClassificationResult{
		Category:       CategoryError,
		SentimentScore: 0.5,
		ReplyText:      "The system is busy right now. Please try again later.",
	}
}

// RateLimitedResult is returned to senders over their per-window quota.
func RateLimitedResult() ClassificationResult {
	return ClassificationResult{
		Category:       CategorySpam,
		SentimentScore: 0,
		ReplyText:      "You have reached the question limit for now. Please wait a bit before asking again.",
	}
}

// NotificationMessage is the payload of an outbound queue message.
type NotificationMessage struct {
	SchemaVersion    int    `json:"schema_version"`
	RecipientAddress string `json:"recipient_address"`
	Body             string `json:"body"`
}

// NewNotification derives the outbound message for a processed query.
// The derivation is deterministic so that redelivered queries produce
// byte-identical notifications.
func NewNotification(q *Query, result *ClassificationResult) *NotificationMessage {
	return &NotificationMessage{
		SchemaVersion:    SchemaVersion,
		RecipientAddress: fmt.Sprintf("%s:%s", q.Platform, q.SenderID),
		Body:             result.ReplyText,
	}
}

// Check verifies all required fields are set.
func (n *NotificationMessage) Check() error {
	if n.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema version: %d", n.SchemaVersion)
	}
	if n.RecipientAddress == "" {
		return fmt.Errorf("empty recipient_address")
	}
	if n.Body == "" {
		return fmt.Errorf("empty body")
	}
	return nil
}

// DecodeNotification parses and validates an outbound queue payload.
func DecodeNotification(buf []byte) (*NotificationMessage, error) {
	n := new(NotificationMessage)
	if err := json.Unmarshal(buf, n); err != nil {
		return nil, fmt.Errorf("invalid notification payload: %w", err)
	}
	if err := n.Check(); err != nil {
		return nil, err
	}
	return n, nil
}

// AuditRecord is one row of the append-only processing log.
type AuditRecord struct {
	Timestamp          time.Time `db:"ts"`
	Platform           Platform  `db:"platform"`
	SenderID           string    `db:"sender_id"`
	Question           string    `db:"question"`
	Category           Category  `db:"category"`
	SentimentScore     float64   `db:"sentiment_score"`
	AttributedReferrer string    `db:"attributed_referrer"`
	ReferrerRegistered bool      `db:"referrer_registered"`
}

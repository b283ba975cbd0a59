package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeQuery(t *testing.T) {
	buf := []byte(`{
		"schema_version": 1,
		"platform": "youtube",
		"sender_id": "alice",
		"content": "When do applications open?",
		"attributed_referrer": "scholar_vlogs",
		"status": "received",
		"timestamp": "2021-06-01T12:00:00Z"
	}`)
	q, err := DecodeQuery(buf)
	require.NoError(t, err)
	assert.Equal(t, PlatformYouTube, q.Platform)
	assert.Equal(t, "alice", q.SenderID)
	assert.Equal(t, "scholar_vlogs", q.AttributedReferrer)
	assert.Equal(t, StatusReceived, q.Status)
}

func TestDecodeQueryInvalid(t *testing.T) {
	cases := []struct {
		name string
		buf  string
	}{
		{"garbage", `{{{`},
		{"wrong_version", `{"schema_version": 2, "platform": "web", "sender_id": "a", "content": "b"}`},
		{"unknown_platform", `{"schema_version": 1, "platform": "myspace", "sender_id": "a", "content": "b"}`},
		{"missing_sender", `{"schema_version": 1, "platform": "web", "content": "b"}`},
		{"missing_content", `{"schema_version": 1, "platform": "web", "sender_id": "a"}`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := DecodeQuery([]byte(c.buf))
			assert.Error(t, err)
		})
	}
}

func TestClassificationResultCheck(t *testing.T) {
	ok := ClassificationResult{Category: CategoryFAQ, SentimentScore: 0.9, ReplyText: "hi"}
	assert.NoError(t, ok.Check())

	badCategory := ClassificationResult{Category: "other", SentimentScore: 0.5, ReplyText: "hi"}
	assert.Error(t, badCategory.Check())

	badScore := ClassificationResult{Category: CategoryFAQ, SentimentScore: 1.5, ReplyText: "hi"}
	assert.Error(t, badScore.Check())

	emptyReply := ClassificationResult{Category: CategoryFAQ, SentimentScore: 0.5}
	assert.Error(t, emptyReply.Check())
}

func TestFallbackResult(t *testing.T) {
	r := FallbackResult()
	assert.Equal(t, CategoryError, r.Category)
	assert.Equal(t, 0.5, r.SentimentScore)
	assert.NoError(t, r.Check())
}

func TestNewNotificationDeterministic(t *testing.T) {
	q := &Query{
		SchemaVersion: SchemaVersion,
		Platform:      PlatformTelegram,
		SenderID:      "bob",
		Content:       "status?",
		Status:        StatusReceived,
		Timestamp:     time.Unix(1623456789, 0),
	}
	result := FallbackResult()
	n1 := NewNotification(q, &result)
	n2 := NewNotification(q, &result)
	assert.Equal(t, n1, n2)
	assert.Equal(t, "telegram:bob", n1.RecipientAddress)
	assert.NoError(t, n1.Check())
}

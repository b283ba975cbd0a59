package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.scholarhub.net/triage/pkg/redistest"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap/zaptest"
)

func newTestServer(ctx context.Context, t *testing.T) (*Server, *mocks.SyncProducer, *resultcache.Cache, func()) {
	rd := redistest.NewRedis(ctx, t)
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	cache := &resultcache.Cache{Redis: rd.Client, KeyPrefix: "result_", TTL: time.Hour}
	server := &Server{
		Producer: producer,
		Cache:    cache,
		Log:      zaptest.NewLogger(t),
		InTopic:  "applicant-queries",
	}
	return server, producer, cache, func() { rd.Close(t) }
}

func TestIngestQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, producer, _, done := newTestServer(ctx, t)
	defer done()

	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(buf []byte) error {
		_, err := types.DecodeQuery(buf)
		return err
	})
	body := `{"platform": "web", "sender_id": "alice", "content": "When do applications open?"}`
	req := httptest.NewRequest(http.MethodPost, "/queries", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var res struct {
		Status string      `json:"status"`
		Data   types.Query `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "queued", res.Status)
	assert.Equal(t, types.StatusReceived, res.Data.Status)
	assert.False(t, res.Data.Timestamp.IsZero())
}

func TestIngestQueryInvalid(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, _, _, done := newTestServer(ctx, t)
	defer done()

	cases := []string{
		`{{{`,
		`{"platform": "myspace", "sender_id": "a", "content": "b"}`,
		`{"platform": "web", "content": "b"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/queries", strings.NewReader(body))
		rec := httptest.NewRecorder()
		server.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestGetAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, _, cache, done := newTestServer(ctx, t)
	defer done()

	req := httptest.NewRequest(http.MethodGet, "/answers/alice", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	result := types.ClassificationResult{
		Category:       types.CategoryFAQ,
		SentimentScore: 0.9,
		ReplyText:      "Applications open in January.",
	}
	require.NoError(t, cache.Put(ctx, "alice", &result))

	rec = httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.ClassificationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, result, got)
}

func TestHealthz(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	server, _, _, done := newTestServer(ctx, t)
	defer done()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.scholarhub.net/triage/pkg/audit"
	"go.scholarhub.net/triage/pkg/classifier"
	"go.scholarhub.net/triage/pkg/ratelimit"
	"go.scholarhub.net/triage/pkg/redistest"
	"go.scholarhub.net/triage/pkg/resultcache"
	"go.scholarhub.net/triage/pkg/saramamock"
	"go.scholarhub.net/triage/pkg/types"
	"go.uber.org/zap/zaptest"
)

// fakeClassifier returns a fixed category for every query.
type fakeClassifier struct {
	category types.Category
	calls    int
}

func (f *fakeClassifier) Analyze(_ context.Context, text string) types.ClassificationResult {
	f.calls++
	return types.ClassificationResult{
		Category:       f.category,
		SentimentScore: 0.8,
		ReplyText:      "Answer to: " + text,
	}
}

var _ classifier.Classifier = (*fakeClassifier)(nil)

// memoryRecorder collects audit records, optionally failing first.
type memoryRecorder struct {
	mu      sync.Mutex
	records []types.AuditRecord
	fail    bool
}

func (m *memoryRecorder) Insert(_ context.Context, record *types.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("audit store down")
	}
	m.records = append(m.records, *record)
	return nil
}

var _ audit.Recorder = (*memoryRecorder)(nil)

type testEnv struct {
	worker   *Worker
	recorder *memoryRecorder
	producer *mocks.SyncProducer
	cache    *resultcache.Cache
}

func newTestEnv(ctx context.Context, t *testing.T, rd *redistest.Redis) *testEnv {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, config)
	recorder := &memoryRecorder{}
	cache := &resultcache.Cache{Redis: rd.Client, KeyPrefix: "result_", TTL: time.Hour}
	worker := &Worker{
		Limiter: &ratelimit.Limiter{
			Redis:     rd.Client,
			KeyPrefix: "rate_",
			Max:       5,
			Window:    time.Minute,
		},
		Classifier: &fakeClassifier{category: types.CategoryFAQ},
		Cache:      cache,
		Audit:      recorder,
		AuditMode:  audit.ModeBestEffort,
		Producer:   producer,
		OutTopic:   "outgoing-notifications",
		Log:        zaptest.NewLogger(t),
	}
	return &testEnv{worker: worker, recorder: recorder, producer: producer, cache: cache}
}

func queryPayload(t *testing.T, sender, content string) []byte {
	buf, err := json.Marshal(&types.Query{
		SchemaVersion: types.SchemaVersion,
		Platform:      types.PlatformYouTube,
		SenderID:      sender,
		Content:       content,
		Status:        types.StatusReceived,
		Timestamp:     time.Now().UTC(),
	})
	require.NoError(t, err)
	return buf
}

func TestRateLimitScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)

	// Five queries in one window pass through the classifier.
	for i := 0; i < 5; i++ {
		env.producer.ExpectSendMessageAndSucceed()
		payload := queryPayload(t, "alice", fmt.Sprintf("question %d", i))
		require.NoError(t, env.worker.Process(ctx, payload))
	}
	got, ok, err := env.cache.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.CategoryFAQ, got.Category)

	// The sixth is rejected but still cached, audited and notified.
	env.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(buf []byte) error {
		n, err := types.DecodeNotification(buf)
		if err != nil {
			return err
		}
		if n.RecipientAddress != "youtube:alice" {
			return fmt.Errorf("unexpected recipient: %s", n.RecipientAddress)
		}
		return nil
	})
	require.NoError(t, env.worker.Process(ctx, queryPayload(t, "alice", "question 6")))

	got, ok, err = env.cache.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.RateLimitedResult(), *got)

	require.Len(t, env.recorder.records, 6)
	assert.Equal(t, types.CategorySpam, env.recorder.records[5].Category)
	assert.Equal(t, 5, env.worker.Classifier.(*fakeClassifier).calls,
		"rejected query must not reach the classifier")
}

func TestClassifierFailureScenario(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)

	// Point the real classifier client at a dead address to force the
	// fail-closed path.
	env.worker.Classifier = &classifier.Client{
		BaseURL: "http://127.0.0.1:1",
		Model:   "test-model",
		Log:     zaptest.NewLogger(t),
	}
	env.producer.ExpectSendMessageAndSucceed()
	require.NoError(t, env.worker.Process(ctx, queryPayload(t, "bob", "hello?")))

	got, ok, err := env.cache.Get(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.FallbackResult(), *got)

	require.Len(t, env.recorder.records, 1)
	assert.Equal(t, types.CategoryError, env.recorder.records[0].Category)
	assert.Equal(t, 0.5, env.recorder.records[0].SentimentScore)
}

func TestMalformedPayload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)
	env.worker.DeadTopic = "applicant-queries.dead"

	// Malformed payloads are acknowledged after dead-lettering, never retried.
	env.producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(buf []byte) error {
		if string(buf) != "{{{" {
			return fmt.Errorf("dead letter should carry the raw payload")
		}
		return nil
	})
	require.NoError(t, env.worker.Process(ctx, []byte("{{{")))
	assert.Empty(t, env.recorder.records)
}

func TestAuditModes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)

	// Best effort: a failed audit write does not block acknowledgment.
	env.recorder.fail = true
	env.producer.ExpectSendMessageAndSucceed()
	require.NoError(t, env.worker.Process(ctx, queryPayload(t, "carol", "q1")))

	// Strict: the sequence aborts before publishing, message stays
	// unacknowledged.
	env.worker.AuditMode = audit.ModeStrict
	err := env.worker.Process(ctx, queryPayload(t, "carol", "q2"))
	require.Error(t, err)

	// Redelivery after the store recovers re-runs the whole sequence.
	// The cache overwrite and the extra rate-limit count are tolerated.
	env.recorder.fail = false
	env.producer.ExpectSendMessageAndSucceed()
	require.NoError(t, env.worker.Process(ctx, queryPayload(t, "carol", "q2")))
	require.Len(t, env.recorder.records, 1)
	assert.Equal(t, "q2", env.recorder.records[0].Question)

	got, ok, err := env.cache.Get(ctx, "carol")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestConsumeClaim(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)

	claim := &saramamock.ConsumerGroupClaim{
		MTopic: "applicant-queries",
		MMessages: []*sarama.ConsumerMessage{
			{Value: queryPayload(t, "alice", "q1")},
			{Value: queryPayload(t, "bob", "q2")},
		},
	}
	claim.Init()
	session := &saramamock.ConsumerGroupSession{MContext: ctx}
	env.producer.ExpectSendMessageAndSucceed()
	env.producer.ExpectSendMessageAndSucceed()
	require.NoError(t, env.worker.ConsumeClaim(session, claim))
	assert.Equal(t, []int64{0, 1}, session.Marked)
	assert.Equal(t, 2, session.Commits, "one commit per message")
}

func TestConsumeClaimAbortsWithoutAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rd := redistest.NewRedis(ctx, t)
	defer rd.Close(t)
	env := newTestEnv(ctx, t, rd)
	env.worker.AuditMode = audit.ModeStrict
	env.recorder.fail = true

	claim := &saramamock.ConsumerGroupClaim{
		MTopic: "applicant-queries",
		MMessages: []*sarama.ConsumerMessage{
			{Value: queryPayload(t, "alice", "q1")},
		},
	}
	claim.Init()
	session := &saramamock.ConsumerGroupSession{MContext: ctx}
	require.Error(t, env.worker.ConsumeClaim(session, claim))
	assert.Empty(t, session.Marked, "failed message must stay unacknowledged")
}

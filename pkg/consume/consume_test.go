package consume

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeGroup fails a fixed number of Consume calls, then blocks until the
// context closes.
type fakeGroup struct {
	failures int
	calls    int
}

func (g *fakeGroup) Consume(ctx context.Context, _ []string, _ sarama.ConsumerGroupHandler) error {
	g.calls++
	if g.calls <= g.failures {
		return errors.New("broker unreachable")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (g *fakeGroup) Errors() <-chan error { return nil }

func (g *fakeGroup) Close() error { return nil }

var _ sarama.ConsumerGroup = (*fakeGroup)(nil)

func TestRunGroupRecovers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	group := &fakeGroup{failures: 2}
	policy := Policy{RetryInterval: 10 * time.Millisecond, MaxAttempts: 5}
	err := RunGroup(ctx, group, []string{"t"}, nil, policy, zaptest.NewLogger(t))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 3, group.calls, "two failures then a healthy session")
}

func TestRunGroupGivesUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group := &fakeGroup{failures: 100}
	policy := Policy{RetryInterval: time.Millisecond, MaxAttempts: 3}
	err := RunGroup(ctx, group, []string{"t"}, nil, policy, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 4, group.calls, "initial attempt plus three retries")
}

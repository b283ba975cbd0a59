// Package consume supervises Kafka consumer group sessions.
package consume

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Policy caps how a broken consumer group session is retried.
type Policy struct {
	RetryInterval time.Duration // delay between attempts
	MaxAttempts   uint64        // consecutive failures before giving up
}

// DefaultPolicy retries every 5 seconds, 5 times in a row.
var DefaultPolicy = Policy{
	RetryInterval: 5 * time.Second,
	MaxAttempts:   5,
}

// RunGroup consumes the topics until the context closes.
//
// sarama ends a Consume call on every group rebalance; that is a normal
// return and the loop re-enters immediately. Session errors are retried on
// a fixed interval, and once MaxAttempts consecutive attempts have failed
// the last error surfaces to the caller so the process supervisor sees a
// hard failure instead of an unbounded sleep-and-retry loop.
func RunGroup(
	ctx context.Context,
	group sarama.ConsumerGroup,
	topics []string,
	handler sarama.ConsumerGroupHandler,
	policy Policy,
	log *zap.Logger,
) error {
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(policy.RetryInterval), policy.MaxAttempts)
	bo.Reset()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := group.Consume(ctx, topics, handler)
		if err == nil {
			// Rebalance, rejoin the group.
			bo.Reset()
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("consumer group failed %d times in a row: %w",
				policy.MaxAttempts+1, err)
		}
		log.Error("Consumer group session failed, retrying",
			zap.Error(err), zap.Duration("retry_in", wait))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

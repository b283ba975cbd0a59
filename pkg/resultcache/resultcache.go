// Package resultcache stores the most recent classification result per sender.
//
// The cache is a best-effort delivery channel for polling readers, not a
// system of record. Entries expire after a bounded TTL and each new query
// from a sender overwrites the previous entry.
package resultcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.scholarhub.net/triage/pkg/types"
)

// DefaultTTL is how long a cached result stays readable.
const DefaultTTL = time.Hour

// Cache maps sender identities to their latest classification result.
type Cache struct {
	// Required components
	Redis *redis.Client
	// Required config
	KeyPrefix string
	TTL       time.Duration
}

// Put overwrites the sender's cache entry and refreshes its TTL.
func (c *Cache) Put(ctx context.Context, senderID string, result *types.ClassificationResult) error {
	buf, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := c.Redis.Set(ctx, c.key(senderID), buf, c.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write result cache: %w", err)
	}
	return nil
}

// Get returns the sender's latest result. Absent and expired entries are
// indistinguishable: both return ok == false.
func (c *Cache) Get(ctx context.Context, senderID string) (*types.ClassificationResult, bool, error) {
	buf, err := c.Redis.Get(ctx, c.key(senderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to read result cache: %w", err)
	}
	result := new(types.ClassificationResult)
	if err := json.Unmarshal(buf, result); err != nil {
		return nil, false, fmt.Errorf("corrupt result cache entry: %w", err)
	}
	return result, true, nil
}

func (c *Cache) key(senderID string) string {
	return c.KeyPrefix + senderID
}

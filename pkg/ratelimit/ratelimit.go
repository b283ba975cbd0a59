// Package ratelimit implements fixed-window per-sender rate limiting on Redis.
//
// Counters live entirely in Redis so that any number of worker instances
// share the same view of a sender's quota. The increment and the expiry of a
// fresh counter happen inside one Lua script; concurrent workers hitting the
// same sender can never under-count or leave a counter without an expiry.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultMaxPerWindow is the number of queries a sender may issue per window.
const DefaultMaxPerWindow = 5

// DefaultWindow is the length of the fixed rate-limiting window.
const DefaultWindow = time.Minute

// Limiter is a counting gate keyed by sender identity.
type Limiter struct {
	// Required components
	Redis *redis.Client
	// Required config
	KeyPrefix string        // prefix for counter keys
	Max       int64         // admitted queries per sender per window
	Window    time.Duration // fixed window length
}

// Script: Count an attempt against the sender's window.
// Key 1: Counter key
// Argument 1: Window length in seconds
// Returns the post-increment count.
//
// The expiry is only set when the INCR created the key, so the window
// runs from the sender's first attempt and resets cleanly when it elapses.
const admitScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`

// Admit counts an attempt by the given sender and reports whether it is
// within the window quota. The count is unconditional: rejected attempts
// still use up the window, so a burst never gains extra admissions.
func (l *Limiter) Admit(ctx context.Context, senderID string) (bool, error) {
	windowSecs := int64(l.Window / time.Second)
	if windowSecs < 1 {
		windowSecs = 1
	}
	res, err := l.Redis.Eval(ctx, admitScript,
		[]string{l.key(senderID)}, windowSecs).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count rate-limit attempt: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("invalid return from rate-limit script: %#v", res)
	}
	return count <= l.Max, nil
}

func (l *Limiter) key(senderID string) string {
	return l.KeyPrefix + senderID
}

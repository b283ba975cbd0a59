// Package redistest spins up an ephemeral Redis server for unit tests.
package redistest

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.scholarhub.net/triage/pkg/exectest"
)

// Redis is a throwaway Redis server plus a connected client.
type Redis struct {
	Client *redis.Client

	bg      *exectest.Background
	tempDir string
}

// NewRedis starts a redis-server subprocess on a unix socket and waits for
// it to answer pings. The test fails if no server comes up.
func NewRedis(ctx context.Context, t testing.TB) *Redis {
	dir, err := ioutil.TempDir("", "redistest-")
	if err != nil {
		t.Fatal("Failed to create temp dir:", err)
	}
	socket := filepath.Join(dir, "redis.sock")
	cmd := exec.CommandContext(ctx, "redis-server",
		"--port", "0",
		"--unixsocket", socket,
		"--unixsocketperm", "700")
	cmd.Dir = dir
	bg := exectest.NewBackground(t, cmd)
	bg.Name = "redis"
	bg.LogStderr = true
	bg.Start()
	client := redis.NewClient(&redis.Options{
		Network: "unix",
		Addr:    socket,
	})
	// Poll until the server accepts connections.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var pingErr error
	for try := 0; try < 50; try++ {
		if try > 0 {
			select {
			case <-ticker.C:
			case <-bg.Done():
				t.Fatal("redis-server exited early:", bg.Err())
			}
		}
		pingErr = client.Ping(ctx).Err()
		if pingErr == nil {
			return &Redis{Client: client, bg: bg, tempDir: dir}
		}
		if errors.Is(pingErr, redis.ErrClosed) || errors.Is(pingErr, os.ErrNotExist) {
			continue // still starting up
		}
	}
	bg.Close()
	t.Fatal("Failed to ping Redis:", pingErr)
	return nil
}

// Close shuts down the server and removes its working directory.
func (r *Redis) Close(t testing.TB) {
	_ = r.Client.Close()
	r.bg.Close()
	_ = os.RemoveAll(r.tempDir)
}

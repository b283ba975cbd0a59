package knowledge

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Directory answers whether an attributed referrer is actually registered.
type Directory interface {
	IsRegistered(ctx context.Context, username string) (bool, error)
}

// StoreDirectory answers directly from the knowledge store.
type StoreDirectory struct {
	Store *Store
}

var _ Directory = (*StoreDirectory)(nil)

// IsRegistered looks the referrer up in MySQL.
func (d *StoreDirectory) IsRegistered(ctx context.Context, username string) (bool, error) {
	_, err := d.Store.GetReferrer(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// CachedDirectory is an in-memory caching layer over another directory.
// Both hits and misses are cached, since most queries name the same handful
// of referrers over and over.
type CachedDirectory struct {
	Backend Directory
	Cache   *lru.Cache
	TTL     time.Duration
}

var _ Directory = (*CachedDirectory)(nil)

type directoryEntry struct {
	registered  bool
	lastUpdated time.Time
}

// NewCachedDirectory creates a caching layer keeping up to size entries.
func NewCachedDirectory(backend Directory, size int, ttl time.Duration) (*CachedDirectory, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{Backend: backend, Cache: cache, TTL: ttl}, nil
}

// IsRegistered consults the cache first and falls back to the backend.
func (d *CachedDirectory) IsRegistered(ctx context.Context, username string) (bool, error) {
	if entryI, ok := d.Cache.Get(username); ok {
		entry := entryI.(*directoryEntry)
		if time.Since(entry.lastUpdated) <= d.TTL {
			return entry.registered, nil
		}
		d.Cache.Remove(username)
	}
	registered, err := d.Backend.IsRegistered(ctx, username)
	if err != nil {
		return false, err
	}
	d.Cache.Add(username, &directoryEntry{
		registered:  registered,
		lastUpdated: time.Now(),
	})
	return registered, nil
}

// Package cache is the content-addressed result cache in front of the paid
// extraction call. Keys are fingerprints of the normalized input text, so
// identical requests cost one upstream call per TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"insightgraph/internal/kvstore"
	"insightgraph/internal/model"
)

const keyPrefix = "cache:extraction:"

// Origin says where a result came from.
type Origin int

const (
	Miss Origin = iota
	Hit
)

func (o Origin) String() string {
	if o == Hit {
		return "hit"
	}
	return "miss"
}

type entry struct {
	Graph    *model.Graph `json:"graph"`
	StoredAt time.Time    `json:"stored_at"`
}

// Cache wraps the shared store with a small in-process LRU so hot keys skip
// the network round trip. The LRU TTL is kept short relative to the shared
// TTL; the shared store stays the source of truth.
type Cache struct {
	store kvstore.Store
	local *lru.LRU[string, []byte]
	ttl   time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New builds a Cache. localSize <= 0 disables the in-process layer.
func New(store kvstore.Store, ttl time.Duration, localSize int, localTTL time.Duration) *Cache {
	c := &Cache{store: store, ttl: ttl}
	if localSize > 0 {
		if localTTL <= 0 || localTTL > ttl {
			localTTL = ttl
		}
		c.local = lru.NewLRU[string, []byte](localSize, nil, localTTL)
	}
	return c
}

// Fingerprint derives the cache key body for a text: whitespace runs
// collapsed, surrounding space trimmed, case preserved, sha256, truncated to
// a fixed 16 hex chars.
func Fingerprint(text string) string {
	norm := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:16]
}

// Lookup returns the cached graph for text, if any. Store errors count as
// misses; the cache never fails a request.
func (c *Cache) Lookup(ctx context.Context, text string) (*model.Graph, bool) {
	key := keyPrefix + Fingerprint(text)

	raw, ok := c.localGet(key)
	if !ok {
		var err error
		raw, err = c.store.Get(ctx, key)
		if err != nil {
			if err != kvstore.ErrNotFound {
				log.Printf("[Cache] lookup error for %s: %v", key, err)
			}
			c.misses.Add(1)
			return nil, false
		}
		c.localSet(key, raw)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.Graph == nil {
		log.Printf("[Cache] dropping corrupt entry %s", key)
		_ = c.store.Delete(ctx, key)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return e.Graph, true
}

// Store writes a computed result under the text's fingerprint with the cache
// TTL. Callers treat failures as lost future benefit, not request failures.
func (c *Cache) Store(ctx context.Context, text string, g *model.Graph) error {
	key := keyPrefix + Fingerprint(text)
	raw, err := json.Marshal(entry{Graph: g, StoredAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return err
	}
	c.localSet(key, raw)
	return nil
}

// GetOrCompute looks the text up and, on a miss, invokes fn exactly once and
// stores its result before returning. Concurrent misses for the same
// fingerprint are not deduplicated here; the coordinator layers singleflight
// on top where that matters.
func (c *Cache) GetOrCompute(ctx context.Context, text string, fn func(context.Context) (*model.Graph, error)) (*model.Graph, Origin, error) {
	if g, ok := c.Lookup(ctx, text); ok {
		return g, Hit, nil
	}
	g, err := fn(ctx)
	if err != nil {
		return nil, Miss, err
	}
	if err := c.Store(ctx, text, g); err != nil {
		// Best effort: the compute succeeded, only the future benefit is lost.
		log.Printf("[Cache] store failed after compute: %v", err)
	}
	return g, Miss, nil
}

// Stats returns the hit/miss counters since process start.
func (c *Cache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) localGet(key string) ([]byte, bool) {
	if c.local == nil {
		return nil, false
	}
	return c.local.Get(key)
}

func (c *Cache) localSet(key string, raw []byte) {
	if c.local != nil {
		c.local.Add(key, raw)
	}
}

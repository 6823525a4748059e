package bus

import (
	"sync"
	"time"

	"fiatjaf.com/nostrbus"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultDedupSize = 5000
	DefaultDedupTTL  = 10 * time.Minute
)

// DedupCache remembers event ids seen on any relay. It is bounded by count and by age;
// when full the id seen longest ago goes first.
type DedupCache struct {
	mu  sync.Mutex
	lru *expirable.LRU[nostr.ID, struct{}]
}

// NewDedupCache returns a cache holding at most size ids for at most ttl each.
func NewDedupCache(size int, ttl time.Duration) *DedupCache {
	if size <= 0 {
		size = DefaultDedupSize
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupCache{lru: expirable.NewLRU[nostr.ID, struct{}](size, nil, ttl)}
}

// Seen reports whether id was already recorded and records it if it wasn't.
// Check and insert happen under the same lock, so concurrent callers with the same id
// get exactly one false.
func (d *DedupCache) Seen(id nostr.ID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Peek so that repeated sightings don't refresh the eviction order
	if _, ok := d.lru.Peek(id); ok {
		return true
	}
	d.lru.Add(id, struct{}{})
	return false
}

// Len is the number of ids currently remembered.
func (d *DedupCache) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Len()
}

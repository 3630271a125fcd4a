// Package dedupe tracks (neo, account) pairs already accepted by the winners ledger
// so repeated reports are answered without a store round-trip.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

const defaultMaxSize = 50000

// Key identifies one winner entry.
type Key struct {
	NeoID   string
	Account string
}

// Deduper records seen keys to ensure at-most-once store writes per key.
type Deduper interface {
	// SeenAndRecord atomically checks if k was seen and records it if not.
	// Returns true if k was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, k Key) bool

	// Unrecord removes k so a retry reaches the store again. Used when the
	// store write failed after the key was recorded.
	Unrecord(ctx context.Context, k Key)

	// ForgetNeo drops every key of neoID and returns how many were removed.
	ForgetNeo(ctx context.Context, neoID string) int

	// ForgetAccount drops every key of account and returns how many were removed.
	ForgetAccount(ctx context.Context, account string) int

	Size() int64
}

// inMemoryDeduper keeps keys in insertion order. When bounded, the oldest key is
// evicted first; an evicted key only costs one extra idempotent store write.
type inMemoryDeduper struct {
	mu      sync.Mutex
	order   *list.List // of Key, oldest at front
	seen    map[Key]*list.Element
	byNeo   map[string]map[string]struct{}
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		order:   list.New(),
		seen:    make(map[Key]*list.Element),
		byNeo:   make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, k Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[k]; ok {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		if oldest := d.order.Front(); oldest != nil {
			d.removeLocked(oldest)
		}
	}
	d.seen[k] = d.order.PushBack(k)
	accounts, ok := d.byNeo[k.NeoID]
	if !ok {
		accounts = make(map[string]struct{})
		d.byNeo[k.NeoID] = accounts
	}
	accounts[k.Account] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, k Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.seen[k]; ok {
		d.removeLocked(e)
	}
}

func (d *inMemoryDeduper) ForgetNeo(_ context.Context, neoID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for account := range d.byNeo[neoID] {
		if e, ok := d.seen[Key{NeoID: neoID, Account: account}]; ok {
			d.removeLocked(e)
			n++
		}
	}
	return n
}

func (d *inMemoryDeduper) ForgetAccount(_ context.Context, account string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for neoID := range d.byNeo {
		if e, ok := d.seen[Key{NeoID: neoID, Account: account}]; ok {
			d.removeLocked(e)
			n++
		}
	}
	return n
}

// removeLocked must be called with d.mu held.
func (d *inMemoryDeduper) removeLocked(e *list.Element) {
	k := e.Value.(Key)
	d.order.Remove(e)
	delete(d.seen, k)
	if accounts, ok := d.byNeo[k.NeoID]; ok {
		delete(accounts, k.Account)
		if len(accounts) == 0 {
			delete(d.byNeo, k.NeoID)
		}
	}
	d.size.Add(-1)
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

package core

import (
	"container/list"
	"fmt"
)

// DBIdempotencyChecker is the cold-path dedup lookup against the op log.
type DBIdempotencyChecker interface {
	IsDuplicate(opType string, idempotencyKey string) (bool, error)
}

// IdempotencyChecker deduplicates submitted operations with two tiers: an
// in-core LRU for the hot path and the Postgres op log for keys that aged
// out of it.
type IdempotencyChecker struct {
	lru       *idempotencyLRU
	dbChecker DBIdempotencyChecker

	duplicatesLRU int64
	duplicatesDB  int64
	tier2Errors   int64
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       newIdempotencyLRU(capacity),
		dbChecker: dbChecker,
	}
}

// IsDuplicate reports whether an operation has already been applied.
func (ic *IdempotencyChecker) IsDuplicate(opType string, idempotencyKey string) bool {
	compositeKey := fmt.Sprintf("%s:%s", opType, idempotencyKey)

	if ic.lru.contains(compositeKey) {
		ic.duplicatesLRU++
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(opType, idempotencyKey)
		if err != nil {
			// A DB fault must not block the core; assume not duplicate and
			// let the op log's unique key catch any miss at persist time.
			ic.tier2Errors++
			return false
		}
		if isDup {
			ic.duplicatesDB++
			ic.lru.add(compositeKey)
			return true
		}
	}
	return false
}

// MarkProcessed records a key after the operation applied.
func (ic *IdempotencyChecker) MarkProcessed(opType string, idempotencyKey string) {
	ic.lru.add(fmt.Sprintf("%s:%s", opType, idempotencyKey))
}

// Warm preloads composite keys on restart so recently applied operations
// skip the cold path.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.lru.add(key)
	}
}

// Stats returns (lru hits, db hits, db errors) for metrics export.
func (ic *IdempotencyChecker) Stats() (int64, int64, int64) {
	return ic.duplicatesLRU, ic.duplicatesDB, ic.tier2Errors
}

// Size returns the number of cached keys.
func (ic *IdempotencyChecker) Size() int {
	return ic.lru.size()
}

// idempotencyLRU caches recent keys.
// Not thread-safe — only accessed from the single-threaded core.
type idempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
}

func newIdempotencyLRU(capacity int) *idempotencyLRU {
	return &idempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (lru *idempotencyLRU) contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.order.MoveToFront(elem)
	}
	return exists
}

func (lru *idempotencyLRU) add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
	}
}

func (lru *idempotencyLRU) size() int {
	return lru.order.Len()
}

// keysList exports cached keys oldest-first, for snapshot warm-up.
func (lru *idempotencyLRU) keysList() []string {
	out := make([]string, 0, lru.order.Len())
	for elem := lru.order.Back(); elem != nil; elem = elem.Prev() {
		out = append(out, elem.Value.(string))
	}
	return out
}

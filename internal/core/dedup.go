package core

import (
	"container/list"
	"errors"
	"fmt"

	"TimeMarket/internal/observability"
)

// ErrDedupUnavailable means the durable duplicate lookup failed. The
// operation is refused rather than risk applying it twice; callers retry.
var ErrDedupUnavailable = errors.New("duplicate lookup unavailable")

// DBIdempotencyChecker answers whether an operation is already in the
// durable event log.
type DBIdempotencyChecker interface {
	IsDuplicate(eventType string, idempotencyKey string) (bool, error)
}

// dedupGuard remembers applied operations. Recent keys live in a bounded
// in-memory window; anything older falls through to the event log.
type dedupGuard struct {
	recent  *recentKeys
	durable DBIdempotencyChecker
	metrics *observability.Metrics
}

func newDedupGuard(capacity int, durable DBIdempotencyChecker, metrics *observability.Metrics) *dedupGuard {
	return &dedupGuard{recent: newRecentKeys(capacity), durable: durable, metrics: metrics}
}

func dedupKey(op, key string) string { return op + ":" + key }

// seen reports whether op/key was applied before.
func (g *dedupGuard) seen(op, key string) (bool, error) {
	k := dedupKey(op, key)
	if g.recent.touch(k) {
		g.count(op, "lru")
		return true, nil
	}
	if g.durable == nil {
		return false, nil
	}
	dup, err := g.durable.IsDuplicate(op, key)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrDedupUnavailable, err)
	}
	if dup {
		g.count(op, "postgres")
		g.recent.add(k)
	}
	return dup, nil
}

// remember records a successful application. Rejections are never
// remembered, so a corrected resubmission under the same key goes through.
func (g *dedupGuard) remember(op, key string) {
	g.recent.add(dedupKey(op, key))
	if g.metrics != nil {
		g.metrics.DedupLRUSize.Set(float64(g.recent.len()))
	}
}

func (g *dedupGuard) count(op, tier string) {
	if g.metrics != nil {
		g.metrics.IdempotencyDuplicates.WithLabelValues(op, tier).Inc()
	}
}

// recentKeys is a fixed-capacity LRU set. Core goroutine only.
type recentKeys struct {
	capacity int
	index    map[string]*list.Element
	order    *list.List // front is most recent
}

func newRecentKeys(capacity int) *recentKeys {
	if capacity < 1 {
		capacity = 1
	}
	return &recentKeys{
		capacity: capacity,
		index:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (r *recentKeys) touch(k string) bool {
	el, ok := r.index[k]
	if ok {
		r.order.MoveToFront(el)
	}
	return ok
}

func (r *recentKeys) add(k string) {
	if r.touch(k) {
		return
	}
	r.index[k] = r.order.PushFront(k)
	for r.order.Len() > r.capacity {
		oldest := r.order.Back()
		r.order.Remove(oldest)
		delete(r.index, oldest.Value.(string))
	}
}

// load inserts keys ordered oldest first, as produced by snapshot.
func (r *recentKeys) load(keys []string) {
	for _, k := range keys {
		r.add(k)
	}
}

// snapshot lists keys oldest first.
func (r *recentKeys) snapshot() []string {
	out := make([]string, 0, r.order.Len())
	for el := r.order.Back(); el != nil; el = el.Prev() {
		out = append(out, el.Value.(string))
	}
	return out
}

func (r *recentKeys) len() int { return r.order.Len() }

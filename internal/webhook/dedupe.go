package webhook

import (
	"container/list"
	"sync"
	"time"
)

// seenCache remembers recent update ids so platform redeliveries are
// acknowledged without being logged twice. Entries share one TTL, so the
// oldest entry is always at the front of order.
type seenCache struct {
	mu      sync.Mutex
	seen    map[int64]*list.Element
	order   *list.List // of seenEntry, oldest first
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

type seenEntry struct {
	id int64
	at time.Time
}

func newSeenCache(ttl time.Duration, maxSize int, now func() time.Time) *seenCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 4096
	}
	if now == nil {
		now = time.Now
	}
	return &seenCache{
		seen:    make(map[int64]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
	}
}

// CheckAndMark reports whether id was already seen; if not, it is marked.
func (c *seenCache) CheckAndMark(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.seen[id] = c.order.PushBack(seenEntry{id: id, at: now})
	return false
}

// Forget unmarks id so a redelivery is processed again.
func (c *seenCache) Forget(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.seen[id]; ok {
		c.removeLocked(el)
	}
}

func (c *seenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *seenCache) expireLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		if now.Sub(el.Value.(seenEntry).at) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *seenCache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e := c.order.Remove(el).(seenEntry)
	delete(c.seen, e.id)
}

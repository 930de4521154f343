// Package dedup suppresses repeated APRS packets. The same packet commonly
// arrives several times within seconds, once per digipeater or IGate that
// relayed it; a Cache remembers what was seen for a fixed window.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"aprslink/pkg/packet"
)

// Options configure a Cache. Zero values pick defaults.
type Options struct {
	Window time.Duration // how long a key counts as seen (default 30s)
	Shards int           // lock shards (default 16)
	Sweep  time.Duration // janitor period (default Window); <0 disables it
}

// Cache is a sharded set of keys with a fixed time to live.
type Cache struct {
	window time.Duration
	shards []shard
	nowFn  func() time.Time

	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mKeys    atomic.Int64
	mHits    atomic.Uint64
	mExpired atomic.Uint64
}

type shard struct {
	mu sync.Mutex
	m  map[string]int64 // key -> expiry, unix nanos
}

// New starts a cache. Close stops its janitor.
func New(o Options) *Cache {
	if o.Window <= 0 {
		o.Window = 30 * time.Second
	}
	if o.Shards <= 0 {
		o.Shards = 16
	}
	if o.Sweep == 0 {
		o.Sweep = o.Window
	}
	c := &Cache{
		window:  o.Window,
		shards:  make([]shard, o.Shards),
		nowFn:   time.Now,
		closeCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i].m = make(map[string]int64)
	}
	if o.Sweep > 0 {
		c.wg.Add(1)
		go c.janitor(o.Sweep)
	}
	return c
}

// Window reports the suppression window.
func (c *Cache) Window() time.Duration { return c.window }

func (c *Cache) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &c.shards[h%uint64(len(c.shards))]
}

// Seen records key and reports whether it was already recorded within the
// window. A repeat does not extend the window.
func (c *Cache) Seen(key string) bool {
	now := c.nowFn().UnixNano()
	sh := c.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if exp, ok := sh.m[key]; ok {
		if exp > now {
			c.mHits.Add(1)
			return true
		}
		c.mExpired.Add(1)
		c.mKeys.Add(-1)
	}
	sh.m[key] = now + int64(c.window)
	c.mKeys.Add(1)
	return false
}

// SeenPacket is Seen keyed by Key(p). A nil packet is never a duplicate.
func (c *Cache) SeenPacket(p *packet.Packet) bool {
	if p == nil {
		return false
	}
	return c.Seen(Key(p))
}

// Key identifies a packet for duplicate detection: source, destination and
// information field. The digipeater path is left out since it differs
// between copies.
func Key(p *packet.Packet) string {
	return p.FromCall + ">" + p.ToCall + ":" + string(p.Payload())
}

// Sweep drops expired keys and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.nowFn().UnixNano()
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		for k, exp := range sh.m {
			if exp <= now {
				delete(sh.m, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	if n > 0 {
		c.mExpired.Add(uint64(n))
		c.mKeys.Add(int64(-n))
	}
	return n
}

func (c *Cache) janitor(every time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.closeCh:
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

// Close stops the janitor. The cache stays usable.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.closeCh) })
	c.wg.Wait()
}

// Stats is a point-in-time view of the cache counters.
type Stats struct {
	Keys       int64
	Duplicates uint64
	Expired    uint64
}

func (c *Cache) Stats() Stats {
	return Stats{Keys: c.mKeys.Load(), Duplicates: c.mHits.Load(), Expired: c.mExpired.Load()}
}

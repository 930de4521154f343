package dedup

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aprslink/pkg/packet"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newCache(t *testing.T, window time.Duration) (*Cache, *clock) {
	t.Helper()
	c := New(Options{Window: window, Sweep: -1})
	t.Cleanup(c.Close)
	clk := &clock{now: time.Unix(1700000000, 0)}
	c.nowFn = clk.Now
	return c, clk
}

func TestSeenWithinWindow(t *testing.T) {
	c, clk := newCache(t, 30*time.Second)

	assert.False(t, c.Seen("a"))
	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))

	clk.Advance(29 * time.Second)
	assert.True(t, c.Seen("a"), "repeat does not extend the window")
	clk.Advance(time.Second)
	assert.False(t, c.Seen("a"))

	s := c.Stats()
	assert.Equal(t, int64(2), s.Keys)
	assert.Equal(t, uint64(2), s.Duplicates)
	assert.Equal(t, uint64(1), s.Expired)
}

func TestSweep(t *testing.T) {
	c, clk := newCache(t, time.Second)
	for i := 0; i < 100; i++ {
		c.Seen(fmt.Sprintf("k%d", i))
	}
	assert.Equal(t, 0, c.Sweep())
	clk.Advance(time.Second)
	assert.Equal(t, 100, c.Sweep())
	assert.Equal(t, int64(0), c.Stats().Keys)
}

func TestPacketKeyIgnoresPath(t *testing.T) {
	c, _ := newCache(t, time.Minute)

	a, err := packet.FromLine("K1ABC-9>APRS,WIDE1-1,WIDE2-1:!4903.50N/07201.75W-")
	require.NoError(t, err)
	b, err := packet.FromLine("K1ABC-9>APRS,N0DIGI*,WIDE2-1*,qAR,IGATE:!4903.50N/07201.75W-")
	require.NoError(t, err)
	other, err := packet.FromLine("K1ABC-9>APRS:!4903.51N/07201.75W-")
	require.NoError(t, err)

	assert.Equal(t, Key(a), Key(b))
	assert.False(t, c.SeenPacket(a))
	assert.True(t, c.SeenPacket(b))
	assert.False(t, c.SeenPacket(other))
	assert.False(t, c.SeenPacket(nil))
}

func TestJanitorStopsOnClose(t *testing.T) {
	c := New(Options{Window: 10 * time.Millisecond, Sweep: 5 * time.Millisecond})
	c.Seen("x")
	assert.Eventually(t, func() bool { return c.Stats().Keys == 0 }, time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}

func TestConcurrentSeen(t *testing.T) {
	c, _ := newCache(t, time.Minute)
	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if !c.Seen(fmt.Sprintf("k%d", i)) {
					mu.Lock()
					fresh++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 200, fresh)
	assert.Equal(t, int64(200), c.Stats().Keys)
}

func BenchmarkSeen(b *testing.B) {
	c := New(Options{Sweep: -1})
	defer c.Close()
	keys := make([]string, 1024)
	for i := range keys {
		keys[i] = fmt.Sprintf("N%dCALL>APRS:>status %d", i%10, i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Seen(keys[i%len(keys)])
			i++
		}
	})
}

package dedup

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newWithClock(ttl time.Duration) (*Deduplicator, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	d := New(ttl)
	d.now = c.now
	return d, c
}

func TestClaimWithinTTL(t *testing.T) {
	d, c := newWithClock(10 * time.Second)

	assert.Equal(t, NewlyClaimed, d.Claim("/w/a.txt"))
	assert.Equal(t, AlreadyHandled, d.Claim("/w/a.txt"))

	c.advance(9 * time.Second)
	assert.Equal(t, AlreadyHandled, d.Claim("/w/a.txt"))

	c.advance(2 * time.Second)
	assert.Equal(t, NewlyClaimed, d.Claim("/w/a.txt"))
}

func TestClaimIsCaseInsensitive(t *testing.T) {
	d, _ := newWithClock(10 * time.Second)

	assert.Equal(t, NewlyClaimed, d.Claim("/W/Report.TXT"))
	assert.Equal(t, AlreadyHandled, d.Claim("/w/report.txt"))
	assert.Equal(t, AlreadyHandled, d.Claim("/w/./report.txt"))
}

func TestMarkAndRelease(t *testing.T) {
	d, _ := newWithClock(10 * time.Second)

	d.Mark("/q/1_a.txt")
	assert.Equal(t, AlreadyHandled, d.Claim("/q/1_a.txt"))

	d.Release("/q/1_a.txt")
	assert.Equal(t, NewlyClaimed, d.Claim("/q/1_a.txt"))
}

func TestSweepDropsOldEntries(t *testing.T) {
	d, c := newWithClock(time.Second)

	d.Mark("/w/old")
	c.advance(4 * time.Second)
	d.Mark("/w/recent")
	c.advance(2 * time.Second)

	assert.Equal(t, 1, d.Sweep())
	assert.Equal(t, 1, d.Len())
}

func TestClaimSweepsOpportunistically(t *testing.T) {
	d, c := newWithClock(time.Second)

	for _, p := range []string{"/a", "/b", "/c"} {
		d.Mark(p)
	}
	c.advance(10 * time.Second)
	d.Claim("/d")

	assert.Equal(t, 1, d.Len())
}

func TestConcurrentClaimsAdmitOne(t *testing.T) {
	d := New(time.Minute)

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Claim("/w/burst.txt") == NewlyClaimed {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners.Load())
}

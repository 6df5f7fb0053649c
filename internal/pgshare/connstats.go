package pgshare

import (
	"fmt"
	"sync/atomic"
)

// ConnStats tracks lifetime and currently-open connection counts for an
// entity (a listener, a registry, a whole server).
type ConnStats struct {
	total int32
	open  int32
}

// New records a newly accepted/dialed connection and returns its ordinal.
func (c *ConnStats) New() int32 {
	return atomic.AddInt32(&c.total, 1)
}

// Open increments the currently-open count.
func (c *ConnStats) Open() {
	atomic.AddInt32(&c.open, 1)
}

// Close decrements the currently-open count.
func (c *ConnStats) Close() {
	atomic.AddInt32(&c.open, -1)
}

func (c *ConnStats) String() string {
	return fmt.Sprintf("[%d/%d]", atomic.LoadInt32(&c.open), atomic.LoadInt32(&c.total))
}

// Package timestamp implements the logical timestamps attached to change
// events.
//
// A Timestamp is a hybrid logical clock value: a wall-clock component in
// nanoseconds since the UNIX epoch plus the identifier of the node that
// issued it. Timestamps are totally ordered by (Time, ID), which makes
// them causally comparable across nodes even when wall clocks collide.
// The physical component alone is only used as the store's native time
// index; correctness comparisons always use the full timestamp.
package timestamp

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is a causally ordered, globally comparable timestamp.
type Timestamp struct {
	// Time is the wall-clock component in nanoseconds since the UNIX epoch.
	Time uint64

	// ID identifies the node that issued the timestamp.
	ID string
}

// New creates a timestamp from a wall-clock nanosecond value and a node id.
func New(timeNs uint64, id string) Timestamp {
	return Timestamp{Time: timeNs, ID: id}
}

// IsZero reports whether t is the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t.Time == 0 && t.ID == ""
}

// PhysicalTime returns the wall-clock component as a time.Time in UTC.
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, int64(t.Time)).UTC()
}

// Nanos returns the wall-clock component in nanoseconds since the epoch.
func (t Timestamp) Nanos() int64 {
	return int64(t.Time)
}

// String returns the canonical form "<nanoseconds>/<node-id>".
func (t Timestamp) String() string {
	return strconv.FormatUint(t.Time, 10) + "/" + t.ID
}

// Parse parses the canonical "<nanoseconds>/<node-id>" form.
func Parse(s string) (Timestamp, error) {
	timePart, id, ok := strings.Cut(s, "/")
	if !ok {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: missing node id separator", s)
	}
	ns, err := strconv.ParseUint(timePart, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp{Time: ns, ID: id}, nil
}

// Compare returns -1, 0 or 1 depending on whether t is ordered before,
// equal to, or after o. Ties on the wall-clock component are broken by
// the node id.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.Time < o.Time:
		return -1
	case t.Time > o.Time:
		return 1
	}
	return strings.Compare(t.ID, o.ID)
}

// Before reports whether t is ordered before o.
func (t Timestamp) Before(o Timestamp) bool {
	return t.Compare(o) < 0
}

// After reports whether t is ordered after o.
func (t Timestamp) After(o Timestamp) bool {
	return t.Compare(o) > 0
}

// Clock issues monotonically increasing timestamps for a single node.
// Successive calls never return equal or decreasing values, even if the
// wall clock stalls or steps backwards.
type Clock struct {
	mu   sync.Mutex
	id   string
	last uint64
}

// NewClock creates a clock for the given node id.
func NewClock(id string) *Clock {
	return &Clock{id: id}
}

// ID returns the node id of the clock.
func (c *Clock) ID() string {
	return c.id
}

// Now returns a new timestamp strictly greater than any previously issued.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := uint64(time.Now().UnixNano())
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return Timestamp{Time: now, ID: c.id}
}

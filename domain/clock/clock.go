// Package clock provides UTC time, session id, and sequence number helpers.
// The session stores take their ids from NewSessionID; the HTTP server reads
// time.Now directly and the timeline recorders assign seq_id themselves.
package clock

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so tests can substitute a fixed or
// advancing fake without monkey-patching time.Now.
type Clock interface {
	Now() time.Time
}

// System is the production Clock, always returning UTC.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// NewSessionID returns a lowercase UUIDv4 string.
func NewSessionID() string {
	return strings.ToLower(uuid.New().String())
}

// SeqCounter hands out strictly increasing sequence numbers starting at 1,
// without gaps. No other package in the module uses it.
type SeqCounter struct {
	value int64
}

// Next returns the next sequence number, starting at 1 on first call.
func (c *SeqCounter) Next() int64 {
	return atomic.AddInt64(&c.value, 1)
}

// Current returns the last issued sequence number, or 0 if none issued yet.
func (c *SeqCounter) Current() int64 {
	return atomic.LoadInt64(&c.value)
}

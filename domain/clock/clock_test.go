package clock

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystem_NowReturnsUTC(t *testing.T) {
	var c System
	now := c.Now()
	assert.Equal(t, "UTC", now.Location().String())
}

func TestNewSessionID_IsLowercaseAndUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()

	assert.NotEqual(t, a, b)
	assert.Equal(t, a, strings.ToLower(a))
	assert.Len(t, a, 36)
}

func TestSeqCounter_StartsAtOneAndIncrementsMonotonically(t *testing.T) {
	var c SeqCounter
	assert.Equal(t, int64(0), c.Current())

	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(3), c.Next())
	assert.Equal(t, int64(3), c.Current())
}

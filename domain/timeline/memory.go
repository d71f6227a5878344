package timeline

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder is an in-memory Recorder, guarded by a single mutex; per
// session appends are naturally serialized because the shared mutex covers
// the whole map.
type MemoryRecorder struct {
	mu     sync.Mutex
	events map[string][]Event
}

// NewMemoryRecorder returns an empty MemoryRecorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{events: make(map[string][]Event)}
}

func (r *MemoryRecorder) Append(ctx context.Context, sessionID, eventType, status, detail, actor string, now time.Time) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := int64(len(r.events[sessionID])) + 1
	ev := Event{
		SessionID: sessionID,
		SeqID:     seq,
		EventType: eventType,
		Status:    status,
		Detail:    detail,
		Actor:     actor,
		CreatedAt: now,
	}
	r.events[sessionID] = append(r.events[sessionID], ev)
	return ev, nil
}

func (r *MemoryRecorder) List(ctx context.Context, sessionID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events[sessionID]))
	copy(out, r.events[sessionID])
	return out, nil
}

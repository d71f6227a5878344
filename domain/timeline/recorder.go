package timeline

import (
	"context"
	"time"
)

// Recorder owns the timeline exclusively; no other component mutates past
// events. Append assigns the next contiguous seq_id for the session.
type Recorder interface {
	Append(ctx context.Context, sessionID, eventType, status, detail, actor string, now time.Time) (Event, error)
	List(ctx context.Context, sessionID string) ([]Event, error)
}

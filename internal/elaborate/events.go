package elaborate

import "time"

// EventType identifies what happened to a node during elaboration.
type EventType string

const (
	// EventStarted marks the first call issued for a node.
	EventStarted EventType = "started"
	// EventCacheHit marks a node completed from the cache with no call.
	EventCacheHit EventType = "cache_hit"
	// EventRetry marks a transient failure followed by a scheduled retry.
	EventRetry EventType = "retry"
	// EventDone marks a node that reached done.
	EventDone EventType = "done"
	// EventFailed marks a node that reached failed.
	EventFailed EventType = "failed"
	// EventRunDone marks the end of the elaboration stage.
	EventRunDone EventType = "run_done"
)

// Event is a progress notification emitted while elaboration runs. Events are
// advisory: when the consumer falls behind they are dropped, never blocked on.
type Event struct {
	Type      EventType // what happened
	NodeID    string    // subject node, empty for run-level events
	Title     string    // node title for display
	Attempt   int       // attempt count at emit time
	Err       string    // failure detail for retry/failed events
	Timestamp time.Time // when the event was produced
}

package kafka

// EventSink receives a notification around the notable moments of a
// consumer's life: group joins, rebalances, fetches, processed messages and
// offset commits. The default sink discards everything; the metrics
// subpackage provides a prometheus-backed implementation.
//
// OnEvent is invoked from the consumer's own goroutine and must not block.
type EventSink interface {
	OnEvent(name string, payload map[string]any)
}

// EventSinkFunc is a bridge between EventSink and plain functions.
type EventSinkFunc func(name string, payload map[string]any)

func (f EventSinkFunc) OnEvent(name string, payload map[string]any) { f(name, payload) }

// Event names emitted by the consumer.
const (
	EventJoin      = "group.join"
	EventRebalance = "group.rebalance"
	EventLeave     = "group.leave"
	EventHeartbeat = "group.heartbeat"
	EventFetch     = "consumer.fetch"
	EventMessage   = "consumer.message"
	EventCommit    = "offsets.commit"
	EventError     = "consumer.error"
)

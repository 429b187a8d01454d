package keylock

// Event tags emitted by the protocol handler for every state-visible
// transition. These are the only strings the logging sink ever
// receives.
const (
	EventConnected = "connected"
	EventClosed    = "closed"
	EventOwner     = "owner"
	EventNotOwner  = "notowner"
	EventRelease   = "release"
	EventNotify    = "notify"
)

// Sink emits exactly one line per state-visible event, carrying a
// stable per-connection identifier, the event tag, and the key when
// one applies.
//
// Implementations must not block the event loop; the core calls Event
// synchronously from inside the single dispatch goroutine.
type Sink interface {
	Event(connID int, event string, key *Key)
}

// NopSink discards every event. Useful in tests that only care about
// protocol state, not about what got logged.
type NopSink struct{}

// Event implements Sink.
func (NopSink) Event(int, string, *Key) {}

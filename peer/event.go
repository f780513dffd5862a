package peer

import "github.com/cppla-netsync/netsync/frame"

// EventType tags the kind of event a PeerConnection emits toward Session.
type EventType int

const (
	EventConnected EventType = iota
	EventSynchronizing
	EventSynchronized
	EventNetworkInterrupted
	EventNetworkResumed
	EventDisconnected
	EventSyncFailure
)

func (e EventType) String() string {
	switch e {
	case EventConnected:
		return "Connected"
	case EventSynchronizing:
		return "Synchronizing"
	case EventSynchronized:
		return "Synchronized"
	case EventNetworkInterrupted:
		return "NetworkInterrupted"
	case EventNetworkResumed:
		return "NetworkResumed"
	case EventDisconnected:
		return "Disconnected"
	case EventSyncFailure:
		return "SyncFailure"
	default:
		return "Unknown"
	}
}

// Event is emitted by a PeerConnection's Update/HandlePacket and consumed
// by Session on the host thread. Only the fields relevant to Type are
// populated.
type Event struct {
	Type EventType

	// EventSynchronizing
	Step, Total int

	// EventSynchronized
	PingMs int64

	// EventNetworkInterrupted
	TimeoutMs int64
}

// InputEvent carries one newly-received, confirmed-from-the-wire game
// input for queue Queue, destined for the Session-owned inbound event
// queue.
type InputEvent[T comparable] struct {
	Queue int
	Frame frame.Frame
	Data  T
}

// ConfirmedBatchEvent carries one frame's full confirmed-input set as
// received by a spectator connection.
type ConfirmedBatchEvent[T comparable] struct {
	Frame  frame.Frame
	Values []T
}

// Delivery bundles everything HandlePacket may produce from one datagram.
type Delivery[T comparable] struct {
	Events    []Event
	Inputs    []InputEvent[T]
	Confirmed *ConfirmedBatchEvent[T]
}

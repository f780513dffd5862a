package peer

import (
	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/wire"
)

// DefaultMaxPendingInputs bounds the outgoing retransmission window.
const DefaultMaxPendingInputs = 64

// outbox accumulates a window of pending outgoing inputs for one local
// queue starting at the last acked frame + 1, retransmitted whole until
// InputAck advances the base.
type outbox[T comparable] struct {
	codec   InputCodec[T]
	maxLen  int
	base    frame.Frame // oldest un-acked frame, Null if empty
	pending []T         // pending[i] is the input for base+i
}

func newOutbox[T comparable](codec InputCodec[T], maxLen int) *outbox[T] {
	return &outbox[T]{codec: codec, maxLen: maxLen, base: frame.Null}
}

// Push appends in to the pending window. Inputs must arrive in strictly
// increasing frame order (the Synchronizer's InputQueue already guarantees
// this for local input). It reports whether the window overflowed and an
// oldest not-yet-acked input had to be evicted before the peer ever
// acknowledged it.
func (o *outbox[T]) Push(in input.GameInput[T]) (dropped bool) {
	if o.base.IsNull() {
		o.base = in.Frame
	}
	o.pending = append(o.pending, in.Data)
	if len(o.pending) > o.maxLen {
		drop := len(o.pending) - o.maxLen
		o.pending = o.pending[drop:]
		o.base = o.base.Add(frame.FrameSpan(drop))
		return true
	}
	return false
}

// Ack discards pending entries up to and including ackFrame.
func (o *outbox[T]) Ack(ackFrame frame.Frame) {
	if o.base.IsNull() || ackFrame < o.base {
		return
	}
	drop := int(ackFrame.Sub(o.base)) + 1
	if drop >= len(o.pending) {
		o.pending = nil
		o.base = frame.Null
		return
	}
	o.pending = o.pending[drop:]
	o.base = o.base.Add(frame.FrameSpan(drop))
}

// Encode builds a wire.Input body covering the entire pending window,
// delta-compressed starting from an all-zero payload (not the last acked
// input). status is the sender's current
// peer_connect_status view, written into the packet verbatim.
func (o *outbox[T]) Encode(disconnectMask uint16, status []wire.PeerConnectStatus) wire.Input {
	if len(o.pending) == 0 {
		return wire.Input{StartFrame: int32(frame.Null), DisconnectRequestedMask: disconnectMask, PeerStatus: status}
	}
	baseBytes := make([]byte, o.codec.Width())
	frames := make([][]byte, len(o.pending))
	for i, d := range o.pending {
		frames[i] = o.codec.Encode(d)
	}
	return wire.Input{
		StartFrame:              int32(o.base),
		Count:                   int32(len(o.pending)),
		DisconnectRequestedMask: disconnectMask,
		PeerStatus:              status,
		CompressedInputs:        wire.CompressInputs(baseBytes, frames),
	}
}

// Len reports how many frames are currently pending retransmission.
func (o *outbox[T]) Len() int { return len(o.pending) }

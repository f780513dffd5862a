package peer

import (
	"fmt"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/wire"
)

// inbox decodes incoming Input packets for one remote queue, dropping
// anything at or before the last frame already delivered and tracking the
// sender's peer_connect_status view.
type inbox[T comparable] struct {
	codec                  InputCodec[T]
	lastReceivedInputFrame frame.Frame
	peerStatus             []wire.PeerConnectStatus
}

func newInbox[T comparable](codec InputCodec[T], numQueues int) *inbox[T] {
	return &inbox[T]{
		codec:                  codec,
		lastReceivedInputFrame: frame.Null,
		peerStatus:             make([]wire.PeerConnectStatus, numQueues),
	}
}

// Handle decodes an Input body for queue q, returning the new frames as
// InputEvents in ascending order and recording the sender's peer status
// view. Frames at or before the last one already delivered are dropped
// silently: anything at or before last_received_input_frame is a
// retransmission, not new data.
func (b *inbox[T]) Handle(q int, body wire.Input) ([]InputEvent[T], error) {
	copy(b.peerStatus, body.PeerStatus)

	if body.StartFrame == int32(frame.Null) || body.Count == 0 {
		return nil, nil
	}
	startFrame := frame.Frame(body.StartFrame)
	base := make([]byte, b.codec.Width())
	decoded, err := wire.DecompressInputs(base, body.CompressedInputs, int(body.Count), b.codec.Width())
	if err != nil {
		return nil, fmt.Errorf("peer: decompress input batch: %w", err)
	}

	var events []InputEvent[T]
	for i, raw := range decoded {
		f := startFrame.Add(frame.FrameSpan(i))
		if !b.lastReceivedInputFrame.IsNull() && f <= b.lastReceivedInputFrame {
			continue
		}
		events = append(events, InputEvent[T]{Queue: q, Frame: f, Data: b.codec.Decode(raw)})
		b.lastReceivedInputFrame = f
	}
	return events, nil
}

// LastReceivedInputFrame reports the highest frame delivered so far.
func (b *inbox[T]) LastReceivedInputFrame() frame.Frame { return b.lastReceivedInputFrame }

// PeerStatus returns the sender's last-reported peer_connect_status view.
func (b *inbox[T]) PeerStatus() []wire.PeerConnectStatus { return b.peerStatus }

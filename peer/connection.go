// Package peer implements the per-peer wire protocol and connection state
// machine: handshake, input transmission/reception, quality reporting, and
// the Syncing -> Running -> Disconnected lifecycle.
package peer

import (
	"fmt"
	"time"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/transport"
	"github.com/cppla-netsync/netsync/wire"
)

// Stats is a snapshot of one peer's connection quality, returned to the
// host via Session.GetNetworkStatus.
type Stats struct {
	Status                Status
	LastReceivedInputFrame frame.Frame
	RoundTripTime          time.Duration
	LocalFrameAdvantage    frame.FrameSpan
	RemoteFrameAdvantage   frame.FrameSpan
	PendingOutputCount     int
}

// Connection composes the protocol subcomponents into the state machine
// owning one remote peer's wire traffic. Queue is the index into
// Synchronizer's queue vector this peer supplies input for; it is the
// receiving side's own bookkeeping only, never transmitted.
type Connection[T comparable] struct {
	cfg   Config
	codec InputCodec[T]

	tr   transport.Transport
	addr transport.Address

	localMagic int
	Queue      int
	numQueues  int

	status      Status
	interrupted bool

	hs *handshake

	seq         uint16
	lastRecvSeq uint16
	haveRecvSeq bool

	out *outbox[T]
	in  *inbox[T]

	currentFrame         frame.Frame
	localFrameAdvantage  frame.FrameSpan
	remoteFrameAdvantage frame.FrameSpan
	roundTripTime        time.Duration

	lastSendTime        time.Time
	lastRecvTime        time.Time
	lastQualityReport   time.Time
	lastPingSendTimeMs  uint64
	disconnectRequested bool

	syncStartTime time.Time
}

// New constructs a Connection bound to a transport address, ready to begin
// the Syncing handshake.
func New[T comparable](tr transport.Transport, addr transport.Address, localMagic uint16, numQueues int, codec InputCodec[T], cfg Config, seed int64) *Connection[T] {
	return &Connection[T]{
		cfg:          cfg,
		codec:        codec,
		tr:           tr,
		addr:         addr,
		localMagic:   int(localMagic),
		numQueues:    numQueues,
		status:       StatusSyncing,
		hs:           newHandshake(cfg.NumSyncPackets, seed),
		out:          newOutbox[T](codec, cfg.MaxPendingInputs),
		in:           newInbox[T](codec, numQueues),
		currentFrame: frame.Null,
	}
}

// Status reports the connection's top-level state.
func (c *Connection[T]) Status() Status { return c.status }

// Interrupted reports whether the connection is in the ConnectionInterrupted
// sub-state (quality timeout while still Running).
func (c *Connection[T]) Interrupted() bool { return c.interrupted }

// SetCurrentFrame publishes the session's current_frame so the next
// QualityReport carries a correct local_frame_advantage.
func (c *Connection[T]) SetCurrentFrame(f frame.Frame) { c.currentFrame = f }

// SendInput enqueues a local input for transmission on the next flush. It
// reports whether the retransmission window overflowed and evicted an
// older input this peer had not yet acknowledged.
func (c *Connection[T]) SendInput(in input.GameInput[T]) (dropped bool) { return c.out.Push(in) }

// Stats returns a snapshot of the connection's current quality metrics.
func (c *Connection[T]) Stats() Stats {
	return Stats{
		Status:                 c.status,
		LastReceivedInputFrame: c.in.LastReceivedInputFrame(),
		RoundTripTime:          c.roundTripTime,
		LocalFrameAdvantage:    c.localFrameAdvantage,
		RemoteFrameAdvantage:   c.remoteFrameAdvantage,
		PendingOutputCount:     c.out.Len(),
	}
}

// PeerStatusView returns the peer's last-reported peer_connect_status,
// one entry per queue, used by Session's N-player min_confirmed_frame
// computation.
func (c *Connection[T]) PeerStatusView() []wire.PeerConnectStatus { return c.in.PeerStatus() }

// SendConfirmedBatch pushes one frame of already-confirmed, all-queue
// input directly to a spectator connection, bypassing the
// prediction-oriented outbox: spectators receive fully confirmed inputs
// only, and never predict.
func (c *Connection[T]) SendConfirmedBatch(values [][]byte, width int) error {
	if c.status != StatusRunning {
		return nil
	}
	body := wire.EncodeConfirmedBatch(nil, wire.ConfirmedBatch{Frame: int32(c.currentFrame), Values: values}, width)
	return c.send(wire.MsgConfirmedBatch, body)
}

// Disconnect transitions the connection to Disconnected immediately.
func (c *Connection[T]) Disconnect() {
	c.status = StatusDisconnected
}

func (c *Connection[T]) send(msgType uint8, body []byte) error {
	var buf []byte
	c.seq++
	buf = wire.Header{Magic: uint16(c.localMagic), Sequence: c.seq, MessageType: msgType}.Encode(buf)
	buf = append(buf, body...)
	if err := c.tr.SendTo(c.addr, buf); err != nil {
		return fmt.Errorf("peer: send: %w", err)
	}
	c.lastSendTime = time.Now()
	return nil
}

// Update drives the connection's timers: handshake resend while Syncing,
// input retransmission, periodic quality reports and keep-alives while
// Running, and the interrupted/disconnected thresholds.
func (c *Connection[T]) Update(now time.Time, disconnectMask uint16, peerStatus []wire.PeerConnectStatus) ([]Event, error) {
	var events []Event

	switch c.status {
	case StatusSyncing:
		if c.syncStartTime.IsZero() {
			c.syncStartTime = now
		}
		if now.Sub(c.syncStartTime) >= c.cfg.DisconnectTimeout {
			c.status = StatusDisconnected
			events = append(events, Event{Type: EventSyncFailure})
			return events, nil
		}
		if c.lastSendTime.IsZero() || now.Sub(c.lastSendTime) >= c.cfg.SendLatency {
			req := c.hs.NextRequest(uint16(c.localMagic), 0)
			if err := c.send(wire.MsgSyncRequest, req.Encode(nil)); err != nil {
				return events, err
			}
		}
		return events, nil

	case StatusDisconnected:
		return events, nil
	}

	// Running.
	if now.Sub(c.lastSendTime) >= c.cfg.SendLatency || c.out.Len() > 0 {
		in := c.out.Encode(disconnectMask, peerStatus)
		if err := c.send(wire.MsgInput, wire.EncodeInput(nil, in, c.numQueues)); err != nil {
			return events, err
		}
	}
	if now.Sub(c.lastQualityReport) >= c.cfg.QualityReportInterval {
		// local_frame_advantage = local_frame - remote's reported current
		// frame. The remote's own last confirmed input
		// frame is our best proxy for its current frame, since in lockstep
		// operation a peer's input frame tracks its simulation frame
		// one-to-one.
		if !c.currentFrame.IsNull() && !c.in.LastReceivedInputFrame().IsNull() {
			c.localFrameAdvantage = c.currentFrame.Sub(c.in.LastReceivedInputFrame())
		}
		c.lastPingSendTimeMs = uint64(now.UnixMilli())
		qr := wire.QualityReport{PingSendTimeMs: c.lastPingSendTimeMs, FrameAdvantage: int8(clampAdvantage(c.localFrameAdvantage))}
		if err := c.send(wire.MsgQualityReport, qr.Encode(nil)); err != nil {
			return events, err
		}
		c.lastQualityReport = now
	}
	if now.Sub(c.lastSendTime) >= c.cfg.KeepAliveInterval {
		if err := c.send(wire.MsgKeepAlive, nil); err != nil {
			return events, err
		}
	}

	if !c.lastRecvTime.IsZero() {
		sinceRecv := now.Sub(c.lastRecvTime)
		if !c.interrupted && sinceRecv >= c.cfg.DisconnectNotifyStart {
			c.interrupted = true
			events = append(events, Event{Type: EventNetworkInterrupted, TimeoutMs: sinceRecv.Milliseconds()})
		}
		if sinceRecv >= c.cfg.DisconnectTimeout {
			c.status = StatusDisconnected
			events = append(events, Event{Type: EventDisconnected})
		}
	}
	return events, nil
}

func clampAdvantage(s frame.FrameSpan) int32 {
	if s > 127 {
		return 127
	}
	if s < -128 {
		return -128
	}
	return int32(s)
}

// HandlePacket decodes and dispatches one received datagram, returning any
// Session-facing events, newly-delivered input frames for Queue, and (for
// a spectator/replay-fed link) a confirmed-batch event. A non-nil error is
// always a protocol violation and must be treated as a silently dropped
// packet, never fatal.
func (c *Connection[T]) HandlePacket(data []byte, now time.Time) (Delivery[T], error) {
	hdr, body, err := wire.DecodeHeader(data)
	if err != nil {
		return Delivery[T]{}, err
	}

	if c.status == StatusRunning {
		if hdr.Magic != c.hs.RemoteMagic() {
			return Delivery[T]{}, fmt.Errorf("peer: magic mismatch, dropped")
		}
		if c.haveRecvSeq && hdr.Sequence <= c.lastRecvSeq {
			return Delivery[T]{}, fmt.Errorf("peer: stale sequence, dropped")
		}
	}
	c.lastRecvSeq = hdr.Sequence
	c.haveRecvSeq = true
	c.lastRecvTime = now

	var d Delivery[T]
	if c.interrupted && c.status == StatusRunning {
		c.interrupted = false
		d.Events = append(d.Events, Event{Type: EventNetworkResumed})
	}

	switch hdr.MessageType {
	case wire.MsgSyncRequest:
		req, err := wire.DecodeSyncRequest(body)
		if err != nil {
			return d, err
		}
		reply := c.hs.HandleRequest(req)
		if err := c.send(wire.MsgSyncReply, reply.Encode(nil)); err != nil {
			return d, err
		}
		return d, nil

	case wire.MsgSyncReply:
		rep, err := wire.DecodeSyncReply(body)
		if err != nil {
			return d, err
		}
		if c.status == StatusSyncing {
			if c.hs.HandleReply(rep) {
				c.status = StatusRunning
				d.Events = append(d.Events, Event{Type: EventConnected}, Event{Type: EventSynchronized})
			} else {
				d.Events = append(d.Events, Event{Type: EventSynchronizing, Step: 1, Total: c.cfg.NumSyncPackets})
			}
		}
		return d, nil

	case wire.MsgInput:
		in, err := wire.DecodeInput(body, c.numQueues)
		if err != nil {
			return d, err
		}
		inputEvents, err := c.in.Handle(c.Queue, in)
		if err != nil {
			return d, err
		}
		d.Inputs = inputEvents
		if len(inputEvents) > 0 {
			ack := wire.InputAck{AckFrame: int32(c.in.LastReceivedInputFrame())}
			if err := c.send(wire.MsgInputAck, ack.Encode(nil)); err != nil {
				return d, err
			}
		}
		return d, nil

	case wire.MsgInputAck:
		ack, err := wire.DecodeInputAck(body)
		if err != nil {
			return d, err
		}
		c.out.Ack(frame.Frame(ack.AckFrame))
		return d, nil

	case wire.MsgQualityReport:
		qr, err := wire.DecodeQualityReport(body)
		if err != nil {
			return d, err
		}
		c.remoteFrameAdvantage = frame.FrameSpan(qr.FrameAdvantage)
		reply := wire.QualityReply{PongSendTimeMs: qr.PingSendTimeMs}
		if err := c.send(wire.MsgQualityReply, reply.Encode(nil)); err != nil {
			return d, err
		}
		return d, nil

	case wire.MsgQualityReply:
		rep, err := wire.DecodeQualityReply(body)
		if err != nil {
			return d, err
		}
		sentMs := int64(rep.PongSendTimeMs)
		c.roundTripTime = time.Duration(now.UnixMilli()-sentMs) * time.Millisecond
		return d, nil

	case wire.MsgKeepAlive:
		return d, nil

	case wire.MsgConfirmedBatch:
		batch, err := wire.DecodeConfirmedBatch(body, c.codec.Width())
		if err != nil {
			return d, err
		}
		values := make([]T, len(batch.Values))
		for i, raw := range batch.Values {
			values[i] = c.codec.Decode(raw)
		}
		d.Confirmed = &ConfirmedBatchEvent[T]{Frame: frame.Frame(batch.Frame), Values: values}
		return d, nil

	default:
		return d, fmt.Errorf("peer: unknown message type %d, dropped", hdr.MessageType)
	}
}

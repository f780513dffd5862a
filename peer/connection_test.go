package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/transport"
)

type memAddr string

func (a memAddr) String() string { return string(a) }

// memTransport is an in-memory loopback transport.Transport pairing two
// connections without any real socket, for deterministic unit tests.
type memTransport struct {
	self memAddr
	recv chan transport.Packet
	send chan transport.Packet
}

func newMemPair() (*memTransport, *memTransport) {
	chA := make(chan transport.Packet, 64)
	chB := make(chan transport.Packet, 64)
	a := &memTransport{self: "A", recv: chA, send: chB}
	b := &memTransport{self: "B", recv: chB, send: chA}
	return a, b
}

func (t *memTransport) SendTo(_ transport.Address, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case t.send <- transport.Packet{From: t.self, Data: cp}:
		return nil
	default:
		return transport.ErrWouldBlock
	}
}

func (t *memTransport) Recv(ctx context.Context) (transport.Packet, error) {
	select {
	case p := <-t.recv:
		return p, nil
	case <-ctx.Done():
		return transport.Packet{}, ctx.Err()
	}
}

func (t *memTransport) LocalAddress() transport.Address { return t.self }
func (t *memTransport) Close() error                     { return nil }

type byteCodec struct{}

func (byteCodec) Width() int            { return 1 }
func (byteCodec) Encode(v uint8) []byte { return []byte{v} }
func (byteCodec) Decode(b []byte) uint8 {
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func drain[T comparable](t *testing.T, c *Connection[T], tr *memTransport, now time.Time) ([]Event, []InputEvent[T]) {
	t.Helper()
	var events []Event
	var inputs []InputEvent[T]
	for {
		select {
		case p := <-tr.recv:
			d, err := c.HandlePacket(p.Data, now)
			require.NoError(t, err)
			events = append(events, d.Events...)
			inputs = append(inputs, d.Inputs...)
		default:
			return events, inputs
		}
	}
}

func newTestPair(t *testing.T) (*Connection[uint8], *memTransport, *Connection[uint8], *memTransport) {
	t.Helper()
	trA, trB := newMemPair()
	cfg := DefaultConfig()
	cfg.SendLatency = 50 * time.Millisecond
	cfg.QualityReportInterval = time.Hour
	cfg.DisconnectNotifyStart = time.Hour
	cfg.DisconnectTimeout = 2 * time.Hour
	cA := New[uint8](trA, memAddr("B"), 0x1111, 2, byteCodec{}, cfg, 1)
	cB := New[uint8](trB, memAddr("A"), 0x2222, 2, byteCodec{}, cfg, 2)
	cA.Queue = 1
	cB.Queue = 0
	return cA, trA, cB, trB
}

func runHandshake(t *testing.T, cA *Connection[uint8], trA *memTransport, cB *Connection[uint8], trB *memTransport) {
	t.Helper()
	now := time.Now()
	for i := 0; i < 40 && (cA.Status() != StatusRunning || cB.Status() != StatusRunning); i++ {
		now = now.Add(60 * time.Millisecond)
		_, err := cA.Update(now, 0, nil)
		require.NoError(t, err)
		_, err = cB.Update(now, 0, nil)
		require.NoError(t, err)
		drain[uint8](t, cB, trB, now)
		drain[uint8](t, cA, trA, now)
	}
}

func TestHandshakeReachesRunning(t *testing.T) {
	cA, trA, cB, trB := newTestPair(t)
	runHandshake(t, cA, trA, cB, trB)
	require.Equal(t, StatusRunning, cA.Status())
	require.Equal(t, StatusRunning, cB.Status())
}

func TestInputDeliveredAndAcked(t *testing.T) {
	cA, trA, cB, trB := newTestPair(t)
	runHandshake(t, cA, trA, cB, trB)

	cA.SendInput(input.GameInput[uint8]{Frame: 0, Data: 7})
	cA.SendInput(input.GameInput[uint8]{Frame: 1, Data: 8})

	now := time.Now()
	_, err := cA.Update(now, 0, nil)
	require.NoError(t, err)
	_, inputEvents := drain[uint8](t, cB, trB, now)
	require.Len(t, inputEvents, 2)
	require.Equal(t, frame.Frame(0), inputEvents[0].Frame)
	require.Equal(t, uint8(7), inputEvents[0].Data)
	require.Equal(t, frame.Frame(1), inputEvents[1].Frame)
	require.Equal(t, uint8(8), inputEvents[1].Data)

	// B's HandlePacket above sent an InputAck already queued in trA.
	drain[uint8](t, cA, trA, now)
	require.Equal(t, 0, cA.out.Len())
}

func TestDuplicateInputNotRedelivered(t *testing.T) {
	cA, trA, cB, trB := newTestPair(t)
	runHandshake(t, cA, trA, cB, trB)

	cA.SendInput(input.GameInput[uint8]{Frame: 0, Data: 1})
	now := time.Now()
	_, err := cA.Update(now, 0, nil)
	require.NoError(t, err)
	_, firstEvents := drain[uint8](t, cB, trB, now)
	require.Len(t, firstEvents, 1)

	// The outbound window still holds frame 0 (no ack processed yet); once
	// frame 1 is pushed the retransmitted batch covers [0,1], but frame 0
	// must not be redelivered to the Session-facing event stream.
	cA.SendInput(input.GameInput[uint8]{Frame: 1, Data: 2})
	now = now.Add(time.Second)
	_, err = cA.Update(now, 0, nil)
	require.NoError(t, err)
	_, secondEvents := drain[uint8](t, cB, trB, now)
	require.Len(t, secondEvents, 1)
	require.Equal(t, frame.Frame(1), secondEvents[0].Frame)
}

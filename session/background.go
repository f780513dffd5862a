package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cppla-netsync/netsync/peer"
	"github.com/cppla-netsync/netsync/transport"
)

// inboundBatch is one datagram's worth of Session-facing results, handed
// from the background job to BeginFrame's drainEvents via the SPSC queue.
type inboundBatch[T comparable] struct {
	Queue  int
	Events []peer.Event
	Inputs []peer.InputEvent[T]
}

// BackgroundJobManager runs the single long-lived transport I/O loop a
// Session owns: one goroutine reads datagrams off the
// Transport and dispatches them into the owning Connection, publishing
// results onto a channel the host thread drains once per BeginFrame. A
// fatal error is latched and re-thrown at the next ThrowIfError call
// rather than propagating out of the I/O goroutine.
type BackgroundJobManager[T comparable] struct {
	logger *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc

	out chan inboundBatch[T]

	mu      sync.Mutex
	fatal   error
	running atomic.Bool
}

func newBackgroundJobManager[T comparable](logger *zap.Logger) *BackgroundJobManager[T] {
	return &BackgroundJobManager[T]{
		logger: logger,
		out:    make(chan inboundBatch[T], 256),
	}
}

// Start launches the I/O goroutine against tr, dispatching received
// datagrams into the Connections in conns. Start only needs conns as a flat
// list: HandlePacket on the wrong Connection drops a packet it rejects
// (wrong magic/sequence), so every received datagram is offered to the
// connections in order until one accepts it and yields events or inputs.
func (m *BackgroundJobManager[T]) Start(tr transport.Transport, conns []*peer.Connection[T]) {
	if !m.running.CAS(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx, tr, conns)
}

func (m *BackgroundJobManager[T]) run(ctx context.Context, tr transport.Transport, conns []*peer.Connection[T]) {
	defer m.wg.Done()
	for {
		pkt, err := tr.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if m.logger != nil {
				m.logger.Warn("transport recv error", zap.Error(err))
			}
			continue
		}
		m.dispatch(pkt, conns)
	}
}

// dispatch offers a datagram to every owned Connection in turn; HandlePacket
// itself rejects traffic that doesn't match its handshake/sequence state.
// The first Connection whose HandlePacket returns events or inputs gets the
// batch published and ends the search; a Connection that accepts the packet
// but yields nothing does not stop it, so the packet is offered to the next
// one. Published batches are keyed by the accepting Connection's own Queue
// tag, not its position in conns: remotes and spectators share one flat
// slice here, and a spectator's Queue is MaxPlayers plus its spectator
// index, not an offset into that slice.
func (m *BackgroundJobManager[T]) dispatch(pkt transport.Packet, conns []*peer.Connection[T]) {
	now := time.Now()
	for _, c := range conns {
		if c == nil {
			continue
		}
		delivery, err := c.HandlePacket(pkt.Data, now)
		if err != nil {
			continue
		}
		if len(delivery.Events) == 0 && len(delivery.Inputs) == 0 {
			continue
		}
		m.publish(inboundBatch[T]{Queue: c.Queue, Events: delivery.Events, Inputs: delivery.Inputs})
		return
	}
}

func (m *BackgroundJobManager[T]) publish(b inboundBatch[T]) {
	select {
	case m.out <- b:
	default:
		m.latch(fmt.Errorf("session: background event queue full, dropping batch for queue %d", b.Queue))
	}
}

// Poll drains one pending batch published by the I/O goroutine, or
// (nil, false) if none is waiting.
func (m *BackgroundJobManager[T]) Poll() (inboundBatch[T], bool) {
	select {
	case b := <-m.out:
		return b, true
	default:
		return inboundBatch[T]{}, false
	}
}

// ThrowIfError surfaces any fatal error latched by the I/O goroutine,
// clearing it so it is only reported once.
func (m *BackgroundJobManager[T]) ThrowIfError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.fatal
	m.fatal = nil
	return err
}

func (m *BackgroundJobManager[T]) latch(err error) {
	m.mu.Lock()
	if m.fatal == nil {
		m.fatal = err
	}
	m.mu.Unlock()
}

// Stop cancels the I/O goroutine and waits up to grace for it to exit.
func (m *BackgroundJobManager[T]) Stop(grace time.Duration) {
	if !m.running.CAS(true, false) {
		return
	}

	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
	}
}

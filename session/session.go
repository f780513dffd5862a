// Package session implements the Session: the top-level object a host
// application drives once per simulation tick, composing the
// Synchronizer, per-peer Connections, ConnectionsState, TimeSync, and the
// background transport job.
package session

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/cppla-netsync/netsync/connstate"
	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/limits"
	"github.com/cppla-netsync/netsync/netsyncconfig"
	"github.com/cppla-netsync/netsync/peer"
	"github.com/cppla-netsync/netsync/synchronizer"
	"github.com/cppla-netsync/netsync/timesync"
	"github.com/cppla-netsync/netsync/transport"
	"github.com/cppla-netsync/netsync/wire"
)

// Host is the contract a Session drives. AdvanceFrame and the save/load
// pair are shared with Synchronizer; the remaining methods are
// host-facing callbacks, always invoked from inside a Session call on the
// host thread, never from the background transport goroutine.
type Host[T comparable] interface {
	synchronizer.Host[T]
	OnSessionStart()
	OnSessionClose()
	OnPeerEvent(h input.Handle, ev peer.Event)
	TimeSync(sleepFrames int)
}

// stateStoreMargin is added to PredictionFrames when sizing the
// StateStore ring, giving rollback headroom beyond the prediction window
// before a required snapshot could be evicted.
const stateStoreMargin = 8

// spectatorJoinDebounce collapses rapid duplicate join attempts from the
// same external spectator number (e.g. a client retrying a dropped
// handshake ack) so Session does not spin up redundant Connections.
const spectatorJoinDebounce = 2 * time.Second

// Session is the Remote backend: a live peer-to-peer session over a
// transport.Transport, predicting and rolling back via Synchronizer.
type Session[T comparable] struct {
	cfg    *netsyncconfig.Options
	logger *zap.Logger
	host   Host[T]
	codec  peer.InputCodec[T]

	sync  *synchronizer.Synchronizer[T]
	conns *connstate.Table

	players   []input.Handle    // index: InternalQueue
	occupied  []bool            // parallel to players; Handle's zero value is a valid Local handle
	remotes   []*peer.Connection[T]
	spectators       []*peer.Connection[T]
	spectatorHandles []input.Handle // parallel to spectators
	spectatorJoins   *cache.Cache

	bg *BackgroundJobManager[T]

	isSynchronizing     bool
	startNotified       bool
	nextSpectatorFrame  frame.Frame
	framesSinceRecommend int
	ts                  *timesync.TimeSync
}

// New constructs a Session ready to accept players via AddPlayer.
func New[T comparable](host Host[T], codec peer.InputCodec[T], cfg *netsyncconfig.Options, logger *zap.Logger) (*Session[T], error) {
	s := &Session[T]{
		cfg:    cfg,
		logger: logger,
		host:   host,
		codec:  codec,
		conns:  connstate.New(cfg.MaxPlayers),
		players: make([]input.Handle, cfg.MaxPlayers),
		occupied: make([]bool, cfg.MaxPlayers),
		remotes: make([]*peer.Connection[T], cfg.MaxPlayers),
		spectatorJoins: cache.New(spectatorJoinDebounce, spectatorJoinDebounce*2),
		isSynchronizing: true,
		nextSpectatorFrame: frame.Zero,
		ts: timesync.New(cfg.TimeSyncWindow, cfg.MinFrameAdvantage, cfg.MaxFrameAdvantage),
	}
	sync, err := synchronizer.New[T](host, logger, synchronizer.Config{
		NumQueues:          cfg.MaxPlayers,
		InputQueueLength:   cfg.InputQueueLength,
		PredictionFrames:   cfg.PredictionFrames,
		StateStoreCapacity: cfg.PredictionFrames + stateStoreMargin,
		FrameDelay:         cfg.FrameDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("session: construct synchronizer: %w", err)
	}
	s.sync = sync
	s.bg = newBackgroundJobManager[T](logger)
	return s, nil
}

// peerConfig derives a peer.Config from the session's Options.
func (s *Session[T]) peerConfig() peer.Config {
	return peer.Config{
		NumSyncPackets:        s.cfg.SyncPackets,
		KeepAliveInterval:     s.cfg.KeepAliveInterval,
		QualityReportInterval: s.cfg.QualityReportInterval,
		DisconnectNotifyStart: s.cfg.DisconnectNotifyStart,
		DisconnectTimeout:     s.cfg.DisconnectTimeout,
		SendLatency:           s.cfg.KeepAliveInterval,
		MaxPendingInputs:      peer.DefaultMaxPendingInputs,
	}
}

// AddPlayer registers a Local, Remote, or Spectator participant.
// tr/addr are only consulted for Remote and Spectator players.
func (s *Session[T]) AddPlayer(kind input.PlayerKind, externalNumber int, tr transport.Transport, addr transport.Address) (input.Handle, ResultCode) {
	switch kind {
	case input.Spectator:
		if !s.isSynchronizing {
			return input.Handle{}, AlreadySynchronized
		}
		key := fmt.Sprintf("spectator:%d", externalNumber)
		if _, found := s.spectatorJoins.Get(key); found {
			return input.Handle{}, DuplicatedPlayer
		}
		if len(s.spectators) >= limits.MaxSpectators || len(s.spectators) >= s.cfg.MaxSpectators {
			return input.Handle{}, TooManySpectators
		}
		s.spectatorJoins.Set(key, struct{}{}, cache.DefaultExpiration)
		q := len(s.spectators)
		conn := peer.New[T](tr, addr, localMagic(), s.cfg.MaxPlayers, s.codec, s.peerConfig(), int64(1000+q))
		// Connection.Queue doubles as the background job's dispatch key; it is
		// offset past the player queue range so a spectator batch never
		// collides with a remote player's queue index: a spectator is not
		// itself addressable as a player queue.
		conn.Queue = s.cfg.MaxPlayers + q
		s.spectators = append(s.spectators, conn)
		h := input.Handle{Kind: input.Spectator, ExternalNumber: externalNumber, InternalQueue: q}
		s.spectatorHandles = append(s.spectatorHandles, h)
		return h, Ok
	}

	q := -1
	for i, taken := range s.occupied {
		if !taken {
			q = i
			break
		}
	}
	if q < 0 {
		return input.Handle{}, TooManyPlayers
	}
	for i, taken := range s.occupied {
		if taken && s.players[i].ExternalNumber == externalNumber {
			return input.Handle{}, DuplicatedPlayer
		}
	}

	h := input.Handle{Kind: kind, ExternalNumber: externalNumber, InternalQueue: q}
	s.players[q] = h
	s.occupied[q] = true

	if kind == input.Remote {
		conn := peer.New[T](tr, addr, localMagic(), s.cfg.MaxPlayers, s.codec, s.peerConfig(), int64(q+1))
		conn.Queue = q
		s.remotes[q] = conn
	}
	return h, Ok
}

// localMagic picks a connection-instance tag distinguishing this process's
// connection attempt from a stale prior one to the same peer.
func localMagic() uint16 {
	return uint16(time.Now().UnixNano())
}

// AddLocalInput submits one frame of local input for handle h, fanning it
// out to every remote Connection so their queue view stays current.
func (s *Session[T]) AddLocalInput(h input.Handle, data T) ResultCode {
	if s.isSynchronizing {
		return NotSynchronized
	}
	if h.InternalQueue < 0 || h.InternalQueue >= s.cfg.MaxPlayers {
		return PlayerOutOfRange
	}
	if s.players[h.InternalQueue] != h {
		return InvalidPlayerHandle
	}
	if s.sync.InRollback() {
		return InRollback
	}

	in := input.GameInput[T]{Frame: s.sync.CurrentFrame(), Data: data}
	ok := s.sync.AddLocalInput(h.InternalQueue, in)
	if !ok {
		return PredictionThreshold
	}

	dropped := false
	for _, c := range s.remotes {
		if c == nil || c.Status() == peer.StatusDisconnected {
			continue
		}
		if c.SendInput(in) {
			dropped = true
		}
	}
	if dropped {
		return InputDropped
	}
	return Ok
}

// SynchronizeInputs returns the per-queue input buffer for the current
// frame, or NotSynchronized before the initial sync gate opens.
func (s *Session[T]) SynchronizeInputs() ([]input.GameInput[T], ResultCode) {
	if s.isSynchronizing {
		return nil, NotSynchronized
	}
	return s.sync.SynchronizeInputs(s.disconnectedMask()), Ok
}

// AdvanceFrame drives the host's simulation step for inputs (as returned
// by SynchronizeInputs) and advances the Synchronizer.
func (s *Session[T]) AdvanceFrame(inputs []input.GameInput[T]) error {
	if err := s.host.AdvanceFrame(inputs); err != nil {
		return fmt.Errorf("session: advance_frame: %w", err)
	}
	return s.sync.IncrementFrame()
}

func (s *Session[T]) disconnectedMask() []bool {
	mask := make([]bool, s.cfg.MaxPlayers)
	s.conns.ForEach(func(q int, slot connstate.Slot) {
		mask[q] = slot.Disconnected
	})
	return mask
}

// GetNetworkStatus reports connection quality for a remote handle.
func (s *Session[T]) GetNetworkStatus(h input.Handle) (peer.Stats, ResultCode) {
	if h.InternalQueue < 0 || h.InternalQueue >= len(s.remotes) || s.remotes[h.InternalQueue] == nil {
		return peer.Stats{}, InvalidPlayerHandle
	}
	return s.remotes[h.InternalQueue].Stats(), Ok
}

// SetFrameDelay adjusts the local input delay applied to a handle's queue.
func (s *Session[T]) SetFrameDelay(h input.Handle, n int) ResultCode {
	if n < 0 {
		panic(fmt.Sprintf("session: negative frame delay %d", n))
	}
	if h.InternalQueue < 0 || h.InternalQueue >= s.cfg.MaxPlayers {
		return PlayerOutOfRange
	}
	s.sync.SetFrameDelay(h.InternalQueue, n)
	return Ok
}

// DisconnectPlayer marks a handle's queue disconnected at that queue's last
// received frame and rolls the simulation back to it if it is earlier than
// the current frame.
func (s *Session[T]) DisconnectPlayer(h input.Handle) ResultCode {
	if h.InternalQueue < 0 || h.InternalQueue >= len(s.remotes) {
		return PlayerOutOfRange
	}
	syncTo := s.conns.Get(h.InternalQueue).LastFrame
	s.conns.Disconnect(h.InternalQueue, syncTo)
	if c := s.remotes[h.InternalQueue]; c != nil {
		c.Disconnect()
	}
	if !syncTo.IsNull() && syncTo < s.sync.CurrentFrame() {
		if err := s.sync.AdjustSimulation(syncTo, s.disconnectedMask()); err != nil && s.logger != nil {
			s.logger.Error("adjust_simulation after disconnect failed", zap.Error(err))
		}
	}
	return Ok
}

// Start launches the background transport job driving every remote and
// spectator connection.
func (s *Session[T]) Start(tr transport.Transport) {
	all := append(append([]*peer.Connection[T]{}, s.remotes...), s.spectators...)
	s.bg.Start(tr, all)
}

// Stop gracefully tears down the background transport job.
func (s *Session[T]) Stop(grace time.Duration) {
	s.bg.Stop(grace)
}

// BeginFrame performs the per-tick housekeeping: drain inbound events,
// update connections, check the simulation, publish current_frame,
// recompute min_confirmed_frame, feed spectators, and emit a time_sync
// event at most every RecommendationInterval frames.
func (s *Session[T]) BeginFrame() error {
	if err := s.bg.ThrowIfError(); err != nil {
		return err
	}

	s.drainEvents()

	now := time.Now()
	for q, c := range s.remotes {
		if c == nil {
			continue
		}
		c.SetCurrentFrame(s.sync.CurrentFrame())
		status := s.peerStatusView()
		events, err := c.Update(now, 0, status)
		if err != nil && s.logger != nil {
			s.logger.Warn("peer update send failed", zap.Int("queue", q), zap.Error(err))
		}
		s.dispatchEvents(q, events)
	}
	for _, c := range s.spectators {
		if c == nil {
			continue
		}
		c.SetCurrentFrame(s.sync.CurrentFrame())
		events, err := c.Update(now, 0, nil)
		if err != nil && s.logger != nil {
			s.logger.Warn("spectator update send failed", zap.Error(err))
		}
		s.dispatchEvents(c.Queue, events)
	}

	if err := s.sync.CheckSimulation(s.disconnectedMask()); err != nil {
		return fmt.Errorf("session: check_simulation: %w", err)
	}

	s.checkSyncGate()
	if s.isSynchronizing {
		return nil
	}

	minConfirmed := s.minConfirmedFrame()
	s.feedSpectators(minConfirmed)
	s.sync.SetLastConfirmedFrame(minConfirmed)

	s.framesSinceRecommend++
	if s.framesSinceRecommend >= s.cfg.RecommendationInterval {
		s.framesSinceRecommend = 0
		local, remote := s.averageFrameAdvantage()
		s.ts.AdvanceFrame(local, remote)
		if sleep := s.ts.GetRecommendedSleep(); sleep > 0 {
			s.host.TimeSync(sleep)
		}
	}
	return nil
}

func (s *Session[T]) peerStatusView() []wire.PeerConnectStatus {
	out := make([]wire.PeerConnectStatus, s.cfg.MaxPlayers)
	s.conns.ForEach(func(q int, slot connstate.Slot) {
		out[q] = wire.PeerConnectStatus{LastFrame: int32(slot.LastFrame), Disconnected: slot.Disconnected}
	})
	return out
}

func (s *Session[T]) averageFrameAdvantage() (frame.FrameSpan, frame.FrameSpan) {
	var localSum, remoteSum frame.FrameSpan
	n := 0
	for _, c := range s.remotes {
		if c == nil || c.Status() != peer.StatusRunning {
			continue
		}
		st := c.Stats()
		localSum += st.LocalFrameAdvantage
		remoteSum += st.RemoteFrameAdvantage
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return localSum / frame.FrameSpan(n), remoteSum / frame.FrameSpan(n)
}

func (s *Session[T]) drainEvents() {
	for {
		batch, ok := s.bg.Poll()
		if !ok {
			return
		}
		for _, in := range batch.Inputs {
			if err := s.sync.AddRemoteInput(in.Queue, input.GameInput[T]{Frame: in.Frame, Data: in.Data}); err != nil {
				// Fatal: latched and returned by the next BeginFrame.
				s.bg.latch(fmt.Errorf("session: queue %d: %w", in.Queue, err))
				continue
			}
			s.conns.SetLastFrame(in.Queue, in.Frame)
		}
		s.dispatchEvents(batch.Queue, batch.Events)
	}
}

func (s *Session[T]) dispatchEvents(q int, events []peer.Event) {
	if q >= s.cfg.MaxPlayers {
		idx := q - s.cfg.MaxPlayers
		for _, ev := range events {
			if ev.Type == peer.EventSyncFailure {
				s.removeSpectator(idx)
				s.checkSyncGate()
				continue
			}
			if idx >= 0 && idx < len(s.spectatorHandles) {
				s.host.OnPeerEvent(s.spectatorHandles[idx], ev)
			}
		}
		return
	}
	for _, ev := range events {
		if q < len(s.players) {
			s.host.OnPeerEvent(s.players[q], ev)
		}
	}
}

func (s *Session[T]) removeSpectator(idx int) {
	if idx >= 0 && idx < len(s.spectators) {
		s.spectators[idx] = nil
	}
}

// checkSyncGate flips is_synchronizing off once every remote and
// spectator Connection reports Running (the initial sync gate).
func (s *Session[T]) checkSyncGate() {
	if !s.isSynchronizing {
		return
	}
	for _, c := range s.remotes {
		if c != nil && c.Status() == peer.StatusSyncing {
			return
		}
	}
	for _, c := range s.spectators {
		if c != nil && c.Status() == peer.StatusSyncing {
			return
		}
	}
	s.isSynchronizing = false
	if !s.startNotified {
		s.startNotified = true
		s.host.OnSessionStart()
	}
}

// minConfirmedFrame computes the per-tick confirmed-frame watermark,
// toggling between the 2-player local-only view and the N-player
// cross-peer-status view, per the documented compatibility switch below.
func (s *Session[T]) minConfirmedFrame() frame.Frame {
	if s.cfg.LegacyTwoPlayerConfirmation {
		return s.localMinConfirmedFrame()
	}
	return s.crossPeerMinConfirmedFrame()
}

func countActive[T comparable](conns []*peer.Connection[T]) int {
	n := 0
	for _, c := range conns {
		if c != nil && c.Status() != peer.StatusDisconnected {
			n++
		}
	}
	return n
}

func (s *Session[T]) localMinConfirmedFrame() frame.Frame {
	min := frame.Null
	s.conns.ForEach(func(q int, slot connstate.Slot) {
		if slot.Disconnected {
			return
		}
		min = frame.Min(min, slot.LastFrame)
	})
	return min
}

// crossPeerMinConfirmedFrame demands agreement across every remote peer's
// reported peer_connect_status view before considering a frame confirmed,
// matching the N-player confirmation path.
func (s *Session[T]) crossPeerMinConfirmedFrame() frame.Frame {
	min := frame.Null
	for q := 0; q < s.cfg.MaxPlayers; q++ {
		if s.conns.IsDisconnected(q) {
			continue
		}
		qMin := s.conns.Get(q).LastFrame
		for _, c := range s.remotes {
			if c == nil {
				continue
			}
			view := c.PeerStatusView()
			if q < len(view) && !view[q].Disconnected {
				qMin = frame.Min(qMin, frame.Frame(view[q].LastFrame))
			}
		}
		min = frame.Min(min, qMin)
	}
	return min
}

func (s *Session[T]) feedSpectators(upTo frame.Frame) {
	if upTo.IsNull() {
		return
	}
	for s.nextSpectatorFrame <= upTo {
		ci, ok := s.confirmedInputsAt(s.nextSpectatorFrame)
		if !ok {
			break
		}
		values := make([][]byte, s.cfg.MaxPlayers)
		for i := 0; i < s.cfg.MaxPlayers; i++ {
			values[i] = s.codec.Encode(ci.Inputs[i])
		}
		for _, c := range s.spectators {
			if c == nil {
				continue
			}
			if err := c.SendConfirmedBatch(values, s.codec.Width()); err != nil && s.logger != nil {
				s.logger.Warn("spectator feed send failed", zap.Error(err))
			}
		}
		s.nextSpectatorFrame = s.nextSpectatorFrame.Next()
	}
}

// confirmedInputsAt reads back the already-confirmed per-queue inputs for
// frame f from the Synchronizer's InputQueues. This is only safe for
// frames not yet evicted by DiscardConfirmedFrames, which is why
// feedSpectators must run before SetLastConfirmedFrame in BeginFrame.
func (s *Session[T]) confirmedInputsAt(f frame.Frame) (input.ConfirmedInputs[T], bool) {
	vals := s.sync.InputsAt(f, s.disconnectedMask())
	var ci input.ConfirmedInputs[T]
	ci.Frame = f
	ci.Count = len(vals)
	for i, v := range vals {
		if i < len(ci.Inputs) {
			ci.Inputs[i] = v.Data
		}
	}
	return ci, true
}

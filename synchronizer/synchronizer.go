// Package synchronizer implements the Synchronizer: the component that
// coordinates InputQueues and the StateStore, owning rollback, confirmed
// frame advancement, and the prediction threshold.
package synchronizer

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/inputqueue"
	"github.com/cppla-netsync/netsync/statestore"
)

// ErrDesync is returned when a rollback needs to seek to a frame the
// StateStore no longer holds. Under normal prediction_frames-bounded
// operation this cannot happen, so it is treated as fatal.
var ErrDesync = errors.New("synchronizer: unrecoverable desync: required rollback frame not in state store")

// Host is the subset of the host application's save/load/simulate contract
// the Synchronizer drives directly. Unlike an argument-less
// advance_frame(), AdvanceFrame here takes the synchronized input buffer
// explicitly: rollback resimulation must replay the exact same
// synchronize_inputs -> advance_frame sequence the host performs on the
// live tick, and passing the buffer explicitly avoids a hidden pull-style
// callback back into the Synchronizer.
type Host[T comparable] interface {
	SaveState(f frame.Frame) (data []byte, checksum uint32, err error)
	LoadState(f frame.Frame, data []byte) error
	AdvanceFrame(inputs []input.GameInput[T]) error
}

// Synchronizer owns one InputQueue per player (local and remote) plus the
// StateStore, and drives rollback when a remote input contradicts a
// prediction already served to the host.
type Synchronizer[T comparable] struct {
	host   Host[T]
	logger *zap.Logger

	queues           []*inputqueue.Queue[T]
	store            *statestore.Store
	predictionFrames int

	currentFrame       frame.Frame
	lastConfirmedFrame frame.Frame
	rollingBack        bool
}

// Config bundles the sizing parameters needed to construct a Synchronizer.
type Config struct {
	NumQueues             int
	InputQueueLength      int
	PredictionFrames      int
	StateStoreCapacity    int
	FrameDelay            int
}

// New constructs a Synchronizer with one InputQueue per queue slot and a
// StateStore sized to cfg.StateStoreCapacity (prediction_frames + a small
// rollback margin). It immediately saves the host's state at frame.Zero:
// without that initial snapshot, a misprediction on frame 0 itself (the
// local side speculating before any real remote input has arrived) would
// later try to roll back to a frame the store never held, turning an
// ordinary rollback into a spurious ErrDesync.
func New[T comparable](host Host[T], logger *zap.Logger, cfg Config) (*Synchronizer[T], error) {
	queues := make([]*inputqueue.Queue[T], cfg.NumQueues)
	for i := range queues {
		queues[i] = inputqueue.New[T](cfg.InputQueueLength, cfg.PredictionFrames, cfg.FrameDelay)
	}
	s := &Synchronizer[T]{
		host:               host,
		logger:             logger,
		queues:             queues,
		store:              statestore.New(cfg.StateStoreCapacity),
		predictionFrames:   cfg.PredictionFrames,
		currentFrame:       frame.Zero,
		lastConfirmedFrame: frame.Null,
	}
	data, checksum, err := host.SaveState(s.currentFrame)
	if err != nil {
		return nil, fmt.Errorf("synchronizer: save_state at frame %d: %w", s.currentFrame, err)
	}
	s.store.Save(s.currentFrame, data, checksum)
	return s, nil
}

// CurrentFrame returns the frame the simulation is currently at.
func (s *Synchronizer[T]) CurrentFrame() frame.Frame { return s.currentFrame }

// InRollback reports whether a rollback resimulation is in progress.
func (s *Synchronizer[T]) InRollback() bool { return s.rollingBack }

// SetFrameDelay updates queue q's local input delay.
func (s *Synchronizer[T]) SetFrameDelay(q, n int) { s.queues[q].SetFrameDelay(n) }

// AddLocalInput forwards to queue q, refusing when the prediction
// threshold (current_frame - last_confirmed_frame >= prediction_frames)
// has been reached.
func (s *Synchronizer[T]) AddLocalInput(q int, in input.GameInput[T]) bool {
	if !s.lastConfirmedFrame.IsNull() {
		lead := s.currentFrame.Sub(s.lastConfirmedFrame)
		if int(lead) >= s.predictionFrames {
			return false
		}
	}
	adjusted, ok := s.queues[q].AddInput(in)
	return ok && !adjusted.IsNull()
}

// AddRemoteInput forwards to queue q. A returned error is always
// inputqueue.ErrProtocolViolation and is fatal to the session.
func (s *Synchronizer[T]) AddRemoteInput(q int, in input.GameInput[T]) error {
	return s.queues[q].AddRemoteInput(in)
}

// SynchronizeInputs returns one input per queue for the current frame,
// substituting a zero input for any queue marked disconnected in mask.
func (s *Synchronizer[T]) SynchronizeInputs(disconnectedMask []bool) []input.GameInput[T] {
	out := make([]input.GameInput[T], len(s.queues))
	for i, q := range s.queues {
		if i < len(disconnectedMask) && disconnectedMask[i] {
			out[i] = input.GameInput[T]{Frame: s.currentFrame}
			continue
		}
		v, _ := q.GetInput(s.currentFrame)
		out[i] = v
	}
	return out
}

// InputsAt returns one input per queue for an already-confirmed historical
// frame f, used to feed spectators after the fact without maintaining a
// separate trailing buffer. It uses PeekInput rather than GetInput: unlike
// the live simulation's per-tick SynchronizeInputs call, InputsAt runs even
// when there is nothing to feed, and must not rewind a queue's
// last_frame_requested (and with it the prediction-error detection window)
// as a side effect of a spectator-feed read.
func (s *Synchronizer[T]) InputsAt(f frame.Frame, disconnectedMask []bool) []input.GameInput[T] {
	out := make([]input.GameInput[T], len(s.queues))
	for i, q := range s.queues {
		if i < len(disconnectedMask) && disconnectedMask[i] {
			out[i] = input.GameInput[T]{Frame: f}
			continue
		}
		v, _ := q.PeekInput(f)
		out[i] = v
	}
	return out
}

// SetLastConfirmedFrame instructs every queue to discard confirmed frames
// strictly before frame-1, keeping one frame of anchor for rollback.
func (s *Synchronizer[T]) SetLastConfirmedFrame(f frame.Frame) {
	s.lastConfirmedFrame = f
	if f.IsNull() {
		return
	}
	for _, q := range s.queues {
		q.DiscardConfirmedFrames(f.Previous())
	}
}

// IncrementFrame advances current_frame by one and saves the host's
// resulting state under the new frame number: the snapshot at frame F
// always represents the state the simulation is in just before F is
// (re)simulated, so that a later rollback's load_frame(seek_to) leaves the
// host ready to resimulate starting at exactly seek_to.
func (s *Synchronizer[T]) IncrementFrame() error {
	s.currentFrame = s.currentFrame.Next()
	data, checksum, err := s.host.SaveState(s.currentFrame)
	if err != nil {
		return fmt.Errorf("synchronizer: save_state at frame %d: %w", s.currentFrame, err)
	}
	s.store.Save(s.currentFrame, data, checksum)
	return nil
}

// CheckSimulation computes the earliest first-incorrect-frame across all
// queues and, if any queue reports one, rolls back to it.
func (s *Synchronizer[T]) CheckSimulation(disconnectedMask []bool) error {
	firstIncorrect := frame.Null
	for _, q := range s.queues {
		firstIncorrect = frame.Min(firstIncorrect, q.FirstIncorrectFrame())
	}
	if firstIncorrect.IsNull() {
		return nil
	}
	return s.rollback(firstIncorrect, disconnectedMask)
}

// AdjustSimulation rolls back to syncTo when a peer disconnects with a
// last-confirmed frame earlier than current_frame, so the remaining
// simulation resumes treating the disconnected peer's inputs as zero.
func (s *Synchronizer[T]) AdjustSimulation(syncTo frame.Frame, disconnectedMask []bool) error {
	if syncTo >= s.currentFrame {
		return nil
	}
	return s.rollback(syncTo, disconnectedMask)
}

// rollback is the central rollback procedure: restore state at
// seekTo, clear predictions, then resimulate forward to the frame the
// simulation was at before the rollback began.
func (s *Synchronizer[T]) rollback(seekTo frame.Frame, disconnectedMask []bool) error {
	if seekTo.IsNull() {
		return nil
	}
	snap, ok := s.store.Load(seekTo)
	if !ok {
		return fmt.Errorf("%w: seek_to=%d", ErrDesync, seekTo)
	}
	if err := s.host.LoadState(seekTo, snap.Bytes); err != nil {
		return fmt.Errorf("synchronizer: load_state at frame %d: %w", seekTo, err)
	}

	savedCurrent := s.currentFrame
	for _, q := range s.queues {
		q.ResetPrediction(seekTo)
	}
	s.currentFrame = seekTo
	s.rollingBack = true

	for s.currentFrame < savedCurrent {
		inputs := s.SynchronizeInputs(disconnectedMask)
		if err := s.host.AdvanceFrame(inputs); err != nil {
			s.rollingBack = false
			return fmt.Errorf("synchronizer: advance_frame during rollback at frame %d: %w", s.currentFrame, err)
		}
		if err := s.IncrementFrame(); err != nil {
			s.rollingBack = false
			return err
		}
	}
	s.rollingBack = false

	rollbackFrames := savedCurrent.Sub(seekTo)
	if int(rollbackFrames) > s.predictionFrames && s.logger != nil {
		s.logger.Warn("rollback exceeded prediction_frames",
			zap.Int32("rollback_frames", int32(rollbackFrames)),
			zap.Int("prediction_frames", s.predictionFrames))
	}
	return nil
}

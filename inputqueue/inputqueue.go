// Package inputqueue implements InputQueue: a per-player, frame-indexed
// ring of inputs. It serves three clients: the local producer (AddInput),
// the remote producer (AddRemoteInput), and the Synchronizer consumer
// (GetInput), which may receive a predicted value.
package inputqueue

import (
	"fmt"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
)

// ErrProtocolViolation is returned by AddRemoteInput when a frame skips
// ahead of what the queue expects next; this must fail fatally, so the
// caller (Session) is responsible for escalating it to a fatal session
// error.
var ErrProtocolViolation = fmt.Errorf("inputqueue: remote input frame skipped ahead of expected frame")

// Queue is a fixed-capacity ring of GameInput[T] for one player.
type Queue[T comparable] struct {
	capacity         int
	predictionFrames int
	frameDelay       int

	ring []input.GameInput[T]

	firstFrame frame.Frame
	length     int

	lastUserAddedFrame frame.Frame
	lastAddedFrame     frame.Frame
	firstIncorrectFrame frame.Frame
	lastFrameRequested  frame.Frame

	prediction input.GameInput[T]
	predicting bool
}

// New allocates a Queue sized to capacity (recommended default:
// input_queue_length = 128). predictionFrames is stored with the queue but
// AddInput's full-ring check uses capacity alone; the prediction threshold
// is enforced by the Synchronizer before AddInput is called.
func New[T comparable](capacity, predictionFrames, frameDelay int) *Queue[T] {
	return &Queue[T]{
		capacity:            capacity,
		predictionFrames:    predictionFrames,
		frameDelay:          frameDelay,
		ring:                make([]input.GameInput[T], capacity),
		firstFrame:          frame.Null,
		lastUserAddedFrame:  frame.Null,
		lastAddedFrame:      frame.Null,
		firstIncorrectFrame: frame.Null,
		lastFrameRequested:  frame.Null,
	}
}

// SetFrameDelay changes the local input delay applied by AddInput.
func (q *Queue[T]) SetFrameDelay(n int) { q.frameDelay = n }

func (q *Queue[T]) index(f frame.Frame) int {
	m := int(f) % q.capacity
	if m < 0 {
		m += q.capacity
	}
	return m
}

// AddInput is for local players only. It asserts input.Frame equals
// last_user_added_frame.Next(), shifts the frame by frame_delay, and
// returns the adjusted frame the input was actually stored at. It refuses
// (returning frame.Null, false) if the ring has no room left.
func (q *Queue[T]) AddInput(in input.GameInput[T]) (frame.Frame, bool) {
	expectedUser := q.lastUserAddedFrame.Next()
	if in.Frame != expectedUser {
		panic(fmt.Sprintf("inputqueue: local input out of sequence: got frame %d, want %d", in.Frame, expectedUser))
	}
	q.lastUserAddedFrame = in.Frame

	adjusted := in.Frame.Add(frame.FrameSpan(q.frameDelay))
	if q.length >= q.capacity {
		return frame.Null, false
	}
	q.store(input.GameInput[T]{Frame: adjusted, Data: in.Data})
	return adjusted, true
}

// AddRemoteInput inserts a remotely-produced input. It requires
// input.Frame == last_added_frame.Next() (which, since Null.Next() ==
// Zero, also covers the empty-queue bootstrap case). A frame older than
// expected is a duplicate/reorder and is dropped silently; a frame newer
// than expected is a protocol violation and returns ErrProtocolViolation.
func (q *Queue[T]) AddRemoteInput(in input.GameInput[T]) error {
	expected := q.lastAddedFrame.Next()
	if in.Frame < expected {
		return nil
	}
	if in.Frame > expected {
		return fmt.Errorf("%w: got %d, expected %d", ErrProtocolViolation, in.Frame, expected)
	}

	if q.predicting && !q.lastFrameRequested.IsNull() && in.Frame <= q.lastFrameRequested {
		if !in.Equal(q.prediction) {
			q.firstIncorrectFrame = frame.Min(q.firstIncorrectFrame, in.Frame)
		}
	}

	q.store(in)

	if q.predicting && (q.lastFrameRequested.IsNull() || in.Frame >= q.lastFrameRequested) {
		q.predicting = false
	}
	return nil
}

func (q *Queue[T]) store(in input.GameInput[T]) {
	q.ring[q.index(in.Frame)] = in
	if q.length == 0 {
		q.firstFrame = in.Frame
	}
	q.lastAddedFrame = in.Frame
	q.length = int(q.lastAddedFrame.Sub(q.firstFrame)) + 1
}

// GetInput returns the input stored for frame f if f is within
// [first_frame, last_added_frame]. Otherwise it marks the queue as
// predicting, copies the last known input (or the zero value, if the
// queue has never received one) into prediction, rewrites its frame to f,
// and returns that, with found=false.
func (q *Queue[T]) GetInput(f frame.Frame) (in input.GameInput[T], found bool) {
	q.lastFrameRequested = f

	if q.length > 0 && f >= q.firstFrame && f <= q.lastAddedFrame {
		return q.ring[q.index(f)], true
	}

	q.predicting = true
	if q.length > 0 {
		q.prediction = q.ring[q.index(q.lastAddedFrame)]
	}
	pred := q.prediction
	pred.Frame = f
	return pred, false
}

// PeekInput is the read-only counterpart to GetInput: it returns the same
// value GetInput would for frame f, but never mutates last_frame_requested,
// predicting, or prediction. Callers that consume historical frames for
// purposes other than driving the live simulation (feeding spectators, for
// instance) must use this instead of GetInput, since rewinding
// last_frame_requested backward would reopen the prediction-error detection
// window the live simulation already closed.
func (q *Queue[T]) PeekInput(f frame.Frame) (in input.GameInput[T], found bool) {
	if q.length > 0 && f >= q.firstFrame && f <= q.lastAddedFrame {
		return q.ring[q.index(f)], true
	}

	pred := q.prediction
	if q.length > 0 {
		pred = q.ring[q.index(q.lastAddedFrame)]
	}
	pred.Frame = f
	return pred, false
}

// DiscardConfirmedFrames advances the retained-frame window so that frames
// strictly before upTo are freed, but never discards past last_frame_requested.
func (q *Queue[T]) DiscardConfirmedFrames(upTo frame.Frame) {
	if q.length == 0 || upTo.IsNull() {
		return
	}
	limit := upTo
	if !q.lastFrameRequested.IsNull() && limit > q.lastFrameRequested {
		limit = q.lastFrameRequested
	}
	for q.length > 0 && q.firstFrame < limit {
		if q.firstFrame == q.lastAddedFrame {
			break
		}
		q.firstFrame = q.firstFrame.Next()
		q.length--
	}
}

// ResetPrediction clears the predicting state and any recorded
// first-incorrect-frame marker, as done immediately after a rollback's
// load_frame(seek_to) restores the host simulation.
func (q *Queue[T]) ResetPrediction(f frame.Frame) {
	q.firstIncorrectFrame = frame.Null
	q.predicting = false
	if !q.lastFrameRequested.IsNull() && q.lastFrameRequested >= f {
		q.lastFrameRequested = f.Previous()
	}
}

// FirstIncorrectFrame reports the earliest frame whose predicted value
// was contradicted by a later-arriving real input, or frame.Null.
func (q *Queue[T]) FirstIncorrectFrame() frame.Frame { return q.firstIncorrectFrame }

// LastAddedFrame reports the most recent frame actually stored (not predicted).
func (q *Queue[T]) LastAddedFrame() frame.Frame { return q.lastAddedFrame }

// LastConfirmedFrame is an alias used by the Synchronizer when reasoning
// about confirmed-frame advancement; for a queue it is the last added frame.
func (q *Queue[T]) LastConfirmedFrame() frame.Frame { return q.lastAddedFrame }

// Predicting reports whether the queue is currently serving predictions.
func (q *Queue[T]) Predicting() bool { return q.predicting }

// Len reports the number of frames currently retained.
func (q *Queue[T]) Len() int { return q.length }

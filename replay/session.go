package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/session"
)

// Source yields one confirmed frame of input at a time, in order, returning
// io.EOF once exhausted. *Reader satisfies this directly.
type Source[T comparable] interface {
	Next() (input.ConfirmedInputs[T], error)
}

// Host is the replay-facing subset of session.Host: a Replay backend never
// predicts or rolls back, so it drives only AdvanceFrame.
type Host[T comparable] interface {
	AdvanceFrame(inputs []input.GameInput[T]) error
}

// Session is the Replay backend: the host drives it through
// the identical BeginFrame/SynchronizeInputs/AdvanceFrame call sequence a
// live Session expects, but every frame's input comes from Source instead
// of the network, and no rollback ever occurs.
type Session[T comparable] struct {
	host      Host[T]
	source    Source[T]
	maxPlayers int

	current   input.ConfirmedInputs[T]
	haveFrame bool
	exhausted bool
	currentFrame frame.Frame
}

// NewSession constructs a Replay backend reading from source.
func NewSession[T comparable](host Host[T], source Source[T], maxPlayers int) *Session[T] {
	return &Session[T]{host: host, source: source, maxPlayers: maxPlayers, currentFrame: frame.Zero}
}

// BeginFrame pulls the next confirmed frame from Source, or marks the
// session exhausted on io.EOF. Any other read error is returned as-is.
func (s *Session[T]) BeginFrame() error {
	if s.exhausted {
		return nil
	}
	ci, err := s.source.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.exhausted = true
			return nil
		}
		return fmt.Errorf("replay: read next frame: %w", err)
	}
	s.current = ci
	s.haveFrame = true
	return nil
}

// SynchronizeInputs returns the frame just read by BeginFrame, or
// NotSynchronized once the recording is exhausted.
func (s *Session[T]) SynchronizeInputs() ([]input.GameInput[T], session.ResultCode) {
	if s.exhausted || !s.haveFrame {
		return nil, session.NotSynchronized
	}
	out := make([]input.GameInput[T], s.maxPlayers)
	for i := 0; i < s.maxPlayers; i++ {
		f := s.current.Frame
		if i < s.current.Count {
			out[i] = input.GameInput[T]{Frame: f, Data: s.current.Inputs[i]}
		} else {
			out[i] = input.GameInput[T]{Frame: f}
		}
	}
	return out, session.Ok
}

// AdvanceFrame drives the host's simulation step and advances the local
// frame counter. There is no Synchronizer here: nothing is ever rolled
// back, so no snapshot needs saving.
func (s *Session[T]) AdvanceFrame(inputs []input.GameInput[T]) error {
	if err := s.host.AdvanceFrame(inputs); err != nil {
		return fmt.Errorf("replay: advance_frame: %w", err)
	}
	s.currentFrame = s.currentFrame.Next()
	s.haveFrame = false
	return nil
}

// CurrentFrame reports the frame the replay has advanced to.
func (s *Session[T]) CurrentFrame() frame.Frame { return s.currentFrame }

// Exhausted reports whether the recording has been fully consumed.
func (s *Session[T]) Exhausted() bool { return s.exhausted }

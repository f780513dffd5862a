// Package input defines the per-frame payloads exchanged between the host
// application and the session core: player handles, the generic per-frame
// input record, and the confirmed-input batch delivered to spectators and
// listeners.
package input

import (
	"fmt"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/limits"
)

// PlayerKind distinguishes the three roles a peer handle can hold.
type PlayerKind int

const (
	Local PlayerKind = iota
	Remote
	Spectator
)

func (k PlayerKind) String() string {
	switch k {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case Spectator:
		return "spectator"
	default:
		return "unknown"
	}
}

// Handle identifies a player or spectator within a session. ExternalNumber
// is the host-chosen identity (e.g. "player 2"); InternalQueue is the dense,
// zero-based index netsync assigns at AddPlayer time and is the only index
// used internally (InputQueue slot, ConnectionsState slot, ...).
type Handle struct {
	Kind           PlayerKind
	ExternalNumber int
	InternalQueue  int
}

// IsSpectator reports whether the handle addresses a spectator.
func (h Handle) IsSpectator() bool { return h.Kind == Spectator }

// String renders the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%s#%d(q=%d)", h.Kind, h.ExternalNumber, h.InternalQueue)
}

// GameInput is one frame of input for one player. T is a fixed-size,
// bit-copyable payload type chosen by the host (a struct of plain fields,
// no pointers or slices).
type GameInput[T comparable] struct {
	Frame frame.Frame
	Data  T
}

// Equal reports whether two inputs carry identical bits, ignoring frame.
func (g GameInput[T]) Equal(other GameInput[T]) bool {
	return g.Data == other.Data
}

// ConfirmedInputs is a fixed-capacity batch of confirmed per-player inputs
// for a single frame, emitted to spectators and local input listeners only
// after every non-disconnected player's input for that frame is known.
type ConfirmedInputs[T comparable] struct {
	Frame  frame.Frame
	Inputs [limits.MaxPlayers]T
	Count  int
}

// Package statestore implements StateStore: the bounded ring of saved
// simulation snapshots keyed by frame, used by the Synchronizer to
// checkpoint and rewind the host simulation during rollback.
package statestore

import "github.com/cppla-netsync/netsync/frame"

// Snapshot is one saved simulation checkpoint. Bytes is the host's opaque
// serialized state, owned by the ring slot until overwritten.
type Snapshot struct {
	Frame    frame.Frame
	Bytes    []byte
	Checksum uint32
}

// Store is the fixed-capacity snapshot ring. Capacity should be
// prediction_frames + a small offset: large enough that any
// frame a rollback might need to seek to is still resident.
type Store struct {
	capacity int
	slots    []Snapshot
	occupied []bool
}

// New allocates a Store with room for capacity snapshots.
func New(capacity int) *Store {
	return &Store{
		capacity: capacity,
		slots:    make([]Snapshot, capacity),
		occupied: make([]bool, capacity),
	}
}

func (s *Store) index(f frame.Frame) int {
	m := int(f) % s.capacity
	if m < 0 {
		m += s.capacity
	}
	return m
}

// Save records a snapshot at its frame's ring slot, evicting whatever
// previously occupied it.
func (s *Store) Save(f frame.Frame, bytes []byte, checksum uint32) {
	idx := s.index(f)
	s.slots[idx] = Snapshot{Frame: f, Bytes: bytes, Checksum: checksum}
	s.occupied[idx] = true
}

// Load fetches the snapshot for frame f, if it is still resident and
// actually holds f (not a later snapshot that has since overwritten the
// slot). found is false when the frame has fallen out of the ring;
// this is treated as an unrecoverable desync during rollback.
func (s *Store) Load(f frame.Frame) (Snapshot, bool) {
	idx := s.index(f)
	if !s.occupied[idx] || s.slots[idx].Frame != f {
		return Snapshot{}, false
	}
	return s.slots[idx], true
}

// Capacity returns the ring size.
func (s *Store) Capacity() int { return s.capacity }

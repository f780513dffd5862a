// Package connstate implements ConnectionsState: the fixed-size table,
// one slot per local player queue, tracking each peer's last confirmed
// frame and disconnection state. It is the authoritative local view of
// per-peer progress and is read by the host thread only.
package connstate

import "github.com/cppla-netsync/netsync/frame"

// Slot is one ConnectionsState entry.
type Slot struct {
	LastFrame    frame.Frame
	Disconnected bool
}

// Table is the fixed-size ConnectionsState, indexed by internal queue.
type Table struct {
	slots []Slot
}

// New allocates a Table with one slot per queue, all starting at
// frame.Null and connected.
func New(queueCount int) *Table {
	slots := make([]Slot, queueCount)
	for i := range slots {
		slots[i].LastFrame = frame.Null
	}
	return &Table{slots: slots}
}

// Get returns the slot for queue q.
func (t *Table) Get(q int) Slot { return t.slots[q] }

// SetLastFrame records the last known frame for queue q.
func (t *Table) SetLastFrame(q int, f frame.Frame) { t.slots[q].LastFrame = f }

// Disconnect marks queue q disconnected and pins its last frame.
func (t *Table) Disconnect(q int, lastFrame frame.Frame) {
	t.slots[q].Disconnected = true
	t.slots[q].LastFrame = lastFrame
}

// IsDisconnected reports whether queue q is disconnected.
func (t *Table) IsDisconnected(q int) bool { return t.slots[q].Disconnected }

// Len returns the number of slots.
func (t *Table) Len() int { return len(t.slots) }

// ForEach calls fn for every slot in queue order.
func (t *Table) ForEach(fn func(q int, s Slot)) {
	for i, s := range t.slots {
		fn(i, s)
	}
}

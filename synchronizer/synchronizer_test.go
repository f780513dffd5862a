package synchronizer

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
)

type payload struct{ V int32 }

// fakeHost is a deterministic toy simulation: state is the running sum of
// every input's V field across both queues, so any divergence in the
// inputs fed to AdvanceFrame is observable in the final state.
type fakeHost struct {
	state int32
}

func (h *fakeHost) SaveState(f frame.Frame) ([]byte, uint32, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(h.state))
	return buf[:], uint32(h.state), nil
}

func (h *fakeHost) LoadState(f frame.Frame, data []byte) error {
	h.state = int32(binary.BigEndian.Uint32(data))
	return nil
}

func (h *fakeHost) AdvanceFrame(inputs []input.GameInput[payload]) error {
	for _, in := range inputs {
		h.state += in.Data.V
	}
	return nil
}

func newTestSynchronizer(t *testing.T) (*Synchronizer[payload], *fakeHost) {
	t.Helper()
	host := &fakeHost{}
	s, err := New[payload](host, nil, Config{
		NumQueues:          2,
		InputQueueLength:   128,
		PredictionFrames:   8,
		StateStoreCapacity: 10,
		FrameDelay:         0,
	})
	require.NoError(t, err)
	return s, host
}

func tick(t *testing.T, s *Synchronizer[payload], host *fakeHost, mask []bool) {
	t.Helper()
	inputs := s.SynchronizeInputs(mask)
	require.NoError(t, host.AdvanceFrame(inputs))
	require.NoError(t, s.IncrementFrame())
}

func TestRollbackReproducesGroundTruth(t *testing.T) {
	s, host := newTestSynchronizer(t)
	mask := []bool{false, false}

	// q0 always has real input on time.
	q0Values := []int32{1, 1, 1, 1, 1, 1, 1}
	// q1 has real input for frames 0-3 immediately; frames 4 and 5 are
	// predicted (repeating frame 3's value) until the real values arrive
	// delayed, and frame 5's real value differs from what was predicted.
	q1RealValues := map[int32]int32{0: 2, 1: 2, 2: 2, 3: 2, 4: 2, 5: 9, 6: 9}

	for f := int32(0); f <= 3; f++ {
		require.NoError(t, s.AddRemoteInput(0, input.GameInput[payload]{Frame: frame.Frame(f), Data: payload{V: q0Values[f]}}))
		require.NoError(t, s.AddRemoteInput(1, input.GameInput[payload]{Frame: frame.Frame(f), Data: payload{V: q1RealValues[f]}}))
	}

	// Ticks 0-3: everything known, no prediction.
	for i := 0; i < 4; i++ {
		tick(t, s, host, mask)
		require.NoError(t, s.CheckSimulation(mask))
	}

	require.NoError(t, s.AddRemoteInput(0, input.GameInput[payload]{Frame: 4, Data: payload{V: q0Values[4]}}))
	// q1's frame 4 and 5 not yet arrived: ticks 4 and 5 predict (repeats frame 3's value = 2).
	tick(t, s, host, mask)
	require.NoError(t, s.CheckSimulation(mask))
	require.NoError(t, s.AddRemoteInput(0, input.GameInput[payload]{Frame: 5, Data: payload{V: q0Values[5]}}))
	tick(t, s, host, mask)
	require.NoError(t, s.CheckSimulation(mask))

	// Delayed real inputs now arrive: frame 4 matches the prediction (2),
	// but frame 5's real value (9) contradicts the predicted repeat of 2.
	require.NoError(t, s.AddRemoteInput(1, input.GameInput[payload]{Frame: 4, Data: payload{V: q1RealValues[4]}}))
	require.NoError(t, s.AddRemoteInput(1, input.GameInput[payload]{Frame: 5, Data: payload{V: q1RealValues[5]}}))

	require.False(t, s.InRollback())
	require.NoError(t, s.CheckSimulation(mask))
	require.False(t, s.InRollback())

	// Ground truth: what the sum would be at frame 6 had every value been
	// known from the start.
	var groundTruth int32
	for f := int32(0); f <= 5; f++ {
		groundTruth += q0Values[f] + q1RealValues[f]
	}
	require.Equal(t, frame.Frame(6), s.CurrentFrame())
	require.Equal(t, groundTruth, host.state)
}

func TestAddLocalInputThresholdRejectsBeyondPredictionFrames(t *testing.T) {
	s, _ := newTestSynchronizer(t)
	s.SetLastConfirmedFrame(frame.Zero)

	s.currentFrame = frame.Frame(7)
	ok := s.AddLocalInput(0, input.GameInput[payload]{Frame: 0})
	require.True(t, ok, "lead of 7 is still under prediction_frames=8")

	s.currentFrame = frame.Frame(8)
	ok = s.AddLocalInput(0, input.GameInput[payload]{Frame: 1})
	require.False(t, ok, "lead of 8 meets prediction_frames=8: refused")
}

// A misprediction on frame 0 itself must roll back like any other
// misprediction, not desync: New saves the host's initial state at frame
// 0 before any tick runs, so rollback(0) always has a snapshot to load.
func TestRollbackToFrameZeroSucceedsAfterInitialSnapshot(t *testing.T) {
	s, host := newTestSynchronizer(t)
	mask := []bool{false, false}

	// q0's frame 0 input is known up front; q1's is not, so the first
	// tick predicts q1's frame 0 as the zero value.
	require.NoError(t, s.AddRemoteInput(0, input.GameInput[payload]{Frame: 0, Data: payload{V: 1}}))
	tick(t, s, host, mask)
	require.Equal(t, frame.Frame(1), s.CurrentFrame())
	require.Equal(t, int32(1), host.state)

	// q1's real frame 0 input arrives late and disagrees with the
	// predicted zero.
	require.NoError(t, s.AddRemoteInput(1, input.GameInput[payload]{Frame: 0, Data: payload{V: 5}}))

	require.NoError(t, s.CheckSimulation(mask))
	require.Equal(t, int32(6), host.state)
}

func TestDesyncWhenStateStoreMissesRequiredFrame(t *testing.T) {
	s, host := newTestSynchronizer(t)
	mask := []bool{false, false}
	// New saves an initial snapshot at frame 0, so it is resident at first.
	// 11 ticks save frames 1 through 11, and frame 10's save lands in the
	// same 10-slot ring slot as frame 0 (10 % 10 == 0), overwriting it
	// before AdjustSimulation ever asks for it back.
	for f := int32(0); f < 11; f++ {
		require.NoError(t, s.AddRemoteInput(0, input.GameInput[payload]{Frame: frame.Frame(f)}))
		require.NoError(t, s.AddRemoteInput(1, input.GameInput[payload]{Frame: frame.Frame(f)}))
		tick(t, s, host, mask)
	}
	err := s.AdjustSimulation(frame.Frame(0), mask)
	require.ErrorIs(t, err, ErrDesync)
}

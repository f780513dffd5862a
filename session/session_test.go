package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/netsyncconfig"
	"github.com/cppla-netsync/netsync/peer"
)

type testInput struct {
	X int32
}

type testCodec struct{}

func (testCodec) Width() int                { return 4 }
func (testCodec) Encode(v testInput) []byte { return []byte{byte(v.X), byte(v.X >> 8), byte(v.X >> 16), byte(v.X >> 24)} }
func (testCodec) Decode(b []byte) testInput {
	return testInput{X: int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24}
}

type testHost struct {
	advanced  [][]input.GameInput[testInput]
	started   bool
	closed    bool
	peerEvents []peer.Event
}

func (h *testHost) SaveState(f frame.Frame) ([]byte, uint32, error) { return []byte{byte(f)}, uint32(f), nil }
func (h *testHost) LoadState(f frame.Frame, data []byte) error      { return nil }
func (h *testHost) AdvanceFrame(inputs []input.GameInput[testInput]) error {
	cp := append([]input.GameInput[testInput]{}, inputs...)
	h.advanced = append(h.advanced, cp)
	return nil
}
func (h *testHost) OnSessionStart()                                 { h.started = true }
func (h *testHost) OnSessionClose()                                 { h.closed = true }
func (h *testHost) OnPeerEvent(p input.Handle, ev peer.Event)        { h.peerEvents = append(h.peerEvents, ev) }
func (h *testHost) TimeSync(sleepFrames int)                        {}

func testOptions() *netsyncconfig.Options {
	o := netsyncconfig.DefaultOptions()
	o.MaxPlayers = 2
	o.MaxSpectators = 2
	o.RecommendationInterval = 1000
	return o
}

// A session with only a single local player never has a remote or
// spectator Connection stuck Syncing, so the initial sync gate opens on
// the very first BeginFrame.
func TestSingleLocalPlayerSynchronizesImmediatelyAndAdvances(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)

	h, code := s.AddPlayer(input.Local, 0, nil, nil)
	require.Equal(t, Ok, code)
	require.Equal(t, 0, h.InternalQueue)

	require.NoError(t, s.BeginFrame())
	require.True(t, host.started)
	require.False(t, s.isSynchronizing)

	require.Equal(t, Ok, s.AddLocalInput(h, testInput{X: 7}))

	inputs, code := s.SynchronizeInputs()
	require.Equal(t, Ok, code)
	require.Len(t, inputs, 2)
	require.Equal(t, testInput{X: 7}, inputs[0].Data)

	require.NoError(t, s.AdvanceFrame(inputs))
	require.Len(t, host.advanced, 1)
}

func TestAddPlayerRejectsDuplicateExternalNumber(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)

	_, code := s.AddPlayer(input.Local, 5, nil, nil)
	require.Equal(t, Ok, code)

	_, code = s.AddPlayer(input.Local, 5, nil, nil)
	require.Equal(t, DuplicatedPlayer, code)
}

func TestAddPlayerRejectsBeyondMaxPlayers(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)

	_, code := s.AddPlayer(input.Local, 0, nil, nil)
	require.Equal(t, Ok, code)
	_, code = s.AddPlayer(input.Local, 1, nil, nil)
	require.Equal(t, Ok, code)

	_, code = s.AddPlayer(input.Local, 2, nil, nil)
	require.Equal(t, TooManyPlayers, code)
}

func TestAddLocalInputBeforeSynchronizedIsRejected(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)
	h, code := s.AddPlayer(input.Local, 0, nil, nil)
	require.Equal(t, Ok, code)

	require.Equal(t, NotSynchronized, s.AddLocalInput(h, testInput{}))
}

func TestAddLocalInputRejectsMismatchedHandle(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)
	h, _ := s.AddPlayer(input.Local, 0, nil, nil)
	require.NoError(t, s.BeginFrame())

	stale := h
	stale.ExternalNumber = 99
	require.Equal(t, InvalidPlayerHandle, s.AddLocalInput(stale, testInput{}))
}

func TestSpectatorJoinDebounceRejectsRapidRetry(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)

	_, code := s.AddPlayer(input.Spectator, 1, nil, nil)
	require.Equal(t, Ok, code)

	_, code = s.AddPlayer(input.Spectator, 1, nil, nil)
	require.Equal(t, DuplicatedPlayer, code)
}

func TestSpectatorQueueIsOffsetPastPlayerRange(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)

	_, code := s.AddPlayer(input.Spectator, 1, nil, nil)
	require.Equal(t, Ok, code)
	require.Equal(t, s.cfg.MaxPlayers, s.spectators[0].Queue)
}

func TestDisconnectPlayerMarksConnectionState(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)
	h, _ := s.AddPlayer(input.Local, 0, nil, nil)

	require.Equal(t, Ok, s.DisconnectPlayer(h))
	require.True(t, s.conns.IsDisconnected(h.InternalQueue))
}

func TestStopWithoutStartIsANoOp(t *testing.T) {
	host := &testHost{}
	s, err := New[testInput](host, testCodec{}, testOptions(), nil)
	require.NoError(t, err)
	s.Stop(10 * time.Millisecond)
}

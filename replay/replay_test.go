package replay

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cppla-netsync/netsync/input"
	"github.com/cppla-netsync/netsync/session"
)

type byteCodec struct{}

func (byteCodec) Width() int            { return 1 }
func (byteCodec) Encode(v uint8) []byte { return []byte{v} }
func (byteCodec) Decode(b []byte) uint8 { return b[0] }

func TestWriterReaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter[uint8](&buf, byteCodec{})

	frames := []input.ConfirmedInputs[uint8]{
		{Frame: 0, Count: 2, Inputs: [4]uint8{1, 2}},
		{Frame: 1, Count: 2, Inputs: [4]uint8{3, 4}},
		{Frame: 2, Count: 2, Inputs: [4]uint8{5, 6}},
	}
	for _, f := range frames {
		require.NoError(t, w.WriteFrame(f))
	}
	require.NoError(t, w.Close())

	r := NewReader[uint8](&buf, byteCodec{})
	for _, want := range frames {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want.Frame, got.Frame)
		require.Equal(t, want.Count, got.Count)
		require.Equal(t, want.Inputs[0], got.Inputs[0])
		require.Equal(t, want.Inputs[1], got.Inputs[1])
	}
	_, err := r.Next()
	require.ErrorIs(t, err, io.EOF)
}

type wideCodec struct{}

func (wideCodec) Width() int            { return 2 }
func (wideCodec) Encode(v uint16) []byte { return []byte{byte(v >> 8), byte(v)} }
func (wideCodec) Decode(b []byte) uint16 { return uint16(b[0])<<8 | uint16(b[1]) }

func TestReaderRejectsWidthMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter[uint8](&buf, byteCodec{})
	require.NoError(t, w.WriteFrame(input.ConfirmedInputs[uint8]{Frame: 0, Count: 1, Inputs: [4]uint8{9}}))
	require.NoError(t, w.Close())

	r := NewReader[uint16](&buf, wideCodec{})
	_, err := r.Next()
	require.Error(t, err)
}

type replayHost struct {
	advanced [][]input.GameInput[uint8]
}

func (h *replayHost) AdvanceFrame(inputs []input.GameInput[uint8]) error {
	cp := append([]input.GameInput[uint8]{}, inputs...)
	h.advanced = append(h.advanced, cp)
	return nil
}

func TestSessionDrivesRecordedInputThenReportsExhausted(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter[uint8](&buf, byteCodec{})
	require.NoError(t, w.WriteFrame(input.ConfirmedInputs[uint8]{Frame: 0, Count: 2, Inputs: [4]uint8{1, 2}}))
	require.NoError(t, w.WriteFrame(input.ConfirmedInputs[uint8]{Frame: 1, Count: 2, Inputs: [4]uint8{3, 4}}))
	require.NoError(t, w.Close())

	r := NewReader[uint8](&buf, byteCodec{})
	host := &replayHost{}
	s := NewSession[uint8](host, r, 2)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.BeginFrame())
		inputs, code := s.SynchronizeInputs()
		require.Equal(t, session.Ok, code)
		require.NoError(t, s.AdvanceFrame(inputs))
	}
	require.Len(t, host.advanced, 2)
	require.Equal(t, uint8(1), host.advanced[0][0].Data)
	require.Equal(t, uint8(4), host.advanced[1][1].Data)

	require.NoError(t, s.BeginFrame())
	require.True(t, s.Exhausted())
	_, code := s.SynchronizeInputs()
	require.Equal(t, session.NotSynchronized, code)
}

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{Magic: 0xBEEF, Sequence: 42, MessageType: MsgInput}
	encoded := h.Encode(nil)
	require.Len(t, encoded, HeaderSize)

	got, rest, err := DecodeHeader(encoded)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Equal(t, h, got)
}

func TestDecodeHeaderShort(t *testing.T) {
	_, _, err := DecodeHeader([]byte{1, 2})
	require.Error(t, err)
}

func TestSyncRequestRoundTrip(t *testing.T) {
	b := SyncRequest{RandomRequest: 0xCAFEBABE, RemoteMagic: 0x1234, RemoteEndpoint: 7}
	encoded := b.Encode(nil)
	got, err := DecodeSyncRequest(encoded)
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestQualityReportRoundTrip(t *testing.T) {
	b := QualityReport{PingSendTimeMs: 123456789, FrameAdvantage: -5}
	got, err := DecodeQualityReport(b.Encode(nil))
	require.NoError(t, err)
	require.Equal(t, b, got)
}

func TestInputRoundTrip(t *testing.T) {
	in := Input{
		StartFrame:              100,
		Count:                   4,
		DisconnectRequestedMask: 0b0010,
		PeerStatus: []PeerConnectStatus{
			{LastFrame: 99, Disconnected: false},
			{LastFrame: 50, Disconnected: true},
		},
		CompressedInputs: []byte{1, 2, 3, 4},
	}
	encoded := EncodeInput(nil, in, 2)
	got, err := DecodeInput(encoded, 2)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestDeltaCompressRoundTrip(t *testing.T) {
	base := []byte{0, 0}
	frames := [][]byte{
		{0, 1},
		{0, 1},
		{1, 1},
		{0, 0},
	}
	compressed := CompressInputs(base, frames)
	got, err := DecompressInputs(base, compressed, len(frames), 2)
	require.NoError(t, err)
	require.Equal(t, frames, got)
}

func TestDeltaCompressEmpty(t *testing.T) {
	require.Nil(t, CompressInputs([]byte{0}, nil))
	got, err := DecompressInputs([]byte{0}, nil, 0, 1)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeltaCompressIdenticalFramesIsSmall(t *testing.T) {
	base := []byte{0, 0, 0, 0}
	frames := make([][]byte, 64)
	for i := range frames {
		frames[i] = []byte{0, 0, 0, 0}
	}
	compressed := CompressInputs(base, frames)
	// one long run of zero bits compresses to a few varint bytes, not 64*4 bytes.
	require.Less(t, len(compressed), 16)
}

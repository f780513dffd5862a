// Package wire implements the per-peer datagram protocol described in
// the wire protocol: packet header, handshake/input/ack/quality/keepalive message
// bodies, and their big-endian encoding.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Message type tags.
const (
	MsgSyncRequest   uint8 = 1
	MsgSyncReply     uint8 = 2
	MsgInput         uint8 = 3
	MsgInputAck      uint8 = 4
	MsgQualityReport uint8 = 5
	MsgQualityReply  uint8 = 6
	MsgKeepAlive     uint8 = 7
	MsgConfirmedBatch uint8 = 8
)

// HeaderSize is the wire size in bytes of Header.
const HeaderSize = 2 + 2 + 1

// Header prefixes every packet.
type Header struct {
	Magic     uint16
	Sequence  uint16
	MessageType uint8
}

// Encode appends the header's wire bytes to dst and returns the result.
func (h Header) Encode(dst []byte) []byte {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
	buf[4] = h.MessageType
	return append(dst, buf[:]...)
}

// DecodeHeader reads a Header from the front of data, returning the
// remaining bytes.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("wire: short packet: %d bytes", len(data))
	}
	h := Header{
		Magic:       binary.BigEndian.Uint16(data[0:2]),
		Sequence:    binary.BigEndian.Uint16(data[2:4]),
		MessageType: data[4],
	}
	return h, data[HeaderSize:], nil
}

// SyncRequest is the handshake request body.
type SyncRequest struct {
	RandomRequest  uint32
	RemoteMagic    uint16
	RemoteEndpoint uint8
}

func (b SyncRequest) Encode(dst []byte) []byte {
	var buf [7]byte
	binary.BigEndian.PutUint32(buf[0:4], b.RandomRequest)
	binary.BigEndian.PutUint16(buf[4:6], b.RemoteMagic)
	buf[6] = b.RemoteEndpoint
	return append(dst, buf[:]...)
}

func DecodeSyncRequest(data []byte) (SyncRequest, error) {
	if len(data) < 7 {
		return SyncRequest{}, fmt.Errorf("wire: short SyncRequest body")
	}
	return SyncRequest{
		RandomRequest:  binary.BigEndian.Uint32(data[0:4]),
		RemoteMagic:    binary.BigEndian.Uint16(data[4:6]),
		RemoteEndpoint: data[6],
	}, nil
}

// SyncReply is the handshake reply body.
type SyncReply struct {
	RandomReply uint32
}

func (b SyncReply) Encode(dst []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[0:4], b.RandomReply)
	return append(dst, buf[:]...)
}

func DecodeSyncReply(data []byte) (SyncReply, error) {
	if len(data) < 4 {
		return SyncReply{}, fmt.Errorf("wire: short SyncReply body")
	}
	return SyncReply{RandomReply: binary.BigEndian.Uint32(data[0:4])}, nil
}

// InputAck acknowledges inputs received up to AckFrame.
type InputAck struct {
	AckFrame int32
}

func (b InputAck) Encode(dst []byte) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(b.AckFrame))
	return append(dst, buf[:]...)
}

func DecodeInputAck(data []byte) (InputAck, error) {
	if len(data) < 4 {
		return InputAck{}, fmt.Errorf("wire: short InputAck body")
	}
	return InputAck{AckFrame: int32(binary.BigEndian.Uint32(data[0:4]))}, nil
}

// QualityReport carries a ping timestamp and the sender's observed frame
// advantage.
type QualityReport struct {
	PingSendTimeMs uint64
	FrameAdvantage int8
}

func (b QualityReport) Encode(dst []byte) []byte {
	var buf [9]byte
	binary.BigEndian.PutUint64(buf[0:8], b.PingSendTimeMs)
	buf[8] = byte(b.FrameAdvantage)
	return append(dst, buf[:]...)
}

func DecodeQualityReport(data []byte) (QualityReport, error) {
	if len(data) < 9 {
		return QualityReport{}, fmt.Errorf("wire: short QualityReport body")
	}
	return QualityReport{
		PingSendTimeMs: binary.BigEndian.Uint64(data[0:8]),
		FrameAdvantage: int8(data[8]),
	}, nil
}

// QualityReply echoes the ping back as a pong.
type QualityReply struct {
	PongSendTimeMs uint64
}

func (b QualityReply) Encode(dst []byte) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[0:8], b.PongSendTimeMs)
	return append(dst, buf[:]...)
}

func DecodeQualityReply(data []byte) (QualityReply, error) {
	if len(data) < 8 {
		return QualityReply{}, fmt.Errorf("wire: short QualityReply body")
	}
	return QualityReply{PongSendTimeMs: binary.BigEndian.Uint64(data[0:8])}, nil
}

// PeerConnectStatus is one peer's view of one remote queue's progress,
// piggybacked on every Input packet.
type PeerConnectStatus struct {
	LastFrame    int32
	Disconnected bool
}

// Input is a batch of inputs from StartFrame..StartFrame+count-1, plus the
// sender's full peer_connect_status view and a delta-compressed payload
// (see delta.go).
type Input struct {
	StartFrame              int32
	Count                   int32
	DisconnectRequestedMask uint16
	PeerStatus              []PeerConnectStatus
	CompressedInputs        []byte
}

// EncodeInput writes an Input body for a fixed peer-status slot count n.
func EncodeInput(dst []byte, in Input, n int) []byte {
	var head [10]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(in.StartFrame))
	binary.BigEndian.PutUint32(head[4:8], uint32(in.Count))
	binary.BigEndian.PutUint16(head[8:10], in.DisconnectRequestedMask)
	dst = append(dst, head[:]...)
	for i := 0; i < n; i++ {
		var st PeerConnectStatus
		if i < len(in.PeerStatus) {
			st = in.PeerStatus[i]
		}
		var buf [5]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(st.LastFrame))
		if st.Disconnected {
			buf[4] = 1
		}
		dst = append(dst, buf[:]...)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[0:4], uint32(len(in.CompressedInputs)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, in.CompressedInputs...)
	return dst
}

// DecodeInput reads an Input body written by EncodeInput for n peer
// status slots.
func DecodeInput(data []byte, n int) (Input, error) {
	if len(data) < 10+5*n+4 {
		return Input{}, fmt.Errorf("wire: short Input body")
	}
	in := Input{
		StartFrame:              int32(binary.BigEndian.Uint32(data[0:4])),
		Count:                   int32(binary.BigEndian.Uint32(data[4:8])),
		DisconnectRequestedMask: binary.BigEndian.Uint16(data[8:10]),
		PeerStatus:              make([]PeerConnectStatus, n),
	}
	off := 10
	for i := 0; i < n; i++ {
		lastFrame := int32(binary.BigEndian.Uint32(data[off : off+4]))
		disc := data[off+4] != 0
		in.PeerStatus[i] = PeerConnectStatus{LastFrame: lastFrame, Disconnected: disc}
		off += 5
	}
	payloadLen := binary.BigEndian.Uint32(data[off : off+4])
	off += 4
	if len(data) < off+int(payloadLen) {
		return Input{}, fmt.Errorf("wire: truncated Input payload")
	}
	in.CompressedInputs = data[off : off+int(payloadLen)]
	return in, nil
}

// ConfirmedBatch carries one frame's already-confirmed inputs for every
// queue to a spectator. Spectators never predict, so this is sent
// uncompressed: it is off the rollback hot path and at most one per frame.
type ConfirmedBatch struct {
	Frame  int32
	Values [][]byte // one fixed-width payload per queue
}

// EncodeConfirmedBatch writes a ConfirmedBatch body for width-byte payloads.
func EncodeConfirmedBatch(dst []byte, b ConfirmedBatch, width int) []byte {
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], uint32(b.Frame))
	binary.BigEndian.PutUint32(head[4:8], uint32(len(b.Values)))
	dst = append(dst, head[:]...)
	for _, v := range b.Values {
		padded := make([]byte, width)
		copy(padded, v)
		dst = append(dst, padded...)
	}
	return dst
}

// DecodeConfirmedBatch reverses EncodeConfirmedBatch for width-byte payloads.
func DecodeConfirmedBatch(data []byte, width int) (ConfirmedBatch, error) {
	if len(data) < 8 {
		return ConfirmedBatch{}, fmt.Errorf("wire: short ConfirmedBatch header")
	}
	frameNum := int32(binary.BigEndian.Uint32(data[0:4]))
	count := int(binary.BigEndian.Uint32(data[4:8]))
	off := 8
	if len(data) < off+count*width {
		return ConfirmedBatch{}, fmt.Errorf("wire: truncated ConfirmedBatch body")
	}
	values := make([][]byte, count)
	for i := 0; i < count; i++ {
		values[i] = data[off : off+width]
		off += width
	}
	return ConfirmedBatch{Frame: frameNum, Values: values}, nil
}

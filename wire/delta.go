package wire

import (
	"encoding/binary"
	"fmt"
)

// CompressInputs delta-encodes a sequence of fixed-width input payloads
// against a running previous value (initially base; the peer package
// passes an all-zero payload, not the last acknowledged one), via run-length encoding
// over the bitwise XOR of successive frames: run-length over
// XOR with the previous transmitted frame; bit size = input_size_bytes × 8".
func CompressInputs(base []byte, frames [][]byte) []byte {
	if len(frames) == 0 {
		return nil
	}
	width := len(base)
	var bits []bool
	prev := base
	for _, f := range frames {
		bits = append(bits, xorBits(prev, f, width)...)
		prev = f
	}
	return runLengthEncode(bits)
}

// DecompressInputs reverses CompressInputs, reconstructing count payloads
// of width bytes each from base and the compressed run-length stream.
func DecompressInputs(base []byte, compressed []byte, count, width int) ([][]byte, error) {
	if count == 0 {
		return nil, nil
	}
	bits, err := runLengthDecode(compressed, count*width*8)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, count)
	prev := base
	for i := 0; i < count; i++ {
		chunk := bits[i*width*8 : (i+1)*width*8]
		diff := bitsToBytes(chunk, width)
		cur := xorBytes(prev, diff, width)
		out[i] = cur
		prev = cur
	}
	return out, nil
}

func xorBits(a, b []byte, width int) []bool {
	bits := make([]bool, width*8)
	for i := 0; i < width; i++ {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		x := av ^ bv
		for bit := 0; bit < 8; bit++ {
			bits[i*8+bit] = x&(1<<uint(7-bit)) != 0
		}
	}
	return bits
}

func bitsToBytes(bits []bool, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		var b byte
		for bit := 0; bit < 8; bit++ {
			if bits[i*8+bit] {
				b |= 1 << uint(7-bit)
			}
		}
		out[i] = b
	}
	return out
}

func xorBytes(a, b []byte, width int) []byte {
	out := make([]byte, width)
	for i := 0; i < width; i++ {
		var av, bv byte
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		out[i] = av ^ bv
	}
	return out
}

// runLengthEncode writes bits as a sequence of varint run lengths,
// alternating value starting with a (possibly zero-length) run of false.
func runLengthEncode(bits []bool) []byte {
	var out []byte
	var varintBuf [binary.MaxVarintLen64]byte

	cur := false
	runLen := uint64(0)
	for _, bit := range bits {
		if bit == cur {
			runLen++
			continue
		}
		n := binary.PutUvarint(varintBuf[:], runLen)
		out = append(out, varintBuf[:n]...)
		cur = bit
		runLen = 1
	}
	n := binary.PutUvarint(varintBuf[:], runLen)
	out = append(out, varintBuf[:n]...)
	return out
}

// runLengthDecode reverses runLengthEncode, expecting exactly wantBits bits.
func runLengthDecode(data []byte, wantBits int) ([]bool, error) {
	bits := make([]bool, 0, wantBits)
	cur := false
	off := 0
	for len(bits) < wantBits {
		if off >= len(data) {
			return nil, fmt.Errorf("wire: truncated run-length stream")
		}
		runLen, n := binary.Uvarint(data[off:])
		if n <= 0 {
			return nil, fmt.Errorf("wire: invalid varint in run-length stream")
		}
		off += n
		for i := uint64(0); i < runLen; i++ {
			bits = append(bits, cur)
		}
		cur = !cur
	}
	if len(bits) != wantBits {
		return nil, fmt.Errorf("wire: run-length stream produced %d bits, want %d", len(bits), wantBits)
	}
	return bits, nil
}

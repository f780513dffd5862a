// Package replay implements the recorded-session file format and the
// Replay backend: a Session-shaped driver that feeds previously-confirmed
// input instead of a live transport: it ignores the network and reads
// ConfirmedInputs from a provided recorded sequence instead.
package replay

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/cppla-netsync/netsync/frame"
	"github.com/cppla-netsync/netsync/input"
)

// magic tags the start of a replay file, guarding against feeding an
// unrelated file to Reader.
const magic = uint32(0x4e535243) // "NSRC"

// record layout per frame, all big-endian:
//
//	frame      int32
//	count      uint16 (queues present)
//	[count]    width-byte payload each, width supplied out of band
//
// width is fixed for a given codec and is not stored per record; Reader is
// constructed with the same width the Writer used.

// Writer appends ConfirmedInputs records to an underlying stream, writing
// the magic/width header on the first call.
type Writer[T comparable] struct {
	w         *bufio.Writer
	codec     writerCodec[T]
	width     int
	wroteHead bool
}

type writerCodec[T comparable] interface {
	Width() int
	Encode(T) []byte
}

// NewWriter constructs a Writer over w using codec to serialize each
// player's payload.
func NewWriter[T comparable](w io.Writer, codec writerCodec[T]) *Writer[T] {
	return &Writer[T]{w: bufio.NewWriter(w), codec: codec, width: codec.Width()}
}

// WriteFrame appends one confirmed frame's inputs.
func (rw *Writer[T]) WriteFrame(ci input.ConfirmedInputs[T]) error {
	if !rw.wroteHead {
		var head [8]byte
		binary.BigEndian.PutUint32(head[0:4], magic)
		binary.BigEndian.PutUint32(head[4:8], uint32(rw.width))
		if _, err := rw.w.Write(head[:]); err != nil {
			return fmt.Errorf("replay: write header: %w", err)
		}
		rw.wroteHead = true
	}

	var rec [6]byte
	binary.BigEndian.PutUint32(rec[0:4], uint32(ci.Frame))
	binary.BigEndian.PutUint16(rec[4:6], uint16(ci.Count))
	if _, err := rw.w.Write(rec[:]); err != nil {
		return fmt.Errorf("replay: write frame %d header: %w", ci.Frame, err)
	}
	for i := 0; i < ci.Count; i++ {
		payload := rw.codec.Encode(ci.Inputs[i])
		if len(payload) != rw.width {
			return fmt.Errorf("replay: codec produced %d bytes, want %d", len(payload), rw.width)
		}
		if _, err := rw.w.Write(payload); err != nil {
			return fmt.Errorf("replay: write frame %d payload %d: %w", ci.Frame, i, err)
		}
	}
	return nil
}

// Close flushes any buffered output.
func (rw *Writer[T]) Close() error { return rw.w.Flush() }

type readerCodec[T comparable] interface {
	Width() int
	Decode([]byte) T
}

// Reader sequentially reads ConfirmedInputs records written by Writer.
type Reader[T comparable] struct {
	r       *bufio.Reader
	codec   readerCodec[T]
	width   int
	checked bool
}

// NewReader constructs a Reader over r. codec's Width() must match the
// Writer's, which is independently verified against the file header on the
// first Next call.
func NewReader[T comparable](r io.Reader, codec readerCodec[T]) *Reader[T] {
	return &Reader[T]{r: bufio.NewReader(r), codec: codec, width: codec.Width()}
}

// Next reads the following frame record, or io.EOF once the file is
// exhausted.
func (rr *Reader[T]) Next() (input.ConfirmedInputs[T], error) {
	if !rr.checked {
		var head [8]byte
		if _, err := io.ReadFull(rr.r, head[:]); err != nil {
			return input.ConfirmedInputs[T]{}, fmt.Errorf("replay: read header: %w", err)
		}
		if binary.BigEndian.Uint32(head[0:4]) != magic {
			return input.ConfirmedInputs[T]{}, fmt.Errorf("replay: bad magic, not a replay file")
		}
		fileWidth := int(binary.BigEndian.Uint32(head[4:8]))
		if fileWidth != rr.width {
			return input.ConfirmedInputs[T]{}, fmt.Errorf("replay: codec width %d does not match file width %d", rr.width, fileWidth)
		}
		rr.checked = true
	}

	var rec [6]byte
	if _, err := io.ReadFull(rr.r, rec[:]); err != nil {
		return input.ConfirmedInputs[T]{}, err
	}
	ci := input.ConfirmedInputs[T]{
		Frame: frame.Frame(int32(binary.BigEndian.Uint32(rec[0:4]))),
		Count: int(binary.BigEndian.Uint16(rec[4:6])),
	}
	for i := 0; i < ci.Count; i++ {
		buf := make([]byte, rr.width)
		if _, err := io.ReadFull(rr.r, buf); err != nil {
			return input.ConfirmedInputs[T]{}, fmt.Errorf("replay: truncated frame %d payload %d: %w", ci.Frame, i, err)
		}
		if i < len(ci.Inputs) {
			ci.Inputs[i] = rr.codec.Decode(buf)
		}
	}
	return ci, nil
}

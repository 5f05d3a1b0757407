// Package payload carries opaque application bytes through the transport.
// The transport never interprets payload contents; it only needs the total
// length, a segment view for scatter-gather sends, and a hex rendering for
// diagnostics.
package payload

import (
	"encoding/hex"
	"net"
	"strings"
)

// Buffer is an immutable view over one or more byte segments forming a
// single datagram payload.
type Buffer struct {
	segments net.Buffers
	length   int
}

// From wraps a single byte slice. The slice is not copied; the caller must
// not mutate it while the buffer is in flight.
func From(b []byte) Buffer {
	return Buffer{segments: net.Buffers{b}, length: len(b)}
}

// Chain builds a buffer from multiple segments which are sent back to back
// without copying.
func Chain(segments ...[]byte) Buffer {
	buf := Buffer{segments: make(net.Buffers, 0, len(segments))}
	for _, seg := range segments {
		if len(seg) == 0 {
			continue
		}
		buf.segments = append(buf.segments, seg)
		buf.length += len(seg)
	}
	return buf
}

// Len returns the total payload length across all segments.
func (b Buffer) Len() int {
	return b.length
}

// Segments returns the chain view for scatter-gather writes.
func (b Buffer) Segments() net.Buffers {
	return b.segments
}

// Bytes flattens the payload into a single contiguous slice. A buffer with
// exactly one segment is returned without copying.
func (b Buffer) Bytes() []byte {
	if len(b.segments) == 1 {
		return b.segments[0]
	}

	flat := make([]byte, 0, b.length)
	for _, seg := range b.segments {
		flat = append(flat, seg...)
	}
	return flat
}

// Dump renders the payload as space-separated hex pairs for diagnostics.
func (b Buffer) Dump() string {
	var sb strings.Builder
	for _, seg := range b.segments {
		for _, c := range seg {
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(hex.EncodeToString([]byte{c}))
		}
	}
	return sb.String()
}

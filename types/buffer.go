package types

import (
	"strings"
)

// BufferValue is a length-prefixed run of raw bytes, distinct from StrValue
// because it carries no printability guarantee. It backs binary I/O and
// pack()/unpack() payloads. Like lists and strings it is copy-on-write: any
// mutator returns a new value and leaves the receiver untouched.
type BufferValue struct {
	data []byte
}

// NewBuffer wraps a byte slice as a buffer value. The slice is copied so
// the caller's backing array can be reused safely.
func NewBuffer(b []byte) BufferValue {
	cp := make([]byte, len(b))
	copy(cp, b)
	return BufferValue{data: cp}
}

func (b BufferValue) Type() TypeCode { return TYPE_BUF }

func (b BufferValue) String() string {
	return "b\"" + string(b.data) + "\""
}

func (b BufferValue) Truthy() bool { return len(b.data) > 0 }

func (b BufferValue) Equal(other Value) bool {
	o, ok := other.(BufferValue)
	if !ok || len(o.data) != len(b.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != o.data[i] {
			return false
		}
	}
	return true
}

// Len returns the number of bytes.
func (b BufferValue) Len() int { return len(b.data) }

// Bytes returns the underlying bytes. Callers must not mutate the result.
func (b BufferValue) Bytes() []byte { return b.data }

// Append returns a new buffer with extra appended.
func (b BufferValue) Append(extra []byte) BufferValue {
	out := make([]byte, len(b.data)+len(extra))
	copy(out, b.data)
	copy(out[len(b.data):], extra)
	return BufferValue{data: out}
}

// Truncate trims the buffer to pos bytes from the front when pos >= 0, or
// trims |pos| bytes from the front when pos < 0. Per the spec's resolution
// of the ambiguous source behavior, both directions always produce a
// freshly-copied buffer rather than attempting an in-place shrink, so a
// truncation of exactly the buffer's length yields an empty buffer, never
// one byte short.
func (b BufferValue) Truncate(pos int) BufferValue {
	if pos < 0 {
		trim := -pos
		if trim >= len(b.data) {
			return BufferValue{data: []byte{}}
		}
		out := make([]byte, len(b.data)-trim)
		copy(out, b.data[trim:])
		return BufferValue{data: out}
	}
	if pos >= len(b.data) {
		out := make([]byte, len(b.data))
		copy(out, b.data)
		return BufferValue{data: out}
	}
	out := make([]byte, pos)
	copy(out, b.data[:pos])
	return BufferValue{data: out}
}

// Split breaks the buffer into strings on each occurrence of sep. An empty
// separator yields a single element containing only the printable bytes
// of the buffer (control bytes dropped), matching the degenerate-separator
// rule from the spec.
func (b BufferValue) Split(sep []byte) []string {
	if len(sep) == 0 {
		var sb strings.Builder
		for _, by := range b.data {
			if by >= 0x20 && by < 0x7f {
				sb.WriteByte(by)
			}
		}
		return []string{sb.String()}
	}
	parts := strings.Split(string(b.data), string(sep))
	return parts
}

// JoinBuffers concatenates strs using sep (default "\r\n" when sep is nil)
// into a single buffer.
func JoinBuffers(strs []string, sep []byte) BufferValue {
	if sep == nil {
		sep = []byte("\r\n")
	}
	return NewBuffer([]byte(strings.Join(strs, string(sep))))
}

package kafka

import (
	"encoding/binary"
	"errors"
	"io"
)

var errShortRead = errors.New("not enough bytes available to load the response")

// writeBuffer accumulates the binary representation of kafka protocol
// messages. All integers are encoded big-endian; strings and byte sequences
// are length-prefixed with -1 denoting null.
type writeBuffer struct {
	w io.Writer
	b [16]byte
}

func (wb *writeBuffer) writeInt8(i int8) {
	wb.b[0] = byte(i)
	wb.Write(wb.b[:1])
}

func (wb *writeBuffer) writeInt16(i int16) {
	binary.BigEndian.PutUint16(wb.b[:2], uint16(i))
	wb.Write(wb.b[:2])
}

func (wb *writeBuffer) writeInt32(i int32) {
	binary.BigEndian.PutUint32(wb.b[:4], uint32(i))
	wb.Write(wb.b[:4])
}

func (wb *writeBuffer) writeInt64(i int64) {
	binary.BigEndian.PutUint64(wb.b[:8], uint64(i))
	wb.Write(wb.b[:8])
}

func (wb *writeBuffer) writeString(s string) {
	wb.writeInt16(int16(len(s)))
	wb.WriteString(s)
}

func (wb *writeBuffer) writeNullableString(s *string) {
	if s == nil {
		wb.writeInt16(-1)
	} else {
		wb.writeString(*s)
	}
}

func (wb *writeBuffer) writeBytes(b []byte) {
	n := len(b)
	if b == nil {
		n = -1
	}
	wb.writeInt32(int32(n))
	wb.Write(b)
}

func (wb *writeBuffer) writeBool(b bool) {
	v := int8(0)
	if b {
		v = 1
	}
	wb.writeInt8(v)
}

func (wb *writeBuffer) writeArrayLen(n int) {
	wb.writeInt32(int32(n))
}

func (wb *writeBuffer) writeArray(n int, f func(int)) {
	wb.writeArrayLen(n)
	for i := 0; i < n; i++ {
		f(i)
	}
}

func (wb *writeBuffer) writeStringArray(a []string) {
	wb.writeArray(len(a), func(i int) { wb.writeString(a[i]) })
}

func (wb *writeBuffer) writeInt32Array(a []int32) {
	wb.writeArray(len(a), func(i int) { wb.writeInt32(a[i]) })
}

func (wb *writeBuffer) Write(b []byte) (int, error) {
	return wb.w.Write(b)
}

func (wb *writeBuffer) WriteString(s string) (int, error) {
	return io.WriteString(wb.w, s)
}

func (wb *writeBuffer) Flush() error {
	if x, ok := wb.w.(interface{ Flush() error }); ok {
		return x.Flush()
	}
	return nil
}

// readBuffer decodes kafka protocol messages from a byte stream, within the
// byte budget given by the enclosing frame. The first error sticks: further
// reads are no-ops, and decoded values are zero.
type readBuffer struct {
	r      io.Reader
	remain int
	err    error
}

func (rb *readBuffer) readFull(b []byte) {
	if rb.err != nil {
		return
	}
	if len(b) > rb.remain {
		rb.err = errShortRead
		rb.remain = 0
		return
	}
	n, err := io.ReadFull(rb.r, b)
	rb.remain -= n
	if err != nil {
		rb.err = dontExpectEOF(err)
	}
}

func (rb *readBuffer) readInt8() int8 {
	var b [1]byte
	rb.readFull(b[:])
	return int8(b[0])
}

func (rb *readBuffer) readInt16() int16 {
	var b [2]byte
	rb.readFull(b[:])
	return int16(binary.BigEndian.Uint16(b[:]))
}

func (rb *readBuffer) readInt32() int32 {
	var b [4]byte
	rb.readFull(b[:])
	return int32(binary.BigEndian.Uint32(b[:]))
}

func (rb *readBuffer) readInt64() int64 {
	var b [8]byte
	rb.readFull(b[:])
	return int64(binary.BigEndian.Uint64(b[:]))
}

func (rb *readBuffer) readBool() bool {
	return rb.readInt8() != 0
}

// readString maps the null string to "".
func (rb *readBuffer) readString() string {
	if s := rb.readNullableString(); s != nil {
		return *s
	}
	return ""
}

func (rb *readBuffer) readNullableString() *string {
	n := rb.readInt16()
	if rb.err != nil || n < 0 {
		return nil
	}
	b := make([]byte, int(n))
	rb.readFull(b)
	if rb.err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func (rb *readBuffer) readBytes() []byte {
	n := rb.readInt32()
	if rb.err != nil || n < 0 {
		return nil
	}
	b := make([]byte, int(n))
	rb.readFull(b)
	if rb.err != nil {
		return nil
	}
	return b
}

func (rb *readBuffer) readArray(f func()) {
	n := rb.readInt32()
	for i := int32(0); i < n && rb.err == nil; i++ {
		f()
	}
}

func (rb *readBuffer) readStringArray() []string {
	var a []string
	rb.readArray(func() { a = append(a, rb.readString()) })
	return a
}

func (rb *readBuffer) readInt32Array() []int32 {
	var a []int32
	rb.readArray(func() { a = append(a, rb.readInt32()) })
	return a
}

func (rb *readBuffer) readInt64Array() []int64 {
	var a []int64
	rb.readArray(func() { a = append(a, rb.readInt64()) })
	return a
}

func (rb *readBuffer) readMapStringInt32() map[string][]int32 {
	n := rb.readInt32()
	m := make(map[string][]int32, n)
	for i := int32(0); i < n && rb.err == nil; i++ {
		k := rb.readString()
		m[k] = rb.readInt32Array()
	}
	return m
}

// discard skips n bytes of the frame.
func (rb *readBuffer) discard(n int) {
	if rb.err != nil {
		return
	}
	if n < 0 || n > rb.remain {
		rb.err = errShortRead
		rb.remain = 0
		return
	}
	d, err := io.CopyN(io.Discard, rb.r, int64(n))
	rb.remain -= int(d)
	if err != nil {
		rb.err = dontExpectEOF(err)
	}
}

// discardRemain drains whatever is left of the frame, typically after a
// decoding error on a response that still has to be consumed in full.
func (rb *readBuffer) discardRemain() {
	if rb.err == nil {
		rb.discard(rb.remain)
	}
}

func (rb *readBuffer) setErr(err error) {
	if rb.err == nil {
		rb.err = err
	}
}

func dontExpectEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func sizeofInt8(int8) int32   { return 1 }
func sizeofInt16(int16) int32 { return 2 }
func sizeofInt32(int32) int32 { return 4 }
func sizeofInt64(int64) int32 { return 8 }

func sizeofString(s string) int32 {
	return 2 + int32(len(s))
}

func sizeofNullableString(s *string) int32 {
	if s == nil {
		return 2
	}
	return sizeofString(*s)
}

func sizeofBytes(b []byte) int32 {
	return 4 + int32(len(b))
}

func sizeofArray(n int, f func(int) int32) int32 {
	s := int32(4)
	for i := 0; i < n; i++ {
		s += f(i)
	}
	return s
}

func sizeofStringArray(a []string) int32 {
	return sizeofArray(len(a), func(i int) int32 { return sizeofString(a[i]) })
}

func sizeofInt32Array(a []int32) int32 {
	return 4 + 4*int32(len(a))
}

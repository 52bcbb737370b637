// Package xdr decodes XDR (RFC 4506) data captured off the wire.
//
// Variable-length items are bounded by the bytes remaining in the buffer so
// a corrupt length never causes a large allocation. Fixed layouts are handed
// to github.com/rasky/go-xdr through Unmarshal.
package xdr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

var (
	// ErrShort is returned when the buffer ends inside an item.
	ErrShort = errors.New("xdr: short buffer")
	// ErrTooLong is returned when a length prefix exceeds its limit.
	ErrTooLong = errors.New("xdr: length exceeds limit")
)

// Reader is a cursor over an XDR buffer. The first error is sticky: once
// set, every further read returns a zero value and Err reports the error.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.off
}

// Remaining returns the unread bytes without consuming them.
func (r *Reader) Remaining() []byte {
	return r.buf[r.off:]
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Len() < n {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShort, n, r.off, r.Len()))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Uint32 reads an unsigned integer.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a signed integer.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

// Uint64 reads an unsigned hyper integer.
func (r *Reader) Uint64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// Int64 reads a signed hyper integer.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Bool reads a boolean; any non-zero value is true.
func (r *Reader) Bool() bool {
	return r.Uint32() != 0
}

// Fixed reads n bytes of fixed-length opaque data plus padding.
func (r *Reader) Fixed(n int) []byte {
	b := r.take(n)
	r.take(pad(n))
	return b
}

// Opaque reads variable-length opaque data. The returned slice aliases the
// underlying buffer.
func (r *Reader) Opaque() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if int64(n) > int64(r.Len()) {
		r.fail(fmt.Errorf("%w: opaque of %d bytes at offset %d, have %d", ErrShort, n, r.off, r.Len()))
		return nil
	}
	return r.Fixed(int(n))
}

// LimitedOpaque reads variable-length opaque data no longer than max.
func (r *Reader) LimitedOpaque(max int) []byte {
	if r.err != nil {
		return nil
	}
	if n := r.peekUint32(); n > uint32(max) {
		r.fail(fmt.Errorf("%w: %d > %d at offset %d", ErrTooLong, n, max, r.off))
		return nil
	}
	return r.Opaque()
}

// Str reads a string.
func (r *Reader) Str() string {
	return string(r.Opaque())
}

// Uint32s reads a counted array of unsigned integers of at most max items.
func (r *Reader) Uint32s(max int) []uint32 {
	n := r.Count(max)
	if r.err != nil {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = r.Uint32()
	}
	return out
}

// Count reads an array length and checks it against max and against the
// remaining buffer, assuming every element takes at least four bytes.
func (r *Reader) Count(max int) int {
	n := r.Uint32()
	if r.err != nil {
		return 0
	}
	if n > uint32(max) {
		r.fail(fmt.Errorf("%w: array of %d > %d at offset %d", ErrTooLong, n, max, r.off-4))
		return 0
	}
	if int64(n)*4 > int64(r.Len()) {
		r.fail(fmt.Errorf("%w: array of %d at offset %d, have %d bytes", ErrShort, n, r.off-4, r.Len()))
		return 0
	}
	return int(n)
}

// Skip discards n bytes.
func (r *Reader) Skip(n int) {
	r.take(n)
}

// Unmarshal decodes a fixed layout struct (integers, booleans and fixed
// size arrays only) and advances past it.
func (r *Reader) Unmarshal(v any) {
	if r.err != nil {
		return
	}
	n, err := xdr.Unmarshal(bytes.NewReader(r.Remaining()), v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", ErrShort, err))
		return
	}
	r.off += n
}

func (r *Reader) peekUint32() uint32 {
	if r.Len() < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(r.buf[r.off:])
}

func pad(n int) int {
	return (4 - n%4) % 4
}

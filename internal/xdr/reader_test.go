package xdr

import (
	"bytes"
	"testing"

	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, vals ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range vals {
		_, err := xdr.Marshal(&buf, v)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func TestReader(t *testing.T) {
	t.Run("scalars", func(t *testing.T) {
		r := NewReader(encode(t, uint32(7), int32(-2), uint64(1<<40), true, false))
		assert.Equal(t, uint32(7), r.Uint32())
		assert.Equal(t, int32(-2), r.Int32())
		assert.Equal(t, uint64(1<<40), r.Uint64())
		assert.True(t, r.Bool())
		assert.False(t, r.Bool())
		require.NoError(t, r.Err())
		assert.Equal(t, 0, r.Len())
		assert.Equal(t, 24, r.Offset())
	})

	t.Run("opaque and string are padded", func(t *testing.T) {
		r := NewReader(encode(t, []byte{1, 2, 3, 4, 5}, "abc", uint32(9)))
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, r.Opaque())
		assert.Equal(t, "abc", r.Str())
		assert.Equal(t, uint32(9), r.Uint32())
		assert.NoError(t, r.Err())
	})

	t.Run("uint32 array", func(t *testing.T) {
		r := NewReader(encode(t, []uint32{1, 2, 3}))
		assert.Equal(t, []uint32{1, 2, 3}, r.Uint32s(8))
		assert.NoError(t, r.Err())
	})

	t.Run("fixed struct through go-xdr", func(t *testing.T) {
		type pair struct {
			A uint32
			B uint64
		}
		r := NewReader(encode(t, pair{A: 1, B: 2}, uint32(3)))
		var p pair
		r.Unmarshal(&p)
		assert.Equal(t, pair{A: 1, B: 2}, p)
		assert.Equal(t, uint32(3), r.Uint32())
		assert.NoError(t, r.Err())
	})

	t.Run("remaining and skip", func(t *testing.T) {
		r := NewReader(encode(t, uint32(1), uint32(2), uint32(3)))
		r.Skip(4)
		assert.Equal(t, 8, r.Len())
		assert.Equal(t, encode(t, uint32(2), uint32(3)), r.Remaining())
	})
}

func TestReaderErrors(t *testing.T) {
	t.Run("short buffer is sticky", func(t *testing.T) {
		r := NewReader([]byte{0, 0})
		assert.Equal(t, uint32(0), r.Uint32())
		require.ErrorIs(t, r.Err(), ErrShort)
		assert.Equal(t, uint64(0), r.Uint64())
		assert.Nil(t, r.Opaque())
		assert.ErrorIs(t, r.Err(), ErrShort)
	})

	t.Run("opaque longer than buffer", func(t *testing.T) {
		r := NewReader(encode(t, uint32(0xffffff00)))
		assert.Nil(t, r.Opaque())
		assert.ErrorIs(t, r.Err(), ErrShort)
	})

	t.Run("limited opaque", func(t *testing.T) {
		r := NewReader(encode(t, make([]byte, 16)))
		assert.Nil(t, r.LimitedOpaque(8))
		assert.ErrorIs(t, r.Err(), ErrTooLong)

		r = NewReader(encode(t, make([]byte, 8)))
		assert.Len(t, r.LimitedOpaque(8), 8)
		assert.NoError(t, r.Err())
	})

	t.Run("array count over limit", func(t *testing.T) {
		r := NewReader(encode(t, []uint32{1, 2, 3}))
		assert.Nil(t, r.Uint32s(2))
		assert.ErrorIs(t, r.Err(), ErrTooLong)
	})

	t.Run("array count over buffer", func(t *testing.T) {
		r := NewReader(encode(t, uint32(100), uint32(1)))
		assert.Equal(t, 0, r.Count(1000))
		assert.ErrorIs(t, r.Err(), ErrShort)
	})

	t.Run("unmarshal short", func(t *testing.T) {
		var v struct{ A, B uint32 }
		r := NewReader(encode(t, uint32(1)))
		r.Unmarshal(&v)
		assert.ErrorIs(t, r.Err(), ErrShort)
		assert.Equal(t, 0, r.Offset())
	})
}

package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/pcaptest"
	"nfstrace/internal/rpc"
	"nfstrace/internal/stream"
)

var key = stream.Key{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 800, DstPort: 2049}

func TestKey(t *testing.T) {
	r := key.Reverse()
	assert.Equal(t, "10.0.0.2", r.SrcIP)
	assert.Equal(t, uint16(800), r.DstPort)
	assert.Equal(t, key, r.Reverse())
	assert.Equal(t, "10.0.0.1:800 -> 10.0.0.2:2049", key.String())
}

func TestFeed(t *testing.T) {
	msg1 := pcaptest.Call(t, 1, rpc.ProgramNFS, 3, 1, pcaptest.XDR(t, []byte{1, 2, 3, 4}))
	msg2 := pcaptest.Call(t, 2, rpc.ProgramNFS, 3, 1, pcaptest.XDR(t, []byte{5, 6, 7, 8}))
	rec1, rec2 := pcaptest.Record(msg1), pcaptest.Record(msg2)

	t.Run("one record per segment", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		out := r.Feed(key, 100, rec1)
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
		assert.Equal(t, 1, r.Stats().Records)
	})

	t.Run("record split over segments", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		assert.Empty(t, r.Feed(key, 100, rec1[:10]))
		assert.Empty(t, r.Feed(key, 110, rec1[10:30]))
		out := r.Feed(key, 130, rec1[30:])
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
	})

	t.Run("two records in one segment", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		out := r.Feed(key, 100, append(append([]byte(nil), rec1...), rec2...))
		require.Len(t, out, 2)
		assert.Equal(t, msg1, out[0])
		assert.Equal(t, msg2, out[1])
	})

	t.Run("tail of one record and head of the next", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		both := append(append([]byte(nil), rec1...), rec2...)
		cut := len(rec1) + 6
		out := r.Feed(key, 100, both[:cut])
		require.Len(t, out, 1)
		out = r.Feed(key, 100+uint32(cut), both[cut:])
		require.Len(t, out, 1)
		assert.Equal(t, msg2, out[0])
	})

	t.Run("multi fragment record", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		first := append([]byte{0, 0, 0, 40}, msg1[:40]...)
		rest := pcaptest.Record(msg1[40:])
		out := r.Feed(key, 100, append(first, rest...))
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
	})

	t.Run("retransmitted segment is ignored", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		require.Len(t, r.Feed(key, 100, rec1), 1)
		assert.Empty(t, r.Feed(key, 100, rec1))
		assert.Equal(t, 1, r.Stats().Retransmits)
		out := r.Feed(key, 100+uint32(len(rec1)), rec2)
		require.Len(t, out, 1)
		assert.Equal(t, msg2, out[0])
	})

	t.Run("overlapping segment is trimmed", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		assert.Empty(t, r.Feed(key, 100, rec1[:20]))
		out := r.Feed(key, 110, rec1[10:])
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
		assert.Equal(t, 1, r.Stats().Retransmits)
	})

	t.Run("gap drops the partial record", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		assert.Empty(t, r.Feed(key, 100, rec1[:20]))
		// The rest of rec1 is lost; rec2 arrives after the hole.
		out := r.Feed(key, 100+uint32(len(rec1)), rec2)
		require.Len(t, out, 1)
		assert.Equal(t, msg2, out[0])
		assert.Equal(t, 1, r.Stats().Gaps)
	})

	t.Run("resync after garbage", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		garbage := []byte{0xff, 0xff, 0xff, 0xff, 1, 2, 3}
		out := r.Feed(key, 100, append(garbage, rec1...))
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
	})

	t.Run("mid-stream start", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		// Only the last bytes of rec1's argument are captured.
		out := r.Feed(key, 100, append(append([]byte(nil), rec1[len(rec1)-4:]...), rec2...))
		require.Len(t, out, 1)
		assert.Equal(t, msg2, out[0])
	})

	t.Run("record over the size limit", func(t *testing.T) {
		r := stream.NewReassembler(48, nil)
		big := pcaptest.Record(pcaptest.Call(t, 3, rpc.ProgramNFS, 3, 1, make([]byte, 64)))
		assert.Empty(t, r.Feed(key, 100, big))
		out := r.Feed(key, 100+uint32(len(big)), rec1)
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
	})

	t.Run("data after a syn", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		r.Syn(key, 99)
		assert.Empty(t, r.Feed(key, 100, nil))
		out := r.Feed(key, 100, rec1)
		require.Len(t, out, 1)
		assert.Equal(t, msg1, out[0])
		assert.Equal(t, 0, r.Stats().Gaps)
	})

	t.Run("syn restarts a direction", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		assert.Empty(t, r.Feed(key, 100, rec1[:20]))
		r.Syn(key, 7000)
		out := r.Feed(key, 7001, rec2)
		require.Len(t, out, 1)
		assert.Equal(t, msg2, out[0])
		assert.Equal(t, 0, r.Stats().Gaps)
	})

	t.Run("directions are independent", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		assert.Empty(t, r.Feed(key, 100, rec1[:20]))
		rep := pcaptest.Reply(t, 1, 0, nil)
		out := r.Feed(key.Reverse(), 9000, pcaptest.Record(rep))
		require.Len(t, out, 1)
		assert.Equal(t, rep, out[0])
		assert.Equal(t, 2, r.Len())
	})

	t.Run("remove and reset", func(t *testing.T) {
		r := stream.NewReassembler(0, nil)
		r.Feed(key, 100, rec1)
		r.Feed(key.Reverse(), 100, rec2[:5])
		r.Remove(key)
		assert.Equal(t, 1, r.Len())
		r.Reset()
		assert.Equal(t, 0, r.Len())
		assert.Equal(t, stream.Stats{}, r.Stats())
	})
}

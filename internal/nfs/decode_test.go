package nfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/nfs"
	"nfstrace/internal/packet"
	"nfstrace/internal/pcaptest"
	"nfstrace/internal/rpc"
)

var fh = []byte{0xde, 0xad, 0xbe, 0xef, 0, 1, 2, 3}

func call(prog, vers, proc uint32) *packet.RPCInfo {
	return &packet.RPCInfo{Call: true, Program: prog, Version: vers, Procedure: proc, Accepted: true}
}

func reply(prog, vers, proc uint32) *packet.RPCInfo {
	return &packet.RPCInfo{Program: prog, Version: vers, Procedure: proc, Accepted: true}
}

func field(t *testing.T, v packet.Value, name string) any {
	t.Helper()
	val, ok := v.Field(name)
	require.True(t, ok, "field %q", name)
	return val
}

func TestDecodeDispatch(t *testing.T) {
	t.Run("unknown program", func(t *testing.T) {
		_, body, err := nfs.Decode(call(rpc.ProgramNSM, 1, 1), nil)
		assert.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, body, err := nfs.Decode(call(rpc.ProgramNFS, 2, 1), nil)
		assert.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("short body is a decode error", func(t *testing.T) {
		layer, body, err := nfs.Decode(call(rpc.ProgramNFS, 3, nfs.NFS3ProcRead), pcaptest.XDR(t, fh))
		require.Error(t, err)
		assert.ErrorIs(t, err, packet.ErrDecode)
		assert.Equal(t, packet.LayerNFSv3, layer)
		assert.NotNil(t, body)
	})
}

func TestFHHash(t *testing.T) {
	assert.Equal(t, "", nfs.FHHash(nil))
	assert.Regexp(t, `^0x[0-9a-f]{8}$`, nfs.FHHash(fh))
	assert.Equal(t, nfs.FHHash(fh), nfs.FHHash(append([]byte(nil), fh...)))
}

func TestNFSv3(t *testing.T) {
	t.Run("read call", func(t *testing.T) {
		body := pcaptest.XDR(t, fh, uint64(8192), uint32(4096))
		layer, v, err := nfs.Decode(call(rpc.ProgramNFS, 3, nfs.NFS3ProcRead), body)
		require.NoError(t, err)
		assert.Equal(t, packet.LayerNFSv3, layer)
		assert.Equal(t, "READ", v.ProcName())
		assert.Equal(t, "READ FH:"+nfs.FHHash(fh)+" off:8192 len:4096", v.Summary())
		assert.Equal(t, uint64(8192), field(t, v, "offset"))
		assert.Equal(t, uint64(4096), field(t, v, "count"))
		assert.Equal(t, nfs.FHHash(fh), field(t, v, "fh"))
		_, ok := v.Field("status")
		assert.False(t, ok, "calls have no status")
	})

	t.Run("read reply", func(t *testing.T) {
		body := pcaptest.XDR(t, uint32(0), false, uint32(100), true)
		_, v, err := nfs.Decode(reply(rpc.ProgramNFS, 3, nfs.NFS3ProcRead), body)
		require.NoError(t, err)
		assert.Equal(t, "READ NFS3_OK count:100 EOF", v.Summary())
		assert.Equal(t, true, field(t, v, "eof"))
		assert.Equal(t, uint64(0), field(t, v, "status"))
	})

	t.Run("lookup call and reply", func(t *testing.T) {
		_, v, err := nfs.Decode(call(rpc.ProgramNFS, 3, nfs.NFS3ProcLookup), pcaptest.XDR(t, fh, "file.txt"))
		require.NoError(t, err)
		assert.Equal(t, "file.txt", field(t, v, "name"))

		_, v, err = nfs.Decode(reply(rpc.ProgramNFS, 3, nfs.NFS3ProcLookup), pcaptest.XDR(t, uint32(2)))
		require.NoError(t, err)
		assert.Equal(t, "LOOKUP NFS3ERR_NOENT", v.Summary())
		assert.Equal(t, "NFS3ERR_NOENT", field(t, v, "status_name"))
	})

	t.Run("rename", func(t *testing.T) {
		body := pcaptest.XDR(t, fh, "a", fh, "b")
		_, v, err := nfs.Decode(call(rpc.ProgramNFS, 3, nfs.NFS3ProcRename), body)
		require.NoError(t, err)
		assert.Equal(t, "a", field(t, v, "name"))
		assert.Equal(t, "b", field(t, v, "toname"))
	})

	t.Run("null", func(t *testing.T) {
		_, v, err := nfs.Decode(reply(rpc.ProgramNFS, 3, nfs.NFS3ProcNull), nil)
		require.NoError(t, err)
		assert.Equal(t, "NULL", v.Summary())
	})

	t.Run("detail", func(t *testing.T) {
		_, v, err := nfs.Decode(call(rpc.ProgramNFS, 3, nfs.NFS3ProcGetattr), pcaptest.XDR(t, fh))
		require.NoError(t, err)
		d := v.Detail()
		assert.Equal(t, "Network File System v3", d.Name)
		assert.NotEmpty(t, d.Fields)
	})
}

type sequenceArgs struct {
	SessionID     [16]byte
	SequenceID    uint32
	SlotID        uint32
	HighestSlotID uint32
	CacheThis     bool
}

type sequenceRes struct {
	SessionID           [16]byte
	SequenceID          uint32
	SlotID              uint32
	HighestSlotID       uint32
	TargetHighestSlotID uint32
	StatusFlags         uint32
}

type readArgs struct {
	Seqid  uint32
	Other  [12]byte
	Offset uint64
	Count  uint32
}

func TestNFSv4(t *testing.T) {
	info := func(isCall bool) *packet.RPCInfo {
		if isCall {
			return call(rpc.ProgramNFS, 4, nfs.NFS4ProcCompound)
		}
		return reply(rpc.ProgramNFS, 4, nfs.NFS4ProcCompound)
	}

	t.Run("compound call", func(t *testing.T) {
		body := pcaptest.XDR(t, "tag1", uint32(1), uint32(3),
			uint32(nfs.OpSequence), sequenceArgs{SequenceID: 7, SlotID: 1},
			uint32(nfs.OpPutfh), fh,
			uint32(nfs.OpRead), readArgs{Offset: 4096, Count: 512},
		)
		layer, b, err := nfs.Decode(info(true), body)
		require.NoError(t, err)
		assert.Equal(t, packet.LayerNFSv4, layer)
		v := b.(*nfs.NFSv4)
		assert.Equal(t, "tag1", v.Tag)
		assert.Equal(t, uint32(1), v.MinorVersion)
		assert.Equal(t, []string{"SEQUENCE", "PUTFH", "READ"}, v.OpNames())
		assert.False(t, v.Partial)
		assert.Equal(t, "READ", v.ProcName())
		assert.Equal(t, "SEQUENCE;PUTFH;READ", v.Summary())

		assert.Equal(t, uint64(4096), field(t, v, "offset"))
		assert.Equal(t, uint64(512), field(t, v, "count"))
		assert.Equal(t, uint64(7), field(t, v, "seqid"))
		assert.Equal(t, nfs.FHHash(fh), field(t, v, "fh"))
		assert.Equal(t, "SEQUENCE,PUTFH,READ", field(t, v, "ops"))
		assert.Equal(t, uint64(3), field(t, v, "nops"))
	})

	t.Run("compound reply", func(t *testing.T) {
		body := pcaptest.XDR(t, uint32(0), "tag1", uint32(3),
			uint32(nfs.OpSequence), uint32(0), sequenceRes{SequenceID: 7},
			uint32(nfs.OpPutfh), uint32(0),
			uint32(nfs.OpRead), uint32(0), true, []byte("hello"),
		)
		_, b, err := nfs.Decode(info(false), body)
		require.NoError(t, err)
		v := b.(*nfs.NFSv4)
		require.Len(t, v.Ops, 3)
		assert.Equal(t, true, field(t, v, "eof"))
		assert.Equal(t, uint64(5), field(t, v, "count"))
		assert.Equal(t, "NFS4_OK SEQUENCE;PUTFH;READ", v.Summary())
	})

	t.Run("failed op ends the reply", func(t *testing.T) {
		body := pcaptest.XDR(t, uint32(2), "", uint32(2),
			uint32(nfs.OpPutfh), uint32(0),
			uint32(nfs.OpLookup), uint32(2),
		)
		_, b, err := nfs.Decode(info(false), body)
		require.NoError(t, err)
		v := b.(*nfs.NFSv4)
		require.Len(t, v.Ops, 2)
		assert.Equal(t, uint32(2), v.Ops[1].Status)
		assert.Equal(t, uint32(2), v.Status)
		assert.Contains(t, v.Summary(), "LOOKUP NFS4ERR_NOENT")
	})

	t.Run("undecodable op stops the walk", func(t *testing.T) {
		body := pcaptest.XDR(t, "", uint32(0), uint32(2),
			uint32(nfs.OpPutfh), fh,
			uint32(nfs.OpOpen), uint32(1), uint32(2),
		)
		_, b, err := nfs.Decode(info(true), body)
		require.NoError(t, err)
		v := b.(*nfs.NFSv4)
		assert.True(t, v.Partial)
		assert.Equal(t, 2, v.Count)
		assert.Equal(t, []string{"PUTFH", "OPEN"}, v.OpNames())
		assert.Contains(t, v.Summary(), "...")
	})

	t.Run("null procedure", func(t *testing.T) {
		_, b, err := nfs.Decode(call(rpc.ProgramNFS, 4, nfs.NFS4ProcNull), nil)
		require.NoError(t, err)
		assert.Equal(t, "NULL", b.Summary())
	})

	t.Run("truncated op", func(t *testing.T) {
		body := pcaptest.XDR(t, "", uint32(0), uint32(1), uint32(nfs.OpRead), uint32(1))
		_, _, err := nfs.Decode(info(true), body)
		assert.Error(t, err)
	})
}

func TestMount(t *testing.T) {
	t.Run("mnt call", func(t *testing.T) {
		layer, v, err := nfs.Decode(call(rpc.ProgramMount, 3, nfs.MountProcMnt), pcaptest.XDR(t, "/export/home"))
		require.NoError(t, err)
		assert.Equal(t, packet.LayerMOUNT, layer)
		assert.Equal(t, "MNT /export/home", v.Summary())
		assert.Equal(t, "/export/home", field(t, v, "path"))
	})

	t.Run("mnt reply", func(t *testing.T) {
		body := pcaptest.XDR(t, uint32(0), fh, []uint32{rpc.AuthUnix})
		_, b, err := nfs.Decode(reply(rpc.ProgramMount, 3, nfs.MountProcMnt), body)
		require.NoError(t, err)
		m := b.(*nfs.Mount)
		assert.Equal(t, fh, m.FH)
		assert.Equal(t, []uint32{rpc.AuthUnix}, m.Flavors)
		assert.Equal(t, nfs.FHHash(fh), field(t, m, "fh"))
	})

	t.Run("mnt error", func(t *testing.T) {
		_, b, err := nfs.Decode(reply(rpc.ProgramMount, 3, nfs.MountProcMnt), pcaptest.XDR(t, uint32(13)))
		require.NoError(t, err)
		assert.Equal(t, uint64(13), field(t, b, "status"))
		assert.Empty(t, b.(*nfs.Mount).FH)
	})
}

type nlmLock struct {
	Caller string
	FH     []byte
	Owner  []byte
	Svid   int32
	Offset uint64
	Length uint64
}

func TestNLM(t *testing.T) {
	lock := nlmLock{Caller: "client", FH: fh, Owner: []byte{1}, Svid: 42, Offset: 0, Length: 100}

	t.Run("lock call", func(t *testing.T) {
		body := pcaptest.XDR(t, []byte{9}, true, true, lock, false, int32(3))
		layer, b, err := nfs.Decode(call(rpc.ProgramNLM, 4, nfs.NLMProcLock), body)
		require.NoError(t, err)
		assert.Equal(t, packet.LayerNLM, layer)
		n := b.(*nfs.NLM)
		assert.True(t, n.Block)
		assert.True(t, n.Exclusive)
		assert.Equal(t, int32(3), n.State)
		require.NotNil(t, n.Lock)
		assert.Equal(t, "client", n.Lock.CallerName)
		assert.Equal(t, int64(42), field(t, n, "svid"))
		assert.Equal(t, uint64(100), field(t, n, "length"))
		_, ok := n.Field("stat")
		assert.False(t, ok)
	})

	t.Run("lock reply", func(t *testing.T) {
		_, b, err := nfs.Decode(reply(rpc.ProgramNLM, 4, nfs.NLMProcLock), pcaptest.XDR(t, []byte{9}, uint32(0)))
		require.NoError(t, err)
		assert.Equal(t, uint64(0), field(t, b, "stat"))
		assert.Equal(t, "LOCK NLM4_GRANTED", b.Summary())
	})

	t.Run("test reply denied carries holder", func(t *testing.T) {
		body := pcaptest.XDR(t, []byte{}, uint32(1), true, int32(7), []byte{2}, uint64(10), uint64(20))
		_, b, err := nfs.Decode(reply(rpc.ProgramNLM, 4, nfs.NLMProcTest), body)
		require.NoError(t, err)
		n := b.(*nfs.NLM)
		require.NotNil(t, n.Holder)
		assert.Equal(t, int32(7), n.Holder.Svid)
		assert.Equal(t, uint64(20), n.Holder.Length)
	})

	t.Run("async result message", func(t *testing.T) {
		body := pcaptest.XDR(t, []byte{1, 2}, uint32(0))
		_, b, err := nfs.Decode(call(rpc.ProgramNLM, 4, nfs.NLMProcLockRes), body)
		require.NoError(t, err)
		assert.True(t, b.(*nfs.NLM).HasStat)
	})
}

func TestPortmap(t *testing.T) {
	t.Run("getport", func(t *testing.T) {
		m := nfs.Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: 6}
		layer, b, err := nfs.Decode(call(rpc.ProgramPortmap, 2, nfs.PmapProcGetport), pcaptest.XDR(t, m))
		require.NoError(t, err)
		assert.Equal(t, packet.LayerPORTMAP, layer)
		assert.Equal(t, "GETPORT NFS v3 tcp:0", b.Summary())
		assert.Equal(t, uint64(rpc.ProgramNFS), field(t, b, "prog"))

		_, b, err = nfs.Decode(reply(rpc.ProgramPortmap, 2, nfs.PmapProcGetport), pcaptest.XDR(t, uint32(2049)))
		require.NoError(t, err)
		assert.Equal(t, uint64(2049), field(t, b, "port"))
		assert.Equal(t, "GETPORT port:2049", b.Summary())
	})

	t.Run("dump", func(t *testing.T) {
		body := pcaptest.XDR(t,
			true, nfs.Mapping{Prog: rpc.ProgramNFS, Vers: 3, Prot: 6, Port: 2049},
			true, nfs.Mapping{Prog: rpc.ProgramMount, Vers: 3, Prot: 17, Port: 635},
			false,
		)
		_, b, err := nfs.Decode(reply(rpc.ProgramPortmap, 2, nfs.PmapProcDump), body)
		require.NoError(t, err)
		p := b.(*nfs.Portmap)
		require.Len(t, p.Mappings, 2)
		assert.Equal(t, "MOUNT v3 udp:635", p.Mappings[1].String())
		assert.Equal(t, "DUMP 2 mappings", p.Summary())
	})

	t.Run("set reply", func(t *testing.T) {
		_, b, err := nfs.Decode(reply(rpc.ProgramPortmap, 2, nfs.PmapProcSet), pcaptest.XDR(t, true))
		require.NoError(t, err)
		assert.True(t, b.(*nfs.Portmap).Result)
	})
}

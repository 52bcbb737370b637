package rpc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/packet"
	"nfstrace/internal/pcaptest"
	"nfstrace/internal/rpc"
)

type unixCred struct {
	Stamp   uint32
	Machine string
	UID     uint32
	GID     uint32
	GIDs    []uint32
}

type authCall struct {
	XID        uint32
	Type       uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	Cred       []byte
	VerfFlavor uint32
	Verf       []byte
}

func TestDecodeCall(t *testing.T) {
	t.Run("auth null", func(t *testing.T) {
		args := pcaptest.XDR(t, uint32(42))
		msg, body, err := rpc.Decode(pcaptest.Call(t, 0x1234, rpc.ProgramNFS, 3, 6, args))
		require.NoError(t, err)
		require.True(t, msg.IsCall())
		assert.Equal(t, uint32(0x1234), msg.XID)
		assert.Equal(t, uint32(rpc.ProgramNFS), msg.Call.Program)
		assert.Equal(t, uint32(3), msg.Call.Version)
		assert.Equal(t, uint32(6), msg.Call.Procedure)
		assert.Equal(t, uint32(rpc.AuthNull), msg.Call.Cred.Flavor)
		assert.Nil(t, msg.Call.Unix)
		assert.Equal(t, 40, msg.HeaderLen)
		assert.Equal(t, args, body)

		info := msg.Info(body)
		assert.True(t, info.Call)
		assert.True(t, info.Accepted)
		assert.Equal(t, uint32(6), info.Procedure)

		assert.Equal(t, "call xid=0x00001234 NFS v3 proc=6", msg.Summary())
		msg.SetProcName("READ")
		assert.Equal(t, "call xid=0x00001234 NFS v3 READ", msg.Summary())
	})

	t.Run("auth sys", func(t *testing.T) {
		cred := pcaptest.XDR(t, unixCred{Stamp: 1, Machine: "client", UID: 1000, GID: 100, GIDs: []uint32{4, 24}})
		data := pcaptest.XDR(t, authCall{
			XID: 9, Type: rpc.MsgCall, RPCVersion: 2, Program: rpc.ProgramMount, Version: 3, Procedure: 1,
			CredFlavor: rpc.AuthUnix, Cred: cred, Verf: []byte{},
		})
		msg, _, err := rpc.Decode(data)
		require.NoError(t, err)
		require.NotNil(t, msg.Call.Unix)
		assert.Equal(t, "client", msg.Call.Unix.MachineName)
		assert.Equal(t, uint32(1000), msg.Call.Unix.UID)
		assert.Equal(t, []uint32{4, 24}, msg.Call.Unix.GIDs)

		v, ok := msg.Field("uid")
		assert.True(t, ok)
		assert.Equal(t, uint64(1000), v)
		v, ok = msg.Field("progname")
		assert.True(t, ok)
		assert.Equal(t, "MOUNT", v)
	})

	t.Run("wrong rpc version", func(t *testing.T) {
		data := pcaptest.XDR(t, authCall{XID: 1, Type: rpc.MsgCall, RPCVersion: 3, Cred: []byte{}, Verf: []byte{}})
		_, _, err := rpc.Decode(data)
		require.Error(t, err)
		var de *packet.DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, packet.LayerRPC, de.Layer)
	})

	t.Run("truncated header", func(t *testing.T) {
		data := pcaptest.Call(t, 1, rpc.ProgramNFS, 3, 0, nil)
		_, _, err := rpc.Decode(data[:30])
		assert.Error(t, err)
	})
}

func TestDecodeReply(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		res := pcaptest.XDR(t, uint32(0))
		msg, body, err := rpc.Decode(pcaptest.Reply(t, 0x1234, rpc.AcceptSuccess, res))
		require.NoError(t, err)
		require.False(t, msg.IsCall())
		assert.True(t, msg.Accepted())
		assert.Equal(t, res, body)
		assert.Equal(t, "reply xid=0x00001234 SUCCESS", msg.Summary())

		info := msg.Info(body)
		assert.False(t, info.Call)
		assert.True(t, info.Accepted)
	})

	t.Run("accepted with error status", func(t *testing.T) {
		msg, body, err := rpc.Decode(pcaptest.Reply(t, 7, rpc.AcceptProcUnavail, nil))
		require.NoError(t, err)
		assert.False(t, msg.Accepted())
		assert.False(t, msg.Info(body).Accepted)
		v, ok := msg.Field("accept_stat")
		assert.True(t, ok)
		assert.Equal(t, uint64(rpc.AcceptProcUnavail), v)
	})

	t.Run("program mismatch carries range", func(t *testing.T) {
		data := pcaptest.Reply(t, 7, rpc.AcceptProgMismatch, pcaptest.XDR(t, uint32(2), uint32(4)))
		msg, _, err := rpc.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, uint32(2), msg.Reply.Low)
		assert.Equal(t, uint32(4), msg.Reply.High)
	})

	t.Run("denied", func(t *testing.T) {
		data := pcaptest.XDR(t, uint32(5), uint32(rpc.MsgReply), uint32(rpc.ReplyDenied), uint32(rpc.RejectAuthError), uint32(1))
		msg, _, err := rpc.Decode(data)
		require.NoError(t, err)
		assert.False(t, msg.Accepted())
		assert.Equal(t, uint32(1), msg.Reply.AuthStat)
		assert.Equal(t, "reply xid=0x00000005 denied AUTH_ERROR", msg.Summary())
	})

	t.Run("invalid reply state", func(t *testing.T) {
		data := pcaptest.XDR(t, uint32(5), uint32(rpc.MsgReply), uint32(9), uint32(0), uint32(0), uint32(0))
		_, _, err := rpc.Decode(data)
		assert.Error(t, err)
	})

	t.Run("invalid message type", func(t *testing.T) {
		data := pcaptest.XDR(t, uint32(5), uint32(2), uint32(0), uint32(0), uint32(0), uint32(0))
		_, _, err := rpc.Decode(data)
		assert.Error(t, err)
	})
}

func TestLooks(t *testing.T) {
	assert.True(t, rpc.Looks(pcaptest.Call(t, 1, rpc.ProgramNFS, 3, 0, nil)))
	assert.True(t, rpc.Looks(pcaptest.Reply(t, 1, 0, nil)))
	assert.False(t, rpc.Looks([]byte{1, 2, 3}))
	assert.False(t, rpc.Looks(make([]byte, 64)[:24]), "call header needs 40 bytes")
	assert.False(t, rpc.Looks(pcaptest.XDR(t, uint32(1), uint32(7), uint32(0), uint32(0), uint32(0), uint32(0))))
}

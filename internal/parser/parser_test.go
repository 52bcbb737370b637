package parser

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/capture"
	"nfstrace/internal/nfs"
	"nfstrace/internal/packet"
	"nfstrace/internal/pcaptest"
	"nfstrace/internal/rpc"
)

func decoder(decodeReplies bool) *Decoder {
	log, _ := test.NewNullLogger()
	return NewDecoder(Config{DecodeReplies: decodeReplies, Logger: log})
}

func frame(data []byte, seq int) *capture.Frame {
	return &capture.Frame{Data: data, Timestamp: pcaptest.At(seq), LinkType: layers.LinkTypeEthernet, Seq: seq}
}

func TestDecode(t *testing.T) {
	fh := []byte{1, 2, 3, 4}
	getattr := func(xid uint32) []byte {
		return pcaptest.Call(t, xid, rpc.ProgramNFS, 3, nfs.NFS3ProcGetattr, pcaptest.XDR(t, fh))
	}

	t.Run("udp call", func(t *testing.T) {
		pkts := decoder(true).Decode(frame(pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, getattr(7)), 1))
		require.Len(t, pkts, 1)
		p := pkts[0]
		require.NoError(t, p.DecodeErr)
		assert.Equal(t, []string{"ethernet", "ip", "udp", "rpc", "nfs3"}, p.LayerNames())
		require.NotNil(t, p.RPC)
		assert.Equal(t, uint32(7), p.RPC.XID)
		assert.True(t, p.IsCall())
		assert.Equal(t, "10.0.0.1:800", p.Src())
		assert.False(t, p.Conn.IsZero())
		op, ok := p.Field("nfs.op")
		require.True(t, ok)
		assert.Equal(t, "GETATTR", op)
	})

	t.Run("udp payload that is not rpc", func(t *testing.T) {
		pkts := decoder(true).Decode(frame(pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, []byte("hello")), 1))
		require.Len(t, pkts, 1)
		assert.Nil(t, pkts[0].RPC)
		assert.NoError(t, pkts[0].DecodeErr)
		assert.Equal(t, []string{"ethernet", "ip", "udp"}, pkts[0].LayerNames())
	})

	t.Run("tcp segment with two records", func(t *testing.T) {
		payload := append(pcaptest.Record(getattr(1)), pcaptest.Record(getattr(2))...)
		data := pcaptest.TCP(t, pcaptest.Client, pcaptest.Server, 1000, pcaptest.TCPFlags{ACK: true, PSH: true}, payload)
		d := decoder(true)
		pkts := d.Decode(frame(data, 1))
		require.Len(t, pkts, 2)
		assert.Equal(t, uint32(1), pkts[0].RPC.XID)
		assert.Equal(t, uint32(2), pkts[1].RPC.XID)
		assert.Equal(t, 0, pkts[0].Record)
		assert.Equal(t, 1, pkts[1].Record)
		assert.Same(t, pkts[0].Frame, pkts[1].Frame)
		assert.True(t, pkts[1].Has(packet.LayerTCP))
		assert.Equal(t, 2, d.StreamStats().Records)

		d.Reset()
		assert.Equal(t, 0, d.StreamStats().Records)
	})

	t.Run("handshake before data", func(t *testing.T) {
		d := decoder(true)
		c := pcaptest.NewConn(t, pcaptest.Client, pcaptest.Server)
		frames := append(c.Handshake(pcaptest.At(0)), c.Send(pcaptest.At(1), pcaptest.Record(getattr(3))))
		var last []*packet.Packet
		for i, f := range frames {
			last = d.Decode(frame(f.Data, i+1))
		}
		require.Len(t, last, 1)
		require.NotNil(t, last[0].RPC)
		assert.Equal(t, uint32(3), last[0].RPC.XID)
		assert.Equal(t, 0, d.StreamStats().Gaps)
	})

	t.Run("truncated frame", func(t *testing.T) {
		data := pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, getattr(1))
		pkts := decoder(true).Decode(frame(data[:20], 1))
		require.Len(t, pkts, 1)
		assert.ErrorIs(t, pkts[0].DecodeErr, packet.ErrDecode)
		assert.Nil(t, pkts[0].RPC)
	})

	t.Run("reply body waits for its call", func(t *testing.T) {
		reply := pcaptest.Reply(t, 7, rpc.AcceptSuccess, pcaptest.XDR(t, uint32(2)))
		for _, decodeReplies := range []bool{true, false} {
			d := decoder(decodeReplies)
			call := d.Decode(frame(pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, getattr(7)), 1))[0]
			p := d.Decode(frame(pcaptest.UDP(t, pcaptest.Server, pcaptest.Client, reply), 2))[0]
			assert.False(t, p.Has(packet.LayerNFSv3))

			// Linking is the correlator's job; do it by hand here.
			p.Call = call
			p.RPC.Program, p.RPC.Version, p.RPC.Procedure = call.RPC.Program, call.RPC.Version, call.RPC.Procedure
			d.DecodeBody(p)
			assert.Equal(t, decodeReplies, p.Has(packet.LayerNFSv3))
		}
	})
}

func TestHexDump(t *testing.T) {
	data := []byte("0123456789abcdefXY")
	want := "0000  30 31 32 33 34 35 36 37  38 39 61 62 63 64 65 66  |0123456789abcdef|\n" +
		"0010  58 59                                             |XY|\n"
	assert.Equal(t, want, HexDump(data))
	assert.Empty(t, HexDump(nil))
}

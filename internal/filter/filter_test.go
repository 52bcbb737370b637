package filter

import (
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/capture"
	"nfstrace/internal/nfs"
	"nfstrace/internal/packet"
	"nfstrace/internal/parser"
	"nfstrace/internal/pcaptest"
	"nfstrace/internal/rpc"
)

func readCall(t *testing.T) *packet.Packet {
	t.Helper()
	args := pcaptest.XDR(t, []byte{1, 2, 3, 4}, uint64(8192), uint32(32768))
	msg := pcaptest.Call(t, 0x1234, rpc.ProgramNFS, 3, nfs.NFS3ProcRead, args)
	frame := &capture.Frame{
		Data:      pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, msg),
		Timestamp: pcaptest.At(0),
		LinkType:  layers.LinkTypeEthernet,
		Seq:       1,
	}
	pkts := parser.NewDecoder(parser.Config{}).Decode(frame)
	require.Len(t, pkts, 1)
	pkts[0].Index = 12
	return pkts[0]
}

func TestRewrite(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`rpc.xid == 1`, `[rpc.xid] == 1`},
		{`rpc.xid == 0x1F`, `[rpc.xid] == 31`},
		{`nfs.op == "READ" && nfs.count > 4096`, `[nfs.op] == "READ" && [nfs.count] > 4096`},
		{`nfs.name == "a.b 0x10"`, `[nfs.name] == "a.b 0x10"`},
		{`[already.escaped] == 2`, `[already.escaped] == 2`},
		{`index >= 10 && rpc`, `index >= 10 && rpc`},
		{`ip.src == '10.0.0.1'`, `[ip.src] == '10.0.0.1'`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, rewrite(tt.in))
		})
	}
}

func TestCompile(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := Compile("  ")
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := Compile("rpc.xid ==")
		assert.Error(t, err)
	})

	t.Run("vars and string", func(t *testing.T) {
		f, err := Compile(`rpc.xid == 0x10 && ip.src == "10.0.0.1"`)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"rpc.xid", "ip.src"}, f.Vars())
		assert.Equal(t, `rpc.xid == 0x10 && ip.src == "10.0.0.1"`, f.String())
	})
}

func TestMatch(t *testing.T) {
	p := readCall(t)
	tests := []struct {
		expr string
		want bool
	}{
		{`rpc.xid == 0x1234`, true},
		{`rpc.xid == 4660`, true},
		{`rpc.xid != 0x1234`, false},
		{`rpc.type == "call"`, true},
		{`nfs.op == "READ" && nfs.count > 4096`, true},
		{`nfs.op == "WRITE" || nfs.offset == 8192`, true},
		{`nfs3.count >= 32768 && nfs3.count < 32769`, true},
		{`ip.src == "10.0.0.1" && udp.dport == 2049`, true},
		{`index > 10`, true},
		{`nfs3 && rpc`, true},
		{`nfs4`, false},
		{`rpc.matched`, false},
		{`nfs.op =~ "^RE"`, true},
		// Fields the packet does not carry.
		{`nlm.svid == 3`, false},
		{`nlm.svid > 3`, false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			f, err := Compile(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(p))
		})
	}
}

func TestEval(t *testing.T) {
	p := readCall(t)

	t.Run("ordering a missing field is an error", func(t *testing.T) {
		f, err := Compile(`nlm.svid > 3`)
		require.NoError(t, err)
		_, err = f.Eval(p)
		assert.Error(t, err)
	})

	t.Run("non boolean result", func(t *testing.T) {
		f, err := Compile(`rpc.xid + 1`)
		require.NoError(t, err)
		_, err = f.Eval(p)
		assert.Error(t, err)
	})
}

package engine

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nfstrace/internal/models"
	"nfstrace/internal/nfs"
	"nfstrace/internal/pcaptest"
	"nfstrace/internal/pktt"
	"nfstrace/internal/rpc"
)

type recorder struct {
	mu   sync.Mutex
	msgs []models.WSMessage
}

func (r *recorder) SendMessage(msg models.WSMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func newEngine() *Engine {
	cfg := pktt.DefaultConfig()
	log, _ := test.NewNullLogger()
	cfg.Logger = log
	return New(cfg)
}

func trace(t *testing.T) string {
	call := pcaptest.Call(t, 5, rpc.ProgramNFS, 3, nfs.NFS3ProcGetattr, pcaptest.XDR(t, []byte{1, 2, 3, 4}))
	reply := pcaptest.Reply(t, 5, rpc.AcceptSuccess, pcaptest.XDR(t, uint32(0)))
	return pcaptest.Write(t, "trace.pcap",
		pcaptest.Frame{TS: pcaptest.At(0), Data: pcaptest.UDP(t, pcaptest.Client, pcaptest.Server, call)},
		pcaptest.Frame{TS: pcaptest.At(1), Data: pcaptest.UDP(t, pcaptest.Server, pcaptest.Client, reply)},
	)
}

func TestLoadTraces(t *testing.T) {
	path := trace(t)

	t.Run("broadcasts every packet", func(t *testing.T) {
		e := newEngine()
		rec := &recorder{}
		e.RegisterClient(rec)

		stats, err := e.LoadTraces(models.LoadTracesRequest{Files: []string{path}})
		require.NoError(t, err)
		assert.Equal(t, 2, stats.PacketCount)
		assert.Equal(t, 0, stats.PendingCalls)
		assert.Equal(t, []string{"load_started", "packet", "packet", "load_finished"}, rec.types())

		var reply models.PacketInfo
		require.NoError(t, json.Unmarshal(rec.msgs[2].Payload, &reply))
		assert.Equal(t, 2, reply.Number)
		assert.Equal(t, uint32(5), reply.Xid)
		assert.Equal(t, 1, reply.CallIndex)
		assert.Equal(t, "10.0.0.2:2049", reply.SrcAddr)
		assert.Equal(t, "0:2", reply.Source)
		assert.NotEmpty(t, reply.HexDump)
		assert.Empty(t, reply.Error)
	})

	t.Run("match filters packets", func(t *testing.T) {
		e := newEngine()
		rec := &recorder{}
		e.RegisterClient(rec)
		_, err := e.LoadTraces(models.LoadTracesRequest{Files: []string{path}, Match: `rpc.type == "reply"`})
		require.NoError(t, err)
		assert.Equal(t, []string{"load_started", "packet", "load_finished"}, rec.types())
	})

	t.Run("bad match", func(t *testing.T) {
		e := newEngine()
		_, err := e.LoadTraces(models.LoadTracesRequest{Files: []string{path}, Match: "rpc.xid =="})
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		e := newEngine()
		_, err := e.LoadTraces(models.LoadTracesRequest{Files: []string{path + ".missing"}})
		assert.Error(t, err)
		// The failed replay does not leave the engine busy.
		_, err = e.LoadTraces(models.LoadTracesRequest{Files: []string{path}})
		assert.NoError(t, err)
	})

	t.Run("unregistered clients get nothing", func(t *testing.T) {
		e := newEngine()
		rec := &recorder{}
		e.RegisterClient(rec)
		e.UnregisterClient(rec)
		_, err := e.LoadTraces(models.LoadTracesRequest{Files: []string{path}})
		require.NoError(t, err)
		assert.Empty(t, rec.types())
	})

	t.Run("stop without replay is a no-op", func(t *testing.T) {
		e := newEngine()
		rec := &recorder{}
		e.RegisterClient(rec)
		e.Stop()
		assert.Empty(t, rec.types())
	})
}

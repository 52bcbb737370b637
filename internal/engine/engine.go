package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nfstrace/internal/filter"
	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/parser"
	"nfstrace/internal/pktt"
)

// ErrBusy is returned when a replay is already running.
var ErrBusy = errors.New("a trace replay is already running")

// Client represents a connected WebSocket client that receives packets.
type Client interface {
	SendMessage(msg models.WSMessage) error
}

// Engine replays traces through a sequencer and broadcasts the packets to
// clients.
type Engine struct {
	mu      sync.Mutex
	clients map[Client]bool
	cfg     pktt.Config
	log     logrus.FieldLogger
	loading bool
	stopCh  chan struct{}
	// pace is the pause after every batch of broadcast packets.
	pace time.Duration
}

// New creates a new Engine. cfg is the base configuration of every replay.
func New(cfg pktt.Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Engine{
		clients: make(map[Client]bool),
		cfg:     cfg,
		log:     cfg.Logger,
		pace:    5 * time.Millisecond,
	}
}

// RegisterClient adds a client to receive packet broadcasts.
func (e *Engine) RegisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[c] = true
}

// UnregisterClient removes a client.
func (e *Engine) UnregisterClient(c Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.clients, c)
}

// LoadTraces merges the requested files and streams the packets to all
// clients with pacing. It returns when the stream ends or Stop is called.
func (e *Engine) LoadTraces(req models.LoadTracesRequest) (models.SequenceStats, error) {
	var f *filter.Filter
	if req.Match != "" {
		var err error
		if f, err = filter.Compile(req.Match); err != nil {
			return models.SequenceStats{}, err
		}
	}

	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return models.SequenceStats{}, ErrBusy
	}
	e.loading = true
	stopCh := make(chan struct{})
	e.stopCh = stopCh
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
	}()

	cfg := e.cfg
	if req.Serial {
		cfg.Mode = pktt.ModeSerial
	}
	seq, err := pktt.Open(req.Files, cfg)
	if err != nil {
		return models.SequenceStats{}, err
	}
	defer seq.Close()

	payload, _ := json.Marshal(req)
	e.broadcast(models.WSMessage{Type: "load_started", Payload: payload})

	batch := 0
	err = seq.Iterate(func(p *packet.Packet) error {
		select {
		case <-stopCh:
			return errStopped
		default:
		}
		if f != nil && !f.Match(p) {
			return nil
		}
		payload, _ := json.Marshal(Info(p))
		e.broadcast(models.WSMessage{Type: "packet", Payload: payload})

		// Pace: yield every 200 packets so the client can breathe
		batch++
		if batch >= 200 {
			batch = 0
			time.Sleep(e.pace)
		}
		return nil
	})
	if errors.Is(err, errStopped) {
		err = nil
	}

	st := seq.Stats()
	stats := models.SequenceStats{
		PacketCount:   st.Packets,
		DecodeErrors:  st.DecodeErrors,
		SkippedFrames: st.SkippedFrames,
		OrphanReplies: st.OrphanReplies,
		Retransmits:   st.DuplicateCalls,
		PendingCalls:  st.PendingCalls,
	}
	payload, _ = json.Marshal(stats)
	e.broadcast(models.WSMessage{Type: "load_finished", Payload: payload})
	e.log.WithFields(logrus.Fields{"files": req.Files, "packets": st.Packets}).Info("trace replay finished")
	return stats, err
}

var errStopped = errors.New("replay stopped")

// Stop ends the running replay, if any.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.loading || e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	stopCh := e.stopCh
	e.stopCh = nil
	e.mu.Unlock()

	close(stopCh)
	e.broadcast(models.WSMessage{Type: "load_stopped"})
}

// Info converts a packet to its wire representation.
func Info(p *packet.Packet) models.PacketInfo {
	info := models.PacketInfo{
		Number:    p.Index,
		Timestamp: p.Timestamp(),
		SrcAddr:   p.Src(),
		DstAddr:   p.Dst(),
		Protocol:  p.Protocol(),
		Info:      p.String(),
		Layers:    p.Details(),
	}
	if p.Frame != nil {
		info.Source = fmt.Sprintf("%d:%d", p.Frame.Source, p.Frame.Seq)
		info.Length = p.Frame.Length
		info.HexDump = parser.HexDump(p.Frame.Data)
	}
	if p.RPC != nil {
		info.Xid = p.RPC.XID
	}
	if p.Call != nil {
		info.CallIndex = p.Call.Index
	}
	if p.Reply != nil {
		info.ReplyIndex = p.Reply.Index
	}
	if p.DecodeErr != nil {
		info.Error = p.DecodeErr.Error()
	}
	return info
}

func (e *Engine) broadcast(msg models.WSMessage) {
	e.mu.Lock()
	clients := make([]Client, 0, len(e.clients))
	for c := range e.clients {
		clients = append(clients, c)
	}
	e.mu.Unlock()

	for _, c := range clients {
		if err := c.SendMessage(msg); err != nil {
			e.log.WithError(err).Debug("send to client failed")
		}
	}
}

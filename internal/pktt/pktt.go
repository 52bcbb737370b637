// Package pktt merges packet captures into one ordered stream of decoded
// packets and links RPC replies to their calls along the way.
package pktt

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"nfstrace/internal/capture"
	"nfstrace/internal/correlate"
	"nfstrace/internal/flow"
	"nfstrace/internal/packet"
	"nfstrace/internal/parser"
)

var (
	// ErrClosed is returned by operations on a closed sequencer.
	ErrClosed = errors.New("pktt: sequencer closed")
	// ErrNoSources is returned by Open without paths.
	ErrNoSources = errors.New("pktt: no capture files")
	// ErrSeekRange is returned when seeking past the end of the stream.
	ErrSeekRange = errors.New("pktt: seek beyond end of stream")
)

// Stats counts what happened while reading the stream.
type Stats struct {
	Packets        int
	DecodeErrors   int
	SkippedFrames  int
	SkippedSources int
	OrphanReplies  int
	DuplicateCalls int
	EvictedCalls   int
	ClosedCalls    int
	PendingCalls   int
	Records        int
	Resyncs        int
}

// Pktt is a sequencer over one or more capture files. It is not safe for
// concurrent use; independent instances share nothing.
type Pktt struct {
	cfg     Config
	log     logrus.FieldLogger
	paths   []string
	sources []*capture.Source

	decoder *parser.Decoder
	corr    *correlate.Correlator
	tracker *flow.Tracker

	// queue holds decoded packets not yet returned, in index order.
	queue []*packet.Packet
	// index is the last index returned, assigned the last index given out.
	index    int
	assigned int
	// cur is the active source in serial mode.
	cur int
	err error

	match  matchState
	stats  Stats
	closed bool
}

// Open opens every path eagerly. A failure on the first path is always
// fatal; later failures are fatal unless cfg.SkipBadSources is set.
func Open(paths []string, cfg Config) (*Pktt, error) {
	if len(paths) == 0 {
		return nil, ErrNoSources
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	p := &Pktt{
		cfg:   cfg,
		log:   cfg.Logger,
		paths: append([]string(nil), paths...),
	}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pktt) open() error {
	p.sources = make([]*capture.Source, len(p.paths))
	for i, path := range p.paths {
		src, err := capture.Open(path, i)
		if err != nil {
			if i == 0 || !p.cfg.SkipBadSources {
				p.closeSources()
				return fmt.Errorf("open trace %d: %w", i, err)
			}
			p.stats.SkippedSources++
			p.log.WithField("source", path).WithError(err).Warn("skipping capture file")
			continue
		}
		p.sources[i] = src
		p.log.WithFields(logrus.Fields{"source": path, "linktype": src.LinkType()}).Debug("opened capture file")
	}

	p.decoder = parser.NewDecoder(parser.Config{
		DecodeReplies: p.cfg.DecodeReplies,
		MaxRecordSize: p.cfg.MaxRecordSize,
		Logger:        p.log,
	})
	p.corr = correlate.New(p.cfg.MaxPending, p.log)
	p.tracker = flow.NewTracker(0)
	p.queue = nil
	p.index, p.assigned, p.cur = 0, 0, 0
	p.err = nil
	p.match.reset()
	return nil
}

// Paths returns the capture files in source order.
func (p *Pktt) Paths() []string {
	return append([]string(nil), p.paths...)
}

// Mode returns the merge mode.
func (p *Pktt) Mode() Mode {
	return p.cfg.Mode
}

// Next returns the next packet of the merged stream, or io.EOF once every
// source is exhausted.
func (p *Pktt) Next() (*packet.Packet, error) {
	if p.closed {
		return nil, ErrClosed
	}
	for len(p.queue) == 0 {
		if p.err != nil {
			return nil, p.err
		}
		if err := p.pull(); err != nil {
			p.err = err
			return nil, err
		}
	}
	pk := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.index = pk.Index
	return pk, nil
}

// Iterate calls fn for every remaining packet. It stops at the end of the
// stream, returning nil, or at the first error from fn or Next.
func (p *Pktt) Iterate(fn func(*packet.Packet) error) error {
	for {
		pk, err := p.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(pk); err != nil {
			return err
		}
	}
}

// pick returns the source the next frame comes from, -1 when all are
// exhausted.
func (p *Pktt) pick() int {
	if p.cfg.Mode == ModeSerial {
		for ; p.cur < len(p.sources); p.cur++ {
			if s := p.sources[p.cur]; s != nil {
				if _, ok := s.PeekTimestamp(); ok {
					return p.cur
				}
			}
		}
		return -1
	}

	best := -1
	var bestTS time.Time
	for i, s := range p.sources {
		if s == nil {
			continue
		}
		ts, ok := s.PeekTimestamp()
		if !ok {
			continue
		}
		// Strictly earlier only: equal timestamps keep source order.
		if best < 0 || ts.Before(bestTS) {
			best, bestTS = i, ts
		}
	}
	return best
}

// pull reads and decodes one frame into the queue.
func (p *Pktt) pull() error {
	i := p.pick()
	if i < 0 {
		return io.EOF
	}
	src := p.sources[i]
	frame, err := src.ReadNext()
	if errors.Is(err, capture.ErrEndOfStream) {
		return nil
	}
	if err != nil {
		if p.cfg.OnFrameError == FrameErrorAbort {
			return err
		}
		p.stats.SkippedFrames++
		p.log.WithField("source", src.Path()).WithError(err).Warn("dropping damaged capture file")
		p.dropSource(i)
		return nil
	}

	pkts := p.decoder.Decode(frame)
	var conn *flow.Conn
	var closed bool
	if t := pkts[0].Tuple; t.Valid {
		conn, closed = p.tracker.Track(t, frame.Length, frame.Timestamp)
	}
	for _, pk := range pkts {
		p.assigned++
		pk.Index = p.assigned
		p.observe(pk)
		p.queue = append(p.queue, pk)
	}
	if closed {
		p.corr.ConnectionClosed(conn.Key)
	}
	return nil
}

func (p *Pktt) observe(pk *packet.Packet) {
	p.stats.Packets++
	if pk.RPC != nil {
		res := p.corr.Observe(pk)
		if res.Call != nil {
			p.decoder.DecodeBody(pk)
		}
	}
	if pk.DecodeErr != nil {
		p.stats.DecodeErrors++
		p.log.WithFields(logrus.Fields{
			"index":  pk.Index,
			"source": pk.Frame.Source,
			"frame":  pk.Frame.Seq,
		}).WithError(pk.DecodeErr).Debug("packet decode error")
	}
}

func (p *Pktt) dropSource(i int) {
	if err := p.sources[i].Close(); err != nil {
		p.log.WithField("source", p.paths[i]).WithError(err).Warn("close capture file")
	}
	p.sources[i] = nil
}

// Index returns the index of the last packet returned, 0 before the first.
func (p *Pktt) Index() int {
	return p.index
}

// Seek positions the stream so that the next packet returned has the given
// index. Seeking forward discards packets; seeking backward reopens every
// source and rebuilds the stream, correlation included, from the start.
func (p *Pktt) Seek(index int) error {
	if p.closed {
		return ErrClosed
	}
	if index < 1 {
		return fmt.Errorf("%w: index %d", ErrSeekRange, index)
	}
	if index <= p.index {
		p.closeSources()
		skipped := p.stats.SkippedSources
		p.stats = Stats{}
		if err := p.open(); err != nil {
			return err
		}
		p.stats.SkippedSources = skipped
	}
	for p.index < index-1 {
		if _, err := p.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: index %d", ErrSeekRange, index)
			}
			return err
		}
	}
	return nil
}

// Rewind restarts the stream at the first packet.
func (p *Pktt) Rewind() error {
	return p.Seek(1)
}

// CallFor returns the call a reply answers.
func (p *Pktt) CallFor(reply *packet.Packet) (*packet.Packet, error) {
	return p.corr.CallFor(reply)
}

// ReplyFor returns the reply of a call, nil if none was seen yet.
func (p *Pktt) ReplyFor(call *packet.Packet) *packet.Packet {
	return p.corr.ReplyFor(call)
}

// IsReplyMatched reports whether a call or reply has its other half.
func (p *Pktt) IsReplyMatched(pk *packet.Packet) bool {
	return p.corr.IsReplyMatched(pk)
}

// Unanswered returns the calls still waiting for a reply, oldest first.
func (p *Pktt) Unanswered() []*packet.Packet {
	return p.corr.Unanswered()
}

// Abandoned returns the calls that left the pending table without a reply:
// evicted when it was full, or dropped when their connection closed.
func (p *Pktt) Abandoned() []correlate.Abandoned {
	return p.corr.Abandoned()
}

// Stats returns the counters of the current pass.
func (p *Pktt) Stats() Stats {
	s := p.stats
	cs := p.corr.Stats()
	s.OrphanReplies = cs.Orphans
	s.DuplicateCalls = cs.Duplicates
	s.EvictedCalls = cs.Evicted
	s.ClosedCalls = cs.Closed
	s.PendingCalls = p.corr.Pending()
	ss := p.decoder.StreamStats()
	s.Records = ss.Records
	s.Resyncs = ss.Resyncs
	return s
}

// Close releases every source. Calling it again is a no-op.
func (p *Pktt) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.queue = nil
	return p.closeSources()
}

func (p *Pktt) closeSources() error {
	var first error
	for i, s := range p.sources {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
		p.sources[i] = nil
	}
	return first
}

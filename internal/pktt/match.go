package pktt

import (
	"errors"
	"io"

	"nfstrace/internal/filter"
	"nfstrace/internal/packet"
)

// Predicate selects packets.
type Predicate func(*packet.Packet) bool

// MatchOptions tune Match.
type MatchOptions struct {
	// Rewind restores the position the scan started from when nothing
	// matches.
	Rewind bool
	// Reply surfaces the other half of a matching call or reply. The reply
	// of a matched call is returned when the scan reaches it even if it
	// fails the predicate. A matched reply whose call was not returned yet
	// is preceded by that call.
	Reply bool
	// MaxIndex, when positive, is an exclusive bound on the index of the
	// packet returned.
	MaxIndex int
}

type matchState struct {
	// waiting holds calls returned by Match whose reply must be surfaced.
	waiting map[*packet.Packet]struct{}
	// shown holds calls already returned by Match.
	shown map[*packet.Packet]struct{}
	// deferred is a reply to return on the next Match call.
	deferred *packet.Packet
}

func (m *matchState) reset() {
	m.waiting = make(map[*packet.Packet]struct{})
	m.shown = make(map[*packet.Packet]struct{})
	m.deferred = nil
}

// Match scans forward for the next packet accepted by pred. It returns
// (nil, nil) when the stream or the MaxIndex bound is reached first.
func (p *Pktt) Match(pred Predicate, opts MatchOptions) (*packet.Packet, error) {
	if p.closed {
		return nil, ErrClosed
	}
	st := &p.match

	if r := st.deferred; r != nil {
		if opts.MaxIndex <= 0 || r.Index < opts.MaxIndex {
			st.deferred = nil
			return r, nil
		}
	}

	var scanned []*packet.Packet
	start := p.index
	for {
		if opts.MaxIndex > 0 && p.index+1 >= opts.MaxIndex {
			break
		}
		pk, err := p.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if opts.Rewind {
			scanned = append(scanned, pk)
		}

		if opts.Reply && pk.IsReply() && pk.Call != nil {
			if _, ok := st.waiting[pk.Call]; ok {
				delete(st.waiting, pk.Call)
				delete(st.shown, pk.Call)
				return pk, nil
			}
		}
		if !pred(pk) {
			continue
		}
		if !opts.Reply {
			return pk, nil
		}
		return st.surface(pk), nil
	}

	if opts.Rewind && len(scanned) > 0 {
		p.queue = append(scanned, p.queue...)
		p.index = start
	}
	return nil, nil
}

// surface applies the reply policy to a matching packet.
func (m *matchState) surface(pk *packet.Packet) *packet.Packet {
	switch {
	case pk.IsCall():
		// The reply always comes later in the stream than its call.
		m.shown[pk] = struct{}{}
		m.waiting[pk] = struct{}{}
	case pk.IsReply() && pk.Call != nil:
		call := pk.Call
		if _, ok := m.shown[call]; !ok {
			delete(m.waiting, call)
			m.deferred = pk
			return call
		}
		delete(m.shown, call)
		delete(m.waiting, call)
	}
	return pk
}

// MatchExpr compiles a filter expression and calls Match with it.
func (p *Pktt) MatchExpr(expr string, opts MatchOptions) (*packet.Packet, error) {
	f, err := filter.Compile(expr)
	if err != nil {
		return nil, err
	}
	return p.Match(f.Match, opts)
}

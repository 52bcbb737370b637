// Package correlate links RPC replies to the calls they answer.
package correlate

import (
	"errors"
	"fmt"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"

	"nfstrace/internal/flow"
	"nfstrace/internal/packet"
)

// DefaultMaxPending bounds the pending call table.
const DefaultMaxPending = 65536

// ErrCorrelationMiss is reported for a reply whose call was never seen or
// was already evicted.
var ErrCorrelationMiss = errors.New("reply without matching call")

// Key identifies a call: the connection it was sent on and its xid.
type Key struct {
	Conn flow.ConnID
	XID  uint32
}

func (k Key) String() string {
	return fmt.Sprintf("%s xid=0x%08x", k.Conn, k.XID)
}

// Result describes what Observe did with a packet.
type Result struct {
	// Call is set for a reply that was linked to its call.
	Call *packet.Packet
	// Replaced is the pending call a new call with the same key displaced.
	Replaced *packet.Packet
	// Err is ErrCorrelationMiss for an orphan reply.
	Err error
}

// Stats counts correlation events.
type Stats struct {
	Calls      int
	Matched    int
	Orphans    int
	Duplicates int
	Evicted    int
	Closed     int
}

// Reason tells why a call left the pending table without a reply.
type Reason string

const (
	ReasonEvicted Reason = "evicted from the pending call table"
	ReasonClosed  Reason = "connection closed before a reply"
)

// Abandoned records a call that left the pending table unanswered. It does
// not hold the packet, so the pending bound still caps retained packets.
type Abandoned struct {
	Index  int
	XID    uint32
	Conn   flow.ConnID
	Reason Reason
}

// Correlator holds the calls still waiting for a reply. It is not safe for
// concurrent use.
type Correlator struct {
	pending *simplelru.LRU
	max     int
	log     logrus.FieldLogger
	stats   Stats

	abandoned []Abandoned
}

// New creates a correlator holding at most maxPending calls. A maxPending
// <= 0 selects DefaultMaxPending.
func New(maxPending int, log logrus.FieldLogger) *Correlator {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Correlator{max: maxPending, log: log}
	c.pending = newLRU(maxPending)
	return c
}

func newLRU(size int) *simplelru.LRU {
	lru, err := simplelru.NewLRU(size, nil)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return lru
}

func keyOf(p *packet.Packet) Key {
	return Key{Conn: p.Conn, XID: p.RPC.XID}
}

// Observe registers a call or links a reply. Packets without an RPC layer
// are ignored.
func (c *Correlator) Observe(p *packet.Packet) Result {
	if p.RPC == nil {
		return Result{}
	}
	key := keyOf(p)
	if p.RPC.Call {
		return c.observeCall(key, p)
	}
	return c.observeReply(key, p)
}

func (c *Correlator) observeCall(key Key, p *packet.Packet) Result {
	c.stats.Calls++
	var res Result
	if v, ok := c.pending.Peek(key); ok {
		old := v.(*packet.Packet)
		p.Retransmits = append(append(p.Retransmits, old.Retransmits...), old)
		c.stats.Duplicates++
		res.Replaced = old
		c.log.WithFields(logrus.Fields{
			"xid":      fmt.Sprintf("0x%08x", key.XID),
			"index":    p.Index,
			"replaced": old.Index,
		}).Debug("duplicate call replaces pending call")
		c.pending.Remove(key)
	} else if c.pending.Len() >= c.max {
		if k, v, ok := c.pending.RemoveOldest(); ok {
			c.stats.Evicted++
			c.abandon(v.(*packet.Packet), ReasonEvicted)
			c.log.WithFields(logrus.Fields{
				"call":  k.(Key).String(),
				"index": v.(*packet.Packet).Index,
			}).Debug("pending call table full, evicting oldest call")
		}
	}
	c.pending.Add(key, p)
	return res
}

func (c *Correlator) observeReply(key Key, p *packet.Packet) Result {
	v, ok := c.pending.Peek(key)
	if !ok {
		c.stats.Orphans++
		c.log.WithFields(logrus.Fields{
			"xid":   fmt.Sprintf("0x%08x", key.XID),
			"index": p.Index,
		}).Warn("reply without matching call")
		return Result{Err: ErrCorrelationMiss}
	}
	c.pending.Remove(key)
	call := v.(*packet.Packet)
	link(call, p)
	c.stats.Matched++
	return Result{Call: call}
}

// link ties a call and its reply together and gives the reply the
// program numbers of the call.
func link(call, reply *packet.Packet) {
	call.Reply = reply
	reply.Call = call
	reply.RPC.Program = call.RPC.Program
	reply.RPC.Version = call.RPC.Version
	reply.RPC.Procedure = call.RPC.Procedure
}

// CallFor returns the call a reply was linked to.
func (c *Correlator) CallFor(reply *packet.Packet) (*packet.Packet, error) {
	if reply.Call == nil {
		return nil, ErrCorrelationMiss
	}
	return reply.Call, nil
}

// ReplyFor returns the reply linked to a call, nil while it is pending.
func (c *Correlator) ReplyFor(call *packet.Packet) *packet.Packet {
	return call.Reply
}

// IsReplyMatched reports whether p has been linked to its other half.
func (c *Correlator) IsReplyMatched(p *packet.Packet) bool {
	return p.ReplyMatched()
}

// ConnectionClosed drops every pending call of conn and returns them. Calls
// still pending when their connection closes will never be answered on it.
func (c *Correlator) ConnectionClosed(conn flow.ConnID) []*packet.Packet {
	var dropped []*packet.Packet
	for _, k := range c.pending.Keys() {
		key := k.(Key)
		if key.Conn != conn {
			continue
		}
		if v, ok := c.pending.Peek(key); ok {
			call := v.(*packet.Packet)
			dropped = append(dropped, call)
			c.abandon(call, ReasonClosed)
		}
		c.pending.Remove(key)
	}
	if len(dropped) > 0 {
		c.stats.Closed += len(dropped)
		c.log.WithFields(logrus.Fields{
			"conn":    conn.String(),
			"pending": len(dropped),
		}).Debug("connection closed with pending calls")
	}
	return dropped
}

func (c *Correlator) abandon(call *packet.Packet, r Reason) {
	c.abandoned = append(c.abandoned, Abandoned{Index: call.Index, XID: call.RPC.XID, Conn: call.Conn, Reason: r})
}

// Abandoned returns the calls that were evicted or whose connection closed
// before a reply, in the order they left the pending table.
func (c *Correlator) Abandoned() []Abandoned {
	return append([]Abandoned(nil), c.abandoned...)
}

// Unanswered returns the calls still pending, oldest first.
func (c *Correlator) Unanswered() []*packet.Packet {
	keys := c.pending.Keys()
	out := make([]*packet.Packet, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.pending.Peek(k); ok {
			out = append(out, v.(*packet.Packet))
		}
	}
	return out
}

// Pending returns the number of calls waiting for a reply.
func (c *Correlator) Pending() int {
	return c.pending.Len()
}

// Stats returns the event counters.
func (c *Correlator) Stats() Stats {
	return c.stats
}

// Reset forgets every pending call and clears the counters.
func (c *Correlator) Reset() {
	c.pending.Purge()
	c.stats = Stats{}
	c.abandoned = nil
}

package flow

import (
	"fmt"
	"time"
)

// TCPState represents the state of a TCP connection.
type TCPState string

const (
	TCPStateNew         TCPState = "NEW"
	TCPStateSynSent     TCPState = "SYN_SENT"
	TCPStateSynReceived TCPState = "SYN_RECEIVED"
	TCPStateEstablished TCPState = "ESTABLISHED"
	TCPStateFinWait     TCPState = "FIN_WAIT"
	TCPStateClosed      TCPState = "CLOSED"
)

const (
	DefaultMaxConns = 10000
	DefaultIdleTime = 5 * time.Minute
)

// ConnID is a normalized 5-tuple. Both directions map to the same ConnID,
// so a reply resolves to the connection its call was sent on.
type ConnID struct {
	IP1      string
	IP2      string
	Port1    uint16
	Port2    uint16
	Protocol string
}

// MakeConnID builds the direction independent id of a transport connection.
func MakeConnID(srcIP, dstIP string, srcPort, dstPort uint16, protocol string) ConnID {
	// Normalize: smaller IP first; if IPs equal, smaller port first
	if srcIP < dstIP || (srcIP == dstIP && srcPort < dstPort) {
		return ConnID{IP1: srcIP, IP2: dstIP, Port1: srcPort, Port2: dstPort, Protocol: protocol}
	}
	return ConnID{IP1: dstIP, IP2: srcIP, Port1: dstPort, Port2: srcPort, Protocol: protocol}
}

// IsZero reports whether the id was never set.
func (c ConnID) IsZero() bool {
	return c == ConnID{}
}

func (c ConnID) String() string {
	if c.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s:%d <-> %s:%d", c.Protocol, c.IP1, c.Port1, c.IP2, c.Port2)
}

// TCPFlags holds parsed TCP flag bits.
type TCPFlags struct {
	SYN bool
	ACK bool
	FIN bool
	RST bool
	PSH bool
}

// Tuple is the transport 5-tuple and TCP flags of one packet.
type Tuple struct {
	SrcIP    string
	DstIP    string
	SrcPort  uint16
	DstPort  uint16
	Protocol string
	Flags    TCPFlags
	Valid    bool
}

// ConnID returns the normalized id of the tuple.
func (t Tuple) ConnID() ConnID {
	if !t.Valid {
		return ConnID{}
	}
	return MakeConnID(t.SrcIP, t.DstIP, t.SrcPort, t.DstPort, t.Protocol)
}

// Conn holds statistics for a single connection. Times are capture times.
type Conn struct {
	ID          uint64
	Key         ConnID
	SrcIP       string
	DstIP       string
	SrcPort     uint16
	DstPort     uint16
	Protocol    string
	PacketCount int
	ByteCount   int64
	FirstSeen   time.Time
	LastSeen    time.Time
	TCPState    TCPState
	FwdPackets  int
	FwdBytes    int64
	RevPackets  int
	RevBytes    int64
	// FinFwd and FinRev record a FIN seen from each side. A repeated FIN
	// from one side does not close the connection.
	FinFwd bool
	FinRev bool
}

// Tracker maintains the connection table of one packet stream. It is not
// safe for concurrent use.
type Tracker struct {
	conns    map[ConnID]*Conn
	nextID   uint64
	maxConns int
	idleTime time.Duration
}

// NewTracker creates a new connection tracker. A maxConns <= 0 selects
// DefaultMaxConns.
func NewTracker(maxConns int) *Tracker {
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}
	return &Tracker{
		conns:    make(map[ConnID]*Conn),
		maxConns: maxConns,
		idleTime: DefaultIdleTime,
	}
}

// Track records a packet in the connection table. closed is true when this
// packet moved a TCP connection into the CLOSED state.
func (t *Tracker) Track(tuple Tuple, length int, ts time.Time) (c *Conn, closed bool) {
	key := tuple.ConnID()

	// Evict idle connections if at capacity
	if len(t.conns) >= t.maxConns {
		t.evictIdle(ts)
	}

	c, exists := t.conns[key]
	if !exists {
		t.nextID++
		c = &Conn{
			ID:        t.nextID,
			Key:       key,
			SrcIP:     tuple.SrcIP,
			DstIP:     tuple.DstIP,
			SrcPort:   tuple.SrcPort,
			DstPort:   tuple.DstPort,
			Protocol:  tuple.Protocol,
			FirstSeen: ts,
			TCPState:  TCPStateNew,
		}
		t.conns[key] = c
	}

	c.PacketCount++
	c.ByteCount += int64(length)
	if ts.After(c.LastSeen) {
		c.LastSeen = ts
	}

	// Directional stats: "forward" matches the original source
	fwd := tuple.SrcIP == c.SrcIP && tuple.SrcPort == c.SrcPort
	if fwd {
		c.FwdPackets++
		c.FwdBytes += int64(length)
	} else {
		c.RevPackets++
		c.RevBytes += int64(length)
	}

	if tuple.Protocol == "TCP" {
		prev := c.TCPState
		if prev == TCPStateClosed && tuple.Flags.SYN && !tuple.Flags.ACK {
			c.FinFwd, c.FinRev = false, false
		}
		if tuple.Flags.FIN {
			if fwd {
				c.FinFwd = true
			} else {
				c.FinRev = true
			}
		}
		c.TCPState = advanceTCPState(prev, tuple.Flags, c.FinFwd && c.FinRev)
		closed = prev != TCPStateClosed && c.TCPState == TCPStateClosed
	}

	return c, closed
}

// Lookup returns the connection with the given id.
func (t *Tracker) Lookup(key ConnID) (*Conn, bool) {
	c, ok := t.conns[key]
	return c, ok
}

// Conns returns a snapshot of all tracked connections.
func (t *Tracker) Conns() []*Conn {
	result := make([]*Conn, 0, len(t.conns))
	for _, c := range t.conns {
		cp := *c
		result = append(result, &cp)
	}
	return result
}

// Len returns the number of tracked connections.
func (t *Tracker) Len() int {
	return len(t.conns)
}

// Reset clears all connections.
func (t *Tracker) Reset() {
	t.conns = make(map[ConnID]*Conn)
	t.nextID = 0
}

func (t *Tracker) evictIdle(now time.Time) {
	cutoff := now.Add(-t.idleTime)
	for key, c := range t.conns {
		if c.LastSeen.Before(cutoff) || c.TCPState == TCPStateClosed {
			delete(t.conns, key)
		}
	}
}

// advanceTCPState returns the state after a segment with flags. bothFin is
// set once each side has sent a FIN.
func advanceTCPState(current TCPState, flags TCPFlags, bothFin bool) TCPState {
	if flags.RST {
		return TCPStateClosed
	}
	if flags.FIN && current != TCPStateClosed {
		if bothFin {
			return TCPStateClosed
		}
		return TCPStateFinWait
	}

	switch current {
	case TCPStateNew:
		if flags.SYN && !flags.ACK {
			return TCPStateSynSent
		}
		// Capture started mid-connection.
		if flags.ACK && !flags.SYN {
			return TCPStateEstablished
		}
	case TCPStateSynSent:
		if flags.SYN && flags.ACK {
			return TCPStateSynReceived
		}
	case TCPStateSynReceived:
		if flags.ACK && !flags.SYN {
			return TCPStateEstablished
		}
	case TCPStateClosed:
		// Port reuse.
		if flags.SYN && !flags.ACK {
			return TCPStateSynSent
		}
	}
	return current
}

// String returns a human-readable description of the connection.
func (c *Conn) String() string {
	return fmt.Sprintf("Conn#%d %s:%d <-> %s:%d [%s] pkts=%d bytes=%d",
		c.ID, c.SrcIP, c.SrcPort, c.DstIP, c.DstPort, c.Protocol, c.PacketCount, c.ByteCount)
}

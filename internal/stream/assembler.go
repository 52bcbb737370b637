// Package stream rebuilds ONC RPC records from TCP segments.
//
// RPC over TCP frames each message with record marks: a four byte header
// holding a last-fragment bit and a 31-bit fragment length. A record may be
// split over many segments and one segment may carry several records.
package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"nfstrace/internal/rpc"
)

const (
	// DefaultMaxRecordSize bounds the bytes buffered for one record.
	DefaultMaxRecordSize = 4 << 20

	lastFragment = 0x80000000
	markSize     = 4
	// minCallSize is the smallest RPC call header.
	minCallSize = 40
)

// Key identifies one direction of a TCP connection.
type Key struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// Reverse returns the key of the opposite direction.
func (k Key) Reverse() Key {
	return Key{SrcIP: k.DstIP, DstIP: k.SrcIP, SrcPort: k.DstPort, DstPort: k.SrcPort}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", k.SrcIP, k.SrcPort, k.DstIP, k.DstPort)
}

// Stats counts reassembly events.
type Stats struct {
	Records     int
	Resyncs     int
	Gaps        int
	Retransmits int
	Oversized   int
}

// half is the reassembly state of one direction.
type half struct {
	buf      []byte
	record   []byte
	nextSeq  uint32
	seqValid bool
	synced   bool
}

func (h *half) reset() {
	h.buf = nil
	h.record = nil
	h.synced = false
}

// Reassembler keeps per direction buffers. It is not safe for concurrent
// use.
type Reassembler struct {
	halves    map[Key]*half
	maxRecord int
	log       logrus.FieldLogger
	stats     Stats
}

// NewReassembler creates a reassembler. A maxRecord <= 0 selects
// DefaultMaxRecordSize.
func NewReassembler(maxRecord int, log logrus.FieldLogger) *Reassembler {
	if maxRecord <= 0 {
		maxRecord = DefaultMaxRecordSize
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reassembler{
		halves:    make(map[Key]*half),
		maxRecord: maxRecord,
		log:       log,
	}
}

// Syn starts the direction key over at initial sequence number isn. The SYN
// occupies isn, so data begins at isn+1.
func (r *Reassembler) Syn(key Key, isn uint32) {
	r.halves[key] = &half{nextSeq: isn + 1, seqValid: true}
}

// Feed adds the payload of a segment with sequence number seq and returns
// the records it completed, oldest first.
func (r *Reassembler) Feed(key Key, seq uint32, payload []byte) [][]byte {
	h, ok := r.halves[key]
	if !ok {
		h = &half{}
		r.halves[key] = h
	}

	end := seq + uint32(len(payload))
	if h.seqValid {
		switch diff := int32(seq - h.nextSeq); {
		case diff < 0:
			overlap := int(-diff)
			if overlap >= len(payload) {
				if len(payload) > 0 {
					r.stats.Retransmits++
				}
				return nil
			}
			payload = payload[overlap:]
			r.stats.Retransmits++
		case diff > 0:
			// Lost segment: whatever is buffered can no longer complete.
			r.stats.Gaps++
			r.log.WithFields(logrus.Fields{"flow": key.String(), "missing": diff}).Debug("tcp gap, resynchronizing")
			h.reset()
		}
	}
	h.nextSeq = end
	h.seqValid = true

	if len(payload) == 0 {
		return nil
	}
	h.buf = append(h.buf, payload...)
	return r.drain(key, h)
}

func (r *Reassembler) drain(key Key, h *half) [][]byte {
	var out [][]byte
	for {
		if !h.synced && !r.resync(key, h) {
			break
		}
		if len(h.buf) < markSize {
			break
		}
		mark := binary.BigEndian.Uint32(h.buf)
		n := int(mark &^ lastFragment)
		if len(h.record) == 0 {
			ok, more := r.recordStart(h.buf)
			if more {
				break
			}
			if !ok {
				r.desync(key, h, "bad record header")
				continue
			}
		} else if len(h.record)+n > r.maxRecord {
			r.stats.Oversized++
			r.desync(key, h, "record exceeds size limit")
			continue
		}
		if len(h.buf) < markSize+n {
			break
		}
		h.record = append(h.record, h.buf[markSize:markSize+n]...)
		h.buf = h.buf[markSize+n:]
		if mark&lastFragment != 0 {
			out = append(out, h.record)
			h.record = nil
			r.stats.Records++
		}
	}
	if len(h.buf) == 0 {
		h.buf = nil
	}
	return out
}

// resync drops bytes until the buffer starts with a plausible record. It
// returns false when more data is needed to decide.
func (r *Reassembler) resync(key Key, h *half) bool {
	skipped := 0
	defer func() {
		if skipped > 0 {
			r.log.WithFields(logrus.Fields{"flow": key.String(), "skipped": skipped}).Debug("skipped bytes looking for rpc record")
		}
	}()
	for len(h.buf) > 0 {
		ok, more := r.recordStart(h.buf)
		if ok {
			h.synced = true
			return true
		}
		if more {
			return false
		}
		h.buf = h.buf[1:]
		skipped++
	}
	return false
}

// recordStart reports whether b begins with a record mark followed by an
// RPC header. more is set when b is too short to tell.
func (r *Reassembler) recordStart(b []byte) (ok, more bool) {
	if len(b) < markSize {
		return false, true
	}
	n := int(binary.BigEndian.Uint32(b) &^ lastFragment)
	if n < rpc.MinHeaderSize || n > r.maxRecord {
		return false, false
	}
	frag := b[markSize:]
	if len(frag) > n {
		frag = frag[:n]
	}
	if len(frag) < n && len(frag) < minCallSize {
		return false, true
	}
	return rpc.Looks(frag), false
}

func (r *Reassembler) desync(key Key, h *half, reason string) {
	r.stats.Resyncs++
	r.log.WithFields(logrus.Fields{"flow": key.String(), "reason": reason}).Debug("lost rpc record sync")
	h.record = nil
	h.synced = false
	h.buf = h.buf[1:]
}

// Remove forgets the state of one direction.
func (r *Reassembler) Remove(key Key) {
	delete(r.halves, key)
}

// Len returns the number of directions with state.
func (r *Reassembler) Len() int {
	return len(r.halves)
}

// Stats returns the event counters.
func (r *Reassembler) Stats() Stats {
	return r.stats
}

// Reset clears all state and counters.
func (r *Reassembler) Reset() {
	r.halves = make(map[Key]*half)
	r.stats = Stats{}
}

// Package parser turns captured frames into layered packets: link, IP and
// transport headers through gopacket, RPC records through the stream
// reassembler, and program bodies through package nfs.
package parser

import (
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"nfstrace/internal/capture"
	"nfstrace/internal/flow"
	"nfstrace/internal/nfs"
	"nfstrace/internal/packet"
	"nfstrace/internal/rpc"
	"nfstrace/internal/stream"
)

// Config controls decoding.
type Config struct {
	// DecodeReplies enables program decoding of replies. When false only
	// the RPC header of a reply is decoded.
	DecodeReplies bool
	// MaxRecordSize bounds a reassembled RPC record.
	MaxRecordSize int
	Logger        logrus.FieldLogger
}

// Decoder decodes the frames of one merged stream. TCP reassembly state is
// kept between calls, so a Decoder must see the frames in stream order. It
// is not safe for concurrent use.
type Decoder struct {
	cfg     Config
	streams *stream.Reassembler
	log     logrus.FieldLogger
}

// NewDecoder creates a decoder.
func NewDecoder(cfg Config) *Decoder {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Decoder{
		cfg:     cfg,
		streams: stream.NewReassembler(cfg.MaxRecordSize, cfg.Logger),
		log:     cfg.Logger,
	}
}

type decodedLayer struct {
	tag   packet.Layer
	value packet.Value
}

// Decode decodes a frame. It always returns at least one packet: one per
// complete RPC record found in the frame, or a single packet holding the
// lower layers when there is none. Call bodies are decoded immediately;
// reply bodies wait for DecodeBody once the call is known.
func (d *Decoder) Decode(frame *capture.Frame) []*packet.Packet {
	pkt := gopacket.NewPacket(frame.Data, frame.LinkType, gopacket.DecodeOptions{NoCopy: true})

	var lower []decodedLayer
	var tcp *layers.TCP
	var udp *layers.UDP
	for _, l := range pkt.Layers() {
		switch v := l.(type) {
		case *layers.Ethernet:
			lower = append(lower, decodedLayer{packet.LayerEthernet, &linkLayer{eth: v}})
		case *layers.LinuxSLL:
			lower = append(lower, decodedLayer{packet.LayerEthernet, &linkLayer{sll: v}})
		case *layers.IPv4:
			lower = append(lower, decodedLayer{packet.LayerIP, &ipLayer{v4: v}})
		case *layers.IPv6:
			lower = append(lower, decodedLayer{packet.LayerIP, &ipLayer{v6: v}})
		case *layers.TCP:
			tcp = v
			lower = append(lower, decodedLayer{packet.LayerTCP, &tcpLayer{tcp: v}})
		case *layers.UDP:
			udp = v
			lower = append(lower, decodedLayer{packet.LayerUDP, &udpLayer{udp: v}})
		}
	}

	tuple := ExtractFlowTuple(pkt)
	base := d.newPacket(frame, lower, tuple, 0)
	if errLayer := pkt.ErrorLayer(); errLayer != nil {
		base.DecodeErr = packet.NewDecodeError(failedLayer(lower), errLayer.Error())
		return []*packet.Packet{base}
	}

	var records [][]byte
	switch {
	case tcp != nil:
		key := streamKey(tuple)
		seq := tcp.Seq
		if tcp.SYN {
			d.streams.Syn(key, seq)
			seq++
		}
		records = d.streams.Feed(key, seq, tcp.Payload)
		if tcp.FIN || tcp.RST {
			d.streams.Remove(key)
			if tcp.RST {
				d.streams.Remove(key.Reverse())
			}
		}
	case udp != nil:
		if rpc.Looks(udp.Payload) {
			records = [][]byte{udp.Payload}
		}
	}
	if len(records) == 0 {
		return []*packet.Packet{base}
	}

	out := make([]*packet.Packet, len(records))
	for i, rec := range records {
		p := base
		if i > 0 {
			p = d.newPacket(frame, lower, tuple, i)
		}
		d.decodeRecord(p, rec)
		out[i] = p
	}
	return out
}

func (d *Decoder) newPacket(frame *capture.Frame, lower []decodedLayer, tuple flow.Tuple, record int) *packet.Packet {
	p := packet.New(frame)
	p.Record = record
	p.Tuple = tuple
	p.Conn = tuple.ConnID()
	for _, l := range lower {
		p.Add(l.tag, l.value)
	}
	return p
}

// failedLayer guesses the layer gopacket stopped at from the layers that
// did decode.
func failedLayer(lower []decodedLayer) packet.Layer {
	if len(lower) == 0 {
		return packet.LayerEthernet
	}
	switch lower[len(lower)-1].tag {
	case packet.LayerEthernet:
		return packet.LayerIP
	case packet.LayerIP:
		return packet.LayerTCP
	}
	return packet.LayerRPC
}

func (d *Decoder) decodeRecord(p *packet.Packet, rec []byte) {
	msg, body, err := rpc.Decode(rec)
	if err != nil {
		p.DecodeErr = err
		return
	}
	p.Add(packet.LayerRPC, msg)
	p.RPC = msg.Info(body)
	if p.RPC.Call {
		d.DecodeBody(p)
	}
}

// DecodeBody decodes the program layer of p. Replies need the program,
// version and procedure of their call in p.RPC, so for a reply this is a
// no-op until the reply is linked. It is also a no-op for replies when
// Config.DecodeReplies is false and for denied or failed replies.
func (d *Decoder) DecodeBody(p *packet.Packet) {
	info := p.RPC
	if info == nil || !info.Accepted {
		return
	}
	if !info.Call && (!d.cfg.DecodeReplies || p.Call == nil) {
		return
	}
	tag, body, err := nfs.Decode(info, info.Body)
	if body != nil {
		p.Add(tag, body)
		if v, ok := p.Layer(packet.LayerRPC); ok {
			v.(*rpc.Message).SetProcName(body.ProcName())
		}
	}
	if err != nil && p.DecodeErr == nil {
		p.DecodeErr = err
		d.log.WithFields(logrus.Fields{
			"index": p.Index,
			"xid":   fmt.Sprintf("0x%08x", info.XID),
		}).WithError(err).Debug("program decode failed")
	}
}

// StreamStats returns the TCP reassembly counters.
func (d *Decoder) StreamStats() stream.Stats {
	return d.streams.Stats()
}

// Reset drops all reassembly state.
func (d *Decoder) Reset() {
	d.streams.Reset()
}

// HexDump formats data the way hexdump -C does.
func HexDump(data []byte) string {
	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		// Offset
		sb.WriteString(fmt.Sprintf("%04x  ", offset))

		// Hex bytes
		end := offset + 16
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < offset+16; i++ {
			if i < end {
				sb.WriteString(fmt.Sprintf("%02x ", data[i]))
			} else {
				sb.WriteString("   ")
			}
			if i == offset+7 {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(" |")

		// ASCII
		for i := offset; i < end; i++ {
			b := data[i]
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('|')
		sb.WriteByte('\n')
	}
	return sb.String()
}

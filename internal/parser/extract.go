package parser

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"nfstrace/internal/flow"
	"nfstrace/internal/stream"
)

// ExtractFlowTuple returns the addresses, ports and TCP flags of pkt. The
// tuple is invalid when pkt has no network layer.
func ExtractFlowTuple(pkt gopacket.Packet) flow.Tuple {
	var t flow.Tuple
	nl := pkt.NetworkLayer()
	if nl == nil {
		return t
	}
	src, dst := nl.NetworkFlow().Endpoints()
	t.SrcIP, t.DstIP = src.String(), dst.String()
	t.Valid = true
	switch ip := nl.(type) {
	case *layers.IPv4:
		t.Protocol = ip.Protocol.String()
	case *layers.IPv6:
		t.Protocol = ip.NextHeader.String()
	}

	switch tl := pkt.TransportLayer().(type) {
	case *layers.TCP:
		t.SrcPort, t.DstPort = uint16(tl.SrcPort), uint16(tl.DstPort)
		t.Protocol = "TCP"
		t.Flags = flow.TCPFlags{SYN: tl.SYN, ACK: tl.ACK, FIN: tl.FIN, RST: tl.RST, PSH: tl.PSH}
	case *layers.UDP:
		t.SrcPort, t.DstPort = uint16(tl.SrcPort), uint16(tl.DstPort)
		t.Protocol = "UDP"
	}
	return t
}

// streamKey is the directed reassembly key of a TCP tuple.
func streamKey(t flow.Tuple) stream.Key {
	return stream.Key{SrcIP: t.SrcIP, DstIP: t.DstIP, SrcPort: t.SrcPort, DstPort: t.DstPort}
}

package parser

import (
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"

	"nfstrace/internal/models"
)

// linkLayer is either an Ethernet II header or a Linux cooked capture
// header; both are reported as the ethernet layer.
type linkLayer struct {
	eth *layers.Ethernet
	sll *layers.LinuxSLL
}

func (l *linkLayer) Summary() string {
	if l.sll != nil {
		return fmt.Sprintf("SLL %s type %s", l.sll.Addr, l.sll.EthernetType)
	}
	return fmt.Sprintf("%s -> %s %s", l.eth.SrcMAC, l.eth.DstMAC, l.eth.EthernetType)
}

func (l *linkLayer) Detail() models.LayerDetail {
	if l.sll != nil {
		return models.LayerDetail{
			Name: "Linux cooked capture",
			Fields: []models.LayerField{
				{Name: "Packet Type", Value: l.sll.PacketType.String()},
				{Name: "Address", Value: l.sll.Addr.String()},
				{Name: "Protocol", Value: l.sll.EthernetType.String()},
			},
		}
	}
	return models.LayerDetail{
		Name: "Ethernet II",
		Fields: []models.LayerField{
			{Name: "Source", Value: l.eth.SrcMAC.String()},
			{Name: "Destination", Value: l.eth.DstMAC.String()},
			{Name: "Type", Value: l.eth.EthernetType.String()},
		},
	}
}

func (l *linkLayer) Field(name string) (any, bool) {
	if l.sll != nil {
		switch name {
		case "src", "addr":
			return l.sll.Addr.String(), true
		case "type":
			return uint64(l.sll.EthernetType), true
		}
		return nil, false
	}
	switch name {
	case "src":
		return l.eth.SrcMAC.String(), true
	case "dst":
		return l.eth.DstMAC.String(), true
	case "type":
		return uint64(l.eth.EthernetType), true
	}
	return nil, false
}

// ipLayer wraps an IPv4 or IPv6 header.
type ipLayer struct {
	v4 *layers.IPv4
	v6 *layers.IPv6
}

func (l *ipLayer) src() string {
	if l.v4 != nil {
		return l.v4.SrcIP.String()
	}
	return l.v6.SrcIP.String()
}

func (l *ipLayer) dst() string {
	if l.v4 != nil {
		return l.v4.DstIP.String()
	}
	return l.v6.DstIP.String()
}

func (l *ipLayer) Summary() string {
	if l.v4 != nil {
		return fmt.Sprintf("%s -> %s %s ttl=%d", l.src(), l.dst(), l.v4.Protocol, l.v4.TTL)
	}
	return fmt.Sprintf("%s -> %s %s hlim=%d", l.src(), l.dst(), l.v6.NextHeader, l.v6.HopLimit)
}

func (l *ipLayer) Detail() models.LayerDetail {
	if ip := l.v4; ip != nil {
		return models.LayerDetail{
			Name: "IPv4",
			Fields: []models.LayerField{
				{Name: "Version", Value: fmt.Sprintf("%d", ip.Version)},
				{Name: "Header Length", Value: fmt.Sprintf("%d bytes", ip.IHL*4)},
				{Name: "Type of Service", Value: fmt.Sprintf("0x%02x", ip.TOS)},
				{Name: "Total Length", Value: fmt.Sprintf("%d", ip.Length)},
				{Name: "Identification", Value: fmt.Sprintf("0x%04x (%d)", ip.Id, ip.Id)},
				{Name: "Flags", Value: ip.Flags.String()},
				{Name: "Fragment Offset", Value: fmt.Sprintf("%d", ip.FragOffset)},
				{Name: "TTL", Value: fmt.Sprintf("%d", ip.TTL)},
				{Name: "Protocol", Value: ip.Protocol.String()},
				{Name: "Checksum", Value: fmt.Sprintf("0x%04x", ip.Checksum)},
				{Name: "Source", Value: ip.SrcIP.String()},
				{Name: "Destination", Value: ip.DstIP.String()},
			},
		}
	}
	ip := l.v6
	return models.LayerDetail{
		Name: "IPv6",
		Fields: []models.LayerField{
			{Name: "Version", Value: fmt.Sprintf("%d", ip.Version)},
			{Name: "Traffic Class", Value: fmt.Sprintf("0x%02x", ip.TrafficClass)},
			{Name: "Flow Label", Value: fmt.Sprintf("0x%05x", ip.FlowLabel)},
			{Name: "Payload Length", Value: fmt.Sprintf("%d", ip.Length)},
			{Name: "Next Header", Value: ip.NextHeader.String()},
			{Name: "Hop Limit", Value: fmt.Sprintf("%d", ip.HopLimit)},
			{Name: "Source", Value: ip.SrcIP.String()},
			{Name: "Destination", Value: ip.DstIP.String()},
		},
	}
}

func (l *ipLayer) Field(name string) (any, bool) {
	switch name {
	case "src":
		return l.src(), true
	case "dst":
		return l.dst(), true
	case "version":
		if l.v4 != nil {
			return uint64(4), true
		}
		return uint64(6), true
	}
	if ip := l.v4; ip != nil {
		switch name {
		case "ttl":
			return uint64(ip.TTL), true
		case "id":
			return uint64(ip.Id), true
		case "len", "length":
			return uint64(ip.Length), true
		case "proto", "protocol":
			return uint64(ip.Protocol), true
		}
		return nil, false
	}
	switch name {
	case "ttl", "hlim":
		return uint64(l.v6.HopLimit), true
	case "len", "length":
		return uint64(l.v6.Length), true
	case "proto", "protocol":
		return uint64(l.v6.NextHeader), true
	}
	return nil, false
}

type tcpLayer struct {
	tcp *layers.TCP
}

func (l *tcpLayer) flags() string {
	tcp := l.tcp
	flagParts := []string{}
	if tcp.SYN {
		flagParts = append(flagParts, "SYN")
	}
	if tcp.ACK {
		flagParts = append(flagParts, "ACK")
	}
	if tcp.FIN {
		flagParts = append(flagParts, "FIN")
	}
	if tcp.RST {
		flagParts = append(flagParts, "RST")
	}
	if tcp.PSH {
		flagParts = append(flagParts, "PSH")
	}
	if tcp.URG {
		flagParts = append(flagParts, "URG")
	}
	return strings.Join(flagParts, ",")
}

func (l *tcpLayer) Summary() string {
	tcp := l.tcp
	return fmt.Sprintf("%d -> %d [%s] Seq=%d Ack=%d Win=%d Len=%d",
		tcp.SrcPort, tcp.DstPort, l.flags(), tcp.Seq, tcp.Ack, tcp.Window, len(tcp.Payload))
}

func (l *tcpLayer) Detail() models.LayerDetail {
	tcp := l.tcp
	return models.LayerDetail{
		Name: "TCP",
		Fields: []models.LayerField{
			{Name: "Source Port", Value: fmt.Sprintf("%d", tcp.SrcPort)},
			{Name: "Destination Port", Value: fmt.Sprintf("%d", tcp.DstPort)},
			{Name: "Sequence Number", Value: fmt.Sprintf("%d", tcp.Seq)},
			{Name: "Acknowledgment Number", Value: fmt.Sprintf("%d", tcp.Ack)},
			{Name: "Data Offset", Value: fmt.Sprintf("%d bytes", tcp.DataOffset*4)},
			{Name: "Flags", Value: fmt.Sprintf("[%s]", l.flags())},
			{Name: "Window Size", Value: fmt.Sprintf("%d", tcp.Window)},
			{Name: "Checksum", Value: fmt.Sprintf("0x%04x", tcp.Checksum)},
			{Name: "Payload Length", Value: fmt.Sprintf("%d", len(tcp.Payload))},
		},
	}
}

func (l *tcpLayer) Field(name string) (any, bool) {
	tcp := l.tcp
	switch name {
	case "sport", "srcport":
		return uint64(tcp.SrcPort), true
	case "dport", "dstport":
		return uint64(tcp.DstPort), true
	case "seq":
		return uint64(tcp.Seq), true
	case "ack_seq":
		return uint64(tcp.Ack), true
	case "win", "window":
		return uint64(tcp.Window), true
	case "len":
		return uint64(len(tcp.Payload)), true
	case "flags":
		return l.flags(), true
	case "syn":
		return tcp.SYN, true
	case "ack":
		return tcp.ACK, true
	case "fin":
		return tcp.FIN, true
	case "rst":
		return tcp.RST, true
	case "psh":
		return tcp.PSH, true
	}
	return nil, false
}

type udpLayer struct {
	udp *layers.UDP
}

func (l *udpLayer) Summary() string {
	return fmt.Sprintf("%d -> %d Len=%d", l.udp.SrcPort, l.udp.DstPort, l.udp.Length)
}

func (l *udpLayer) Detail() models.LayerDetail {
	udp := l.udp
	return models.LayerDetail{
		Name: "UDP",
		Fields: []models.LayerField{
			{Name: "Source Port", Value: fmt.Sprintf("%d", udp.SrcPort)},
			{Name: "Destination Port", Value: fmt.Sprintf("%d", udp.DstPort)},
			{Name: "Length", Value: fmt.Sprintf("%d", udp.Length)},
			{Name: "Checksum", Value: fmt.Sprintf("0x%04x", udp.Checksum)},
		},
	}
}

func (l *udpLayer) Field(name string) (any, bool) {
	switch name {
	case "sport", "srcport":
		return uint64(l.udp.SrcPort), true
	case "dport", "dstport":
		return uint64(l.udp.DstPort), true
	case "len", "length":
		return uint64(l.udp.Length), true
	}
	return nil, false
}

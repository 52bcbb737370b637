// Package pcaptest builds capture files for tests: Ethernet/IPv4 frames
// carrying ONC RPC over TCP or UDP, written with pcapgo.
package pcaptest

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/require"
)

// Base is the timestamp of the first frame in most fixtures.
var Base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// At returns Base plus ms milliseconds.
func At(ms int) time.Time {
	return Base.Add(time.Duration(ms) * time.Millisecond)
}

// Endpoint is one side of a connection.
type Endpoint struct {
	IP   string
	Port uint16
}

// Common endpoints.
var (
	Client  = Endpoint{IP: "10.0.0.1", Port: 800}
	Client2 = Endpoint{IP: "10.0.0.3", Port: 801}
	Server  = Endpoint{IP: "10.0.0.2", Port: 2049}
)

// Frame is one captured frame.
type Frame struct {
	TS   time.Time
	Data []byte
}

// XDR encodes values back to back.
func XDR(t testing.TB, vals ...any) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, v := range vals {
		_, err := xdr.Marshal(&buf, v)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

type callHeader struct {
	XID        uint32
	Type       uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	CredFlavor uint32
	Cred       []byte
	VerfFlavor uint32
	Verf       []byte
}

type replyHeader struct {
	XID        uint32
	Type       uint32
	Stat       uint32
	VerfFlavor uint32
	Verf       []byte
	AcceptStat uint32
}

// Call encodes an RPC call with AUTH_NULL credentials followed by args.
func Call(t testing.TB, xid, prog, vers, proc uint32, args []byte) []byte {
	t.Helper()
	h := XDR(t, callHeader{
		XID: xid, Type: 0, RPCVersion: 2,
		Program: prog, Version: vers, Procedure: proc,
		Cred: []byte{}, Verf: []byte{},
	})
	return append(h, args...)
}

// Reply encodes an accepted RPC reply with the given accept status
// followed by results.
func Reply(t testing.TB, xid, acceptStat uint32, results []byte) []byte {
	t.Helper()
	h := XDR(t, replyHeader{XID: xid, Type: 1, AcceptStat: acceptStat, Verf: []byte{}})
	return append(h, results...)
}

// Record prefixes msg with a last-fragment record mark.
func Record(msg []byte) []byte {
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out, 0x80000000|uint32(len(msg)))
	copy(out[4:], msg)
	return out
}

// TCPFlags selects the flags of a TCP frame.
type TCPFlags struct {
	SYN, ACK, PSH, FIN, RST bool
}

var (
	srcMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 1}
	dstMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 2}
)

// TCP builds an Ethernet/IPv4/TCP frame.
func TCP(t testing.TB, src, dst Endpoint, seq uint32, flags TCPFlags, payload []byte) []byte {
	t.Helper()
	ip := ipv4(src, dst, layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port),
		DstPort: layers.TCPPort(dst.Port),
		Seq:     seq,
		Ack:     1,
		Window:  65535,
		SYN:     flags.SYN,
		ACK:     flags.ACK,
		PSH:     flags.PSH,
		FIN:     flags.FIN,
		RST:     flags.RST,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(), ip, tcp, gopacket.Payload(payload))
}

// UDP builds an Ethernet/IPv4/UDP frame.
func UDP(t testing.TB, src, dst Endpoint, payload []byte) []byte {
	t.Helper()
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port), DstPort: layers.UDPPort(dst.Port)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, ethernet(), ip, udp, gopacket.Payload(payload))
}

func ethernet() *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
}

func ipv4(src, dst Endpoint, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src.IP).To4(),
		DstIP:    net.ParseIP(dst.IP).To4(),
	}
}

func serialize(t testing.TB, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, ls...))
	return append([]byte(nil), buf.Bytes()...)
}

// Conn tracks sequence numbers of a TCP connection so consecutive segments
// line up.
type Conn struct {
	t         testing.TB
	Client    Endpoint
	Server    Endpoint
	clientSeq uint32
	serverSeq uint32
}

// NewConn starts a connection between client and server. No segment is
// emitted until Handshake, Send or Recv is called.
func NewConn(t testing.TB, client, server Endpoint) *Conn {
	return &Conn{t: t, Client: client, Server: server, clientSeq: 1000, serverSeq: 5000}
}

// Handshake returns the SYN, SYN-ACK and ACK segments opening the
// connection. Data from Send and Recv follows them in sequence.
func (c *Conn) Handshake(ts time.Time) []Frame {
	c.t.Helper()
	return []Frame{
		{TS: ts, Data: TCP(c.t, c.Client, c.Server, c.clientSeq-1, TCPFlags{SYN: true}, nil)},
		{TS: ts, Data: TCP(c.t, c.Server, c.Client, c.serverSeq-1, TCPFlags{SYN: true, ACK: true}, nil)},
		{TS: ts, Data: TCP(c.t, c.Client, c.Server, c.clientSeq, TCPFlags{ACK: true}, nil)},
	}
}

// Send returns a client to server segment carrying payload.
func (c *Conn) Send(ts time.Time, payload []byte) Frame {
	c.t.Helper()
	f := Frame{TS: ts, Data: TCP(c.t, c.Client, c.Server, c.clientSeq, TCPFlags{ACK: true, PSH: true}, payload)}
	c.clientSeq += uint32(len(payload))
	return f
}

// Recv returns a server to client segment carrying payload.
func (c *Conn) Recv(ts time.Time, payload []byte) Frame {
	c.t.Helper()
	f := Frame{TS: ts, Data: TCP(c.t, c.Server, c.Client, c.serverSeq, TCPFlags{ACK: true, PSH: true}, payload)}
	c.serverSeq += uint32(len(payload))
	return f
}

// Fin returns a segment closing one direction. fromClient selects which.
func (c *Conn) Fin(ts time.Time, fromClient bool) Frame {
	c.t.Helper()
	flags := TCPFlags{ACK: true, FIN: true}
	if fromClient {
		f := Frame{TS: ts, Data: TCP(c.t, c.Client, c.Server, c.clientSeq, flags, nil)}
		c.clientSeq++
		return f
	}
	f := Frame{TS: ts, Data: TCP(c.t, c.Server, c.Client, c.serverSeq, flags, nil)}
	c.serverSeq++
	return f
}

// Write stores frames in a new pcap file under the test's temp dir and
// returns its path.
func Write(t testing.TB, name string, frames ...Frame) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for _, fr := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     fr.TS,
			CaptureLength: len(fr.Data),
			Length:        len(fr.Data),
		}
		require.NoError(t, w.WritePacket(ci, fr.Data))
	}
	return path
}

// WriteRaw stores data as a file under the test's temp dir.
func WriteRaw(t testing.TB, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

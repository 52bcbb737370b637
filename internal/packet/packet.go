package packet

import (
	"fmt"
	"strings"

	"nfstrace/internal/capture"
	"nfstrace/internal/flow"
	"nfstrace/internal/models"
)

// TimeFormat is the layout used for packet timestamps.
const TimeFormat = "15:04:05.000000"

// RPCInfo is the part of the RPC header the correlator and the program
// decoders work from. Program, Version and Procedure of a reply are copied
// from its call once the two are linked.
type RPCInfo struct {
	XID       uint32
	Call      bool
	Program   uint32
	Version   uint32
	Procedure uint32
	// Accepted is false for denied replies and replies with a non-zero
	// accept status; such replies carry no program body.
	Accepted bool
	// Body is the program payload following the RPC header.
	Body []byte
}

// Packet is the decoded, layered view of one frame. A frame carrying more
// than one RPC record yields one packet per record.
type Packet struct {
	// Index is the 1-based position in the merged stream.
	Index int
	Frame *capture.Frame
	// Record is the 0-based position of the RPC record within the frame.
	Record int
	Tuple  flow.Tuple
	Conn   flow.ConnID
	RPC    *RPCInfo

	// Call and Reply link the two halves of an RPC exchange.
	Call  *Packet
	Reply *Packet
	// Retransmits holds earlier calls with the same connection and xid that
	// were replaced by this one before a reply was seen.
	Retransmits []*Packet

	DecodeErr error

	layers map[Layer]Value
	order  []Layer

	summary string
	lines   string
	detail  string
}

// New creates an empty packet for frame.
func New(frame *capture.Frame) *Packet {
	return &Packet{Frame: frame, layers: make(map[Layer]Value)}
}

// Add attaches a decoded layer. Adding the same tag twice replaces it.
func (p *Packet) Add(l Layer, v Value) {
	if _, ok := p.layers[l]; !ok {
		p.order = append(p.order, l)
	}
	p.layers[l] = v
	p.invalidate()
}

// Layer returns the decoded layer l.
func (p *Packet) Layer(l Layer) (Value, bool) {
	v, ok := p.layers[l]
	return v, ok
}

// Has reports whether the packet carries layer l.
func (p *Packet) Has(l Layer) bool {
	_, ok := p.layers[l]
	return ok
}

// Layers returns the decoded layer tags in decode order.
func (p *Packet) Layers() []Layer {
	return append([]Layer(nil), p.order...)
}

// LayerNames returns the names of the decoded layers in decode order.
func (p *Packet) LayerNames() []string {
	names := make([]string, len(p.order))
	for i, l := range p.order {
		names[i] = l.String()
	}
	return names
}

// Top returns the highest decoded layer.
func (p *Packet) Top() (Layer, Value, bool) {
	if len(p.order) == 0 {
		return 0, nil, false
	}
	l := p.order[len(p.order)-1]
	return l, p.layers[l], true
}

// IsCall reports whether the packet is an RPC call.
func (p *Packet) IsCall() bool {
	return p.RPC != nil && p.RPC.Call
}

// IsReply reports whether the packet is an RPC reply.
func (p *Packet) IsReply() bool {
	return p.RPC != nil && !p.RPC.Call
}

// ReplyMatched reports whether the call or reply has been linked to its
// other half.
func (p *Packet) ReplyMatched() bool {
	if p.IsCall() {
		return p.Reply != nil
	}
	return p.Call != nil
}

// Src returns the source address, with the port when there is one.
func (p *Packet) Src() string {
	if !p.Tuple.Valid {
		return ""
	}
	if p.Tuple.SrcPort == 0 {
		return p.Tuple.SrcIP
	}
	return fmt.Sprintf("%s:%d", p.Tuple.SrcIP, p.Tuple.SrcPort)
}

// Dst returns the destination address, with the port when there is one.
func (p *Packet) Dst() string {
	if !p.Tuple.Valid {
		return ""
	}
	if p.Tuple.DstPort == 0 {
		return p.Tuple.DstIP
	}
	return fmt.Sprintf("%s:%d", p.Tuple.DstIP, p.Tuple.DstPort)
}

// Protocol returns the display name of the highest layer.
func (p *Packet) Protocol() string {
	l, _, ok := p.Top()
	if !ok {
		return "unknown"
	}
	return strings.ToUpper(l.String())
}

// Timestamp returns the capture time formatted with TimeFormat.
func (p *Packet) Timestamp() string {
	if p.Frame == nil {
		return ""
	}
	return p.Frame.Timestamp.Format(TimeFormat)
}

// String returns the one line representation of the packet. The result is
// computed once and cached.
func (p *Packet) String() string {
	if p.summary != "" {
		return p.summary
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d %s %s -> %s %s", p.Index, p.Timestamp(), p.Src(), p.Dst(), p.Protocol())
	if _, v, ok := p.Top(); ok {
		sb.WriteString(" ")
		sb.WriteString(v.Summary())
	}
	if p.IsReply() && p.Call != nil {
		fmt.Fprintf(&sb, " (call %d)", p.Call.Index)
	}
	if p.DecodeErr != nil {
		fmt.Fprintf(&sb, " [%v]", p.DecodeErr)
	}
	p.summary = sb.String()
	return p.summary
}

// Lines returns one line per decoded layer.
func (p *Packet) Lines() string {
	if p.lines != "" {
		return p.lines
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet %d (frame %d of source %d) %s\n", p.Index, p.frameSeq(), p.source(), p.Timestamp())
	for _, l := range p.order {
		fmt.Fprintf(&sb, "    %-8s %s\n", strings.ToUpper(l.String()), p.layers[l].Summary())
	}
	if p.DecodeErr != nil {
		fmt.Fprintf(&sb, "    ERROR    %v\n", p.DecodeErr)
	}
	p.lines = sb.String()
	return p.lines
}

// Detail returns the full field tree of every layer as indented text.
func (p *Packet) Detail() string {
	if p.detail != "" {
		return p.detail
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet %d (frame %d of source %d) %s\n", p.Index, p.frameSeq(), p.source(), p.Timestamp())
	for _, d := range p.Details() {
		fmt.Fprintf(&sb, "  %s\n", d.Name)
		writeFields(&sb, d.Fields, 2)
	}
	if p.DecodeErr != nil {
		fmt.Fprintf(&sb, "  Error: %v\n", p.DecodeErr)
	}
	p.detail = sb.String()
	return p.detail
}

// Details returns the layer detail trees in decode order.
func (p *Packet) Details() []models.LayerDetail {
	out := make([]models.LayerDetail, 0, len(p.order))
	for _, l := range p.order {
		out = append(out, p.layers[l].Detail())
	}
	return out
}

// invalidate drops the cached display strings when a layer is added.
func (p *Packet) invalidate() {
	p.summary, p.lines, p.detail = "", "", ""
}

func (p *Packet) frameSeq() int {
	if p.Frame == nil {
		return 0
	}
	return p.Frame.Seq
}

func (p *Packet) source() int {
	if p.Frame == nil {
		return 0
	}
	return p.Frame.Source
}

func writeFields(sb *strings.Builder, fields []models.LayerField, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		if f.Value == "" && len(f.Children) > 0 {
			fmt.Fprintf(sb, "%s%s:\n", indent, f.Name)
		} else {
			fmt.Fprintf(sb, "%s%s: %s\n", indent, f.Name, f.Value)
		}
		writeFields(sb, f.Children, depth+1)
	}
}

package packet

import (
	"strings"
)

// Field resolves a dotted field name against the packet. Top level names
// are index, time, source, frame, length, caplen, src, dst and protocol;
// everything else is "<layer>.<field>" where layer is a Layer name. "nfs"
// selects whichever of NFSv4 or NFSv3 the packet carries. The rpc layer
// additionally exposes "matched", "call_index" and "reply_index".
func (p *Packet) Field(name string) (any, bool) {
	switch name {
	case "index":
		return int64(p.Index), true
	case "record":
		return int64(p.Record), true
	case "time":
		if p.Frame == nil {
			return nil, false
		}
		return float64(p.Frame.Timestamp.UnixNano()) / 1e9, true
	case "source":
		if p.Frame == nil {
			return nil, false
		}
		return int64(p.Frame.Source), true
	case "frame":
		if p.Frame == nil {
			return nil, false
		}
		return int64(p.Frame.Seq), true
	case "length":
		if p.Frame == nil {
			return nil, false
		}
		return int64(p.Frame.Length), true
	case "caplen":
		if p.Frame == nil {
			return nil, false
		}
		return int64(p.Frame.CaptureLength), true
	case "src":
		return p.Src(), p.Tuple.Valid
	case "dst":
		return p.Dst(), p.Tuple.Valid
	case "protocol":
		return p.Protocol(), true
	case "conn":
		return p.Conn.String(), !p.Conn.IsZero()
	}

	prefix, rest, ok := strings.Cut(name, ".")
	if !ok {
		// A bare layer name tests for presence.
		if l, ok := p.layerByName(name); ok {
			return p.Has(l), true
		}
		return nil, false
	}

	if prefix == "rpc" && p.RPC != nil {
		switch rest {
		case "matched":
			return p.ReplyMatched(), true
		case "call_index":
			if p.Call == nil {
				return int64(0), true
			}
			return int64(p.Call.Index), true
		case "reply_index":
			if p.Reply == nil {
				return int64(0), true
			}
			return int64(p.Reply.Index), true
		case "retransmits":
			return int64(len(p.Retransmits)), true
		}
		if !p.RPC.Call && p.Call != nil {
			// Replies carry no program numbers; answer from the call.
			switch rest {
			case "program", "prog":
				return uint64(p.RPC.Program), true
			case "vers":
				return uint64(p.RPC.Version), true
			case "procedure", "proc":
				return uint64(p.RPC.Procedure), true
			}
		}
	}

	l, ok := p.layerByName(prefix)
	if !ok {
		return nil, false
	}
	v, ok := p.layers[l]
	if !ok {
		return nil, false
	}
	return v.Field(rest)
}

func (p *Packet) layerByName(name string) (Layer, bool) {
	if name == "nfs" {
		if p.Has(LayerNFSv4) {
			return LayerNFSv4, true
		}
		return LayerNFSv3, true
	}
	return ParseLayer(name)
}

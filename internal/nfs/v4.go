package nfs

import (
	"fmt"
	"strings"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/xdr"
)

// Op is one operation of a COMPOUND request or reply.
type Op struct {
	Op     uint32
	Status uint32
	// Values holds the decoded arguments or results by field name.
	Values map[string]any
	order  []string
}

// Name returns the operation name.
func (o *Op) Name() string {
	return OpName(o.Op)
}

func (o *Op) set(name string, v any) {
	if o.Values == nil {
		o.Values = make(map[string]any)
	}
	if _, ok := o.Values[name]; !ok {
		o.order = append(o.order, name)
	}
	o.Values[name] = v
}

// NFSv4 is a decoded NFSv4 COMPOUND call or reply.
type NFSv4 struct {
	Call         bool
	Procedure    uint32
	Tag          string
	MinorVersion uint32
	// Status is the COMPOUND status of a reply.
	Status uint32
	// Count is the number of operations announced on the wire; Ops may
	// hold fewer when Partial is set.
	Count int
	Ops   []Op
	// Partial is set when an operation this package cannot decode stopped
	// the walk through the operation list.
	Partial bool
}

type opDecoder func(r *xdr.Reader, op *Op)

var argDecoders = map[uint32]opDecoder{
	OpAccess: func(r *xdr.Reader, op *Op) {
		op.set("access", uint64(r.Uint32()))
	},
	OpClose: func(r *xdr.Reader, op *Op) {
		var a struct {
			Seqid   uint32
			Stateid stateid4
		}
		r.Unmarshal(&a)
		op.set("seqid", uint64(a.Seqid))
		op.set("stateid", a.Stateid.String())
	},
	OpCommit: func(r *xdr.Reader, op *Op) {
		var a struct {
			Offset uint64
			Count  uint32
		}
		r.Unmarshal(&a)
		op.set("offset", a.Offset)
		op.set("count", uint64(a.Count))
	},
	OpGetattr: func(r *xdr.Reader, op *Op) {
		op.set("bitmap", fmt.Sprintf("%v", r.Uint32s(maxBitmap)))
	},
	OpGetfh:     voidOp,
	OpLookupp:   voidOp,
	OpPutpubfh:  voidOp,
	OpPutrootfh: voidOp,
	OpRestorefh: voidOp,
	OpSavefh:    voidOp,
	OpLookup: func(r *xdr.Reader, op *Op) {
		op.set("name", string(r.LimitedOpaque(maxName)))
	},
	OpRemove: func(r *xdr.Reader, op *Op) {
		op.set("name", string(r.LimitedOpaque(maxName)))
	},
	OpPutfh: func(r *xdr.Reader, op *Op) {
		op.set("fh", FHHash(r.LimitedOpaque(maxFH)))
	},
	OpRead: func(r *xdr.Reader, op *Op) {
		var a struct {
			Stateid stateid4
			Offset  uint64
			Count   uint32
		}
		r.Unmarshal(&a)
		op.set("stateid", a.Stateid.String())
		op.set("offset", a.Offset)
		op.set("count", uint64(a.Count))
	},
	OpRenew: func(r *xdr.Reader, op *Op) {
		op.set("clientid", fmt.Sprintf("0x%016x", r.Uint64()))
	},
	OpWrite: func(r *xdr.Reader, op *Op) {
		var a struct {
			Stateid stateid4
			Offset  uint64
			Stable  uint32
		}
		r.Unmarshal(&a)
		data := r.Opaque()
		op.set("stateid", a.Stateid.String())
		op.set("offset", a.Offset)
		op.set("stable", uint64(a.Stable))
		op.set("count", uint64(len(data)))
	},
	OpSequence: func(r *xdr.Reader, op *Op) {
		var a struct {
			SessionID     [16]byte
			SequenceID    uint32
			SlotID        uint32
			HighestSlotID uint32
			CacheThis     bool
		}
		r.Unmarshal(&a)
		op.set("sessionid", fmt.Sprintf("%x", a.SessionID[:]))
		op.set("seqid", uint64(a.SequenceID))
		op.set("slotid", uint64(a.SlotID))
		op.set("highest_slotid", uint64(a.HighestSlotID))
		op.set("cachethis", a.CacheThis)
	},
	OpReclaimComplete: func(r *xdr.Reader, op *Op) {
		op.set("one_fs", r.Bool())
	},
	OpDestroySession: func(r *xdr.Reader, op *Op) {
		op.set("sessionid", fmt.Sprintf("%x", r.Fixed(16)))
	},
	OpSeek: func(r *xdr.Reader, op *Op) {
		var a struct {
			Stateid stateid4
			Offset  uint64
			What    uint32
		}
		r.Unmarshal(&a)
		op.set("stateid", a.Stateid.String())
		op.set("offset", a.Offset)
		op.set("what", seekWhat(a.What))
	},
}

var resDecoders = map[uint32]opDecoder{
	OpAccess: func(r *xdr.Reader, op *Op) {
		op.set("supported", uint64(r.Uint32()))
		op.set("access", uint64(r.Uint32()))
	},
	OpClose: func(r *xdr.Reader, op *Op) {
		var s stateid4
		r.Unmarshal(&s)
		op.set("stateid", s.String())
	},
	OpCommit: func(r *xdr.Reader, op *Op) {
		op.set("verifier", fmt.Sprintf("%x", r.Fixed(8)))
	},
	OpGetattr: func(r *xdr.Reader, op *Op) {
		op.set("bitmap", fmt.Sprintf("%v", r.Uint32s(maxBitmap)))
		op.set("attrlen", uint64(len(r.Opaque())))
	},
	OpGetfh: func(r *xdr.Reader, op *Op) {
		op.set("fh", FHHash(r.LimitedOpaque(maxFH)))
	},
	OpLookup:          voidOp,
	OpLookupp:         voidOp,
	OpPutfh:           voidOp,
	OpPutpubfh:        voidOp,
	OpPutrootfh:       voidOp,
	OpRestorefh:       voidOp,
	OpSavefh:          voidOp,
	OpRenew:           voidOp,
	OpReclaimComplete: voidOp,
	OpDestroySession:  voidOp,
	OpRead: func(r *xdr.Reader, op *Op) {
		op.set("eof", r.Bool())
		op.set("count", uint64(len(r.Opaque())))
	},
	OpRemove: func(r *xdr.Reader, op *Op) {
		var ci struct {
			Atomic bool
			Before uint64
			After  uint64
		}
		r.Unmarshal(&ci)
		op.set("atomic", ci.Atomic)
		op.set("change_before", ci.Before)
		op.set("change_after", ci.After)
	},
	OpWrite: func(r *xdr.Reader, op *Op) {
		var res struct {
			Count     uint32
			Committed uint32
			Verifier  [8]byte
		}
		r.Unmarshal(&res)
		op.set("count", uint64(res.Count))
		op.set("committed", uint64(res.Committed))
		op.set("verifier", fmt.Sprintf("%x", res.Verifier[:]))
	},
	OpSequence: func(r *xdr.Reader, op *Op) {
		var res struct {
			SessionID           [16]byte
			SequenceID          uint32
			SlotID              uint32
			HighestSlotID       uint32
			TargetHighestSlotID uint32
			StatusFlags         uint32
		}
		r.Unmarshal(&res)
		op.set("sessionid", fmt.Sprintf("%x", res.SessionID[:]))
		op.set("seqid", uint64(res.SequenceID))
		op.set("slotid", uint64(res.SlotID))
		op.set("highest_slotid", uint64(res.HighestSlotID))
		op.set("target_highest_slotid", uint64(res.TargetHighestSlotID))
		op.set("status_flags", uint64(res.StatusFlags))
	},
	OpSeek: func(r *xdr.Reader, op *Op) {
		op.set("eof", r.Bool())
		op.set("offset", r.Uint64())
	},
}

func voidOp(*xdr.Reader, *Op) {}

func seekWhat(w uint32) string {
	switch w {
	case 0:
		return "DATA"
	case 1:
		return "HOLE"
	}
	return fmt.Sprintf("%d", w)
}

func decodeNFSv4(info *packet.RPCInfo, body []byte) (*NFSv4, error) {
	v := &NFSv4{Call: info.Call, Procedure: info.Procedure}
	if info.Procedure != NFS4ProcCompound {
		return v, nil
	}
	r := xdr.NewReader(body)
	if info.Call {
		v.Tag = string(r.LimitedOpaque(maxName))
		v.MinorVersion = r.Uint32()
	} else {
		v.Status = r.Uint32()
		v.Tag = string(r.LimitedOpaque(maxName))
	}
	v.Count = r.Count(maxOps)
	if err := r.Err(); err != nil {
		return v, err
	}

	for i := 0; i < v.Count; i++ {
		op := Op{Op: r.Uint32()}
		decoders := argDecoders
		if !info.Call {
			op.Status = r.Uint32()
			decoders = resDecoders
		}
		if err := r.Err(); err != nil {
			return v, err
		}
		if !info.Call && op.Status != 0 {
			// A failed operation carries no result body and ends the reply.
			v.Ops = append(v.Ops, op)
			break
		}
		dec, ok := decoders[op.Op]
		if !ok {
			v.Ops = append(v.Ops, op)
			v.Partial = true
			return v, nil
		}
		dec(r, &op)
		if err := r.Err(); err != nil {
			return v, fmt.Errorf("%s: %w", op.Name(), err)
		}
		v.Ops = append(v.Ops, op)
	}
	return v, nil
}

// OpNames returns the operation names in order.
func (v *NFSv4) OpNames() []string {
	names := make([]string, len(v.Ops))
	for i := range v.Ops {
		names[i] = v.Ops[i].Name()
	}
	return names
}

// Main returns the operation that characterizes the COMPOUND: the first
// one that is not a session or file handle setup operation.
func (v *NFSv4) Main() *Op {
	for i := range v.Ops {
		switch v.Ops[i].Op {
		case OpSequence, OpPutfh, OpPutpubfh, OpPutrootfh, OpSavefh, OpRestorefh:
			continue
		}
		return &v.Ops[i]
	}
	if len(v.Ops) > 0 {
		return &v.Ops[0]
	}
	return nil
}

// ProcName returns the procedure name, or the main operation of a COMPOUND.
func (v *NFSv4) ProcName() string {
	if v.Procedure != NFS4ProcCompound {
		return "NULL"
	}
	if m := v.Main(); m != nil {
		return m.Name()
	}
	return "COMPOUND"
}

func (v *NFSv4) Summary() string {
	if v.Procedure != NFS4ProcCompound {
		return "NULL"
	}
	var sb strings.Builder
	if !v.Call {
		sb.WriteString(Nfs4StatName(v.Status))
		sb.WriteString(" ")
	}
	for i := range v.Ops {
		if i > 0 {
			sb.WriteString(";")
		}
		op := &v.Ops[i]
		sb.WriteString(op.Name())
		if !v.Call && op.Status != 0 {
			fmt.Fprintf(&sb, " %s", Nfs4StatName(op.Status))
		}
	}
	if v.Partial {
		sb.WriteString(" ...")
	}
	return sb.String()
}

func (v *NFSv4) Detail() models.LayerDetail {
	fields := []models.LayerField{
		models.Field("Procedure", fmt.Sprintf("%d", v.Procedure)),
	}
	if v.Procedure == NFS4ProcCompound {
		if v.Call {
			fields = append(fields, models.Field("Minor Version", fmt.Sprintf("%d", v.MinorVersion)))
		} else {
			fields = append(fields, models.Field("Status", fmt.Sprintf("%s (%d)", Nfs4StatName(v.Status), v.Status)))
		}
		fields = append(fields,
			models.Field("Tag", v.Tag),
			models.Field("Operations", fmt.Sprintf("%d", v.Count)),
		)
		for i := range v.Ops {
			op := &v.Ops[i]
			of := models.LayerField{Name: fmt.Sprintf("Opcode: %s (%d)", op.Name(), op.Op)}
			if !v.Call {
				of.Children = append(of.Children, models.Field("Status", Nfs4StatName(op.Status)))
			}
			for _, k := range op.order {
				of.Children = append(of.Children, models.Field(k, fmt.Sprintf("%v", op.Values[k])))
			}
			fields = append(fields, of)
		}
		if v.Partial {
			fields = append(fields, models.Field("Truncated", "remaining operations not decoded"))
		}
	}
	return models.LayerDetail{Name: "Network File System v4", Fields: fields}
}

func (v *NFSv4) Field(name string) (any, bool) {
	switch name {
	case "proc", "procedure":
		return uint64(v.Procedure), true
	case "tag":
		return v.Tag, true
	case "minorversion":
		return uint64(v.MinorVersion), v.Call
	case "status":
		return uint64(v.Status), !v.Call
	case "status_name":
		return Nfs4StatName(v.Status), !v.Call
	case "op", "procname":
		return v.ProcName(), true
	case "ops":
		return strings.Join(v.OpNames(), ","), true
	case "nops":
		return uint64(v.Count), true
	case "partial":
		return v.Partial, true
	}
	// Anything else is looked up in the operations, main one first.
	if m := v.Main(); m != nil {
		if val, ok := m.Values[name]; ok {
			return val, true
		}
	}
	for i := range v.Ops {
		if val, ok := v.Ops[i].Values[name]; ok {
			return val, true
		}
	}
	return nil, false
}

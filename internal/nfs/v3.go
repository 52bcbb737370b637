package nfs

import (
	"fmt"
	"strings"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/xdr"
)

const (
	fattr3Size  = 84
	wccAttrSize = 24
)

// NFSv3 is a decoded NFSv3 call or reply. Only the fields that identify
// the request are decoded; attributes are skipped.
type NFSv3 struct {
	Call      bool
	Procedure uint32
	FH        []byte
	Name      string
	// ToFH and ToName are the target of RENAME and LINK.
	ToFH   []byte
	ToName string
	Offset uint64
	Count  uint32
	Stable uint32
	Access uint32
	Status uint32
	EOF    bool
}

func decodeNFSv3(info *packet.RPCInfo, body []byte) (*NFSv3, error) {
	v := &NFSv3{Call: info.Call, Procedure: info.Procedure}
	r := xdr.NewReader(body)
	if info.Call {
		v.decodeArgs(r)
	} else {
		v.decodeResults(r)
	}
	return v, r.Err()
}

func (v *NFSv3) decodeArgs(r *xdr.Reader) {
	switch v.Procedure {
	case NFS3ProcNull:
	case NFS3ProcGetattr, NFS3ProcSetattr, NFS3ProcReadlink, NFS3ProcFsstat,
		NFS3ProcFsinfo, NFS3ProcPathconf, NFS3ProcReaddir, NFS3ProcReaddirplus:
		v.FH = r.LimitedOpaque(maxFH)
	case NFS3ProcLookup, NFS3ProcRemove, NFS3ProcRmdir, NFS3ProcCreate,
		NFS3ProcMkdir, NFS3ProcSymlink, NFS3ProcMknod:
		v.FH = r.LimitedOpaque(maxFH)
		v.Name = string(r.LimitedOpaque(maxName))
	case NFS3ProcAccess:
		v.FH = r.LimitedOpaque(maxFH)
		v.Access = r.Uint32()
	case NFS3ProcRead:
		v.FH = r.LimitedOpaque(maxFH)
		v.Offset = r.Uint64()
		v.Count = r.Uint32()
	case NFS3ProcWrite:
		v.FH = r.LimitedOpaque(maxFH)
		v.Offset = r.Uint64()
		v.Count = r.Uint32()
		v.Stable = r.Uint32()
	case NFS3ProcCommit:
		v.FH = r.LimitedOpaque(maxFH)
		v.Offset = r.Uint64()
		v.Count = r.Uint32()
	case NFS3ProcRename:
		v.FH = r.LimitedOpaque(maxFH)
		v.Name = string(r.LimitedOpaque(maxName))
		v.ToFH = r.LimitedOpaque(maxFH)
		v.ToName = string(r.LimitedOpaque(maxName))
	case NFS3ProcLink:
		v.FH = r.LimitedOpaque(maxFH)
		v.ToFH = r.LimitedOpaque(maxFH)
		v.ToName = string(r.LimitedOpaque(maxName))
	}
}

func (v *NFSv3) decodeResults(r *xdr.Reader) {
	if v.Procedure == NFS3ProcNull {
		return
	}
	v.Status = r.Uint32()
	if v.Status != 0 {
		return
	}
	switch v.Procedure {
	case NFS3ProcLookup:
		v.FH = r.LimitedOpaque(maxFH)
	case NFS3ProcRead:
		skipPostOpAttr(r)
		v.Count = r.Uint32()
		v.EOF = r.Bool()
	case NFS3ProcWrite:
		skipWcc(r)
		v.Count = r.Uint32()
		v.Stable = r.Uint32()
	case NFS3ProcCreate, NFS3ProcMkdir, NFS3ProcSymlink, NFS3ProcMknod:
		if r.Bool() {
			v.FH = r.LimitedOpaque(maxFH)
		}
	}
}

func skipPostOpAttr(r *xdr.Reader) {
	if r.Bool() {
		r.Skip(fattr3Size)
	}
}

func skipWcc(r *xdr.Reader) {
	if r.Bool() {
		r.Skip(wccAttrSize)
	}
	skipPostOpAttr(r)
}

// ProcName returns the procedure name.
func (v *NFSv3) ProcName() string {
	return Nfs3ProcName(v.Procedure)
}

func (v *NFSv3) Summary() string {
	var parts []string
	parts = append(parts, v.ProcName())
	if !v.Call {
		if v.Procedure != NFS3ProcNull {
			parts = append(parts, Nfs3StatName(v.Status))
		}
	}
	if len(v.FH) > 0 {
		parts = append(parts, "FH:"+FHHash(v.FH))
	}
	if v.Name != "" {
		parts = append(parts, "name:"+v.Name)
	}
	if v.ToName != "" {
		parts = append(parts, "to:"+v.ToName)
	}
	switch v.Procedure {
	case NFS3ProcRead, NFS3ProcWrite, NFS3ProcCommit:
		if v.Call {
			parts = append(parts, fmt.Sprintf("off:%d len:%d", v.Offset, v.Count))
		} else if v.Status == 0 {
			parts = append(parts, fmt.Sprintf("count:%d", v.Count))
			if v.EOF {
				parts = append(parts, "EOF")
			}
		}
	}
	return strings.Join(parts, " ")
}

func (v *NFSv3) Detail() models.LayerDetail {
	kind := "Call"
	if !v.Call {
		kind = "Reply"
	}
	fields := []models.LayerField{
		models.Field("Procedure", fmt.Sprintf("%s (%d)", v.ProcName(), v.Procedure)),
		models.Field("Direction", kind),
	}
	if !v.Call && v.Procedure != NFS3ProcNull {
		fields = append(fields, models.Field("Status", fmt.Sprintf("%s (%d)", Nfs3StatName(v.Status), v.Status)))
	}
	if len(v.FH) > 0 {
		fields = append(fields, models.Field("File Handle", fmt.Sprintf("%s [%d bytes]", FHHash(v.FH), len(v.FH))))
	}
	if v.Name != "" {
		fields = append(fields, models.Field("Name", v.Name))
	}
	if len(v.ToFH) > 0 {
		fields = append(fields, models.Field("Target Handle", FHHash(v.ToFH)))
	}
	if v.ToName != "" {
		fields = append(fields, models.Field("Target Name", v.ToName))
	}
	switch v.Procedure {
	case NFS3ProcRead, NFS3ProcWrite, NFS3ProcCommit:
		if v.Call {
			fields = append(fields, models.Field("Offset", fmt.Sprintf("%d", v.Offset)))
		}
		fields = append(fields, models.Field("Count", fmt.Sprintf("%d", v.Count)))
		if v.Procedure == NFS3ProcWrite {
			fields = append(fields, models.Field("Stable", fmt.Sprintf("%d", v.Stable)))
		}
		if v.Procedure == NFS3ProcRead && !v.Call {
			fields = append(fields, models.Field("EOF", fmt.Sprintf("%t", v.EOF)))
		}
	case NFS3ProcAccess:
		if v.Call {
			fields = append(fields, models.Field("Access", fmt.Sprintf("0x%02x", v.Access)))
		}
	}
	return models.LayerDetail{Name: "Network File System v3", Fields: fields}
}

func (v *NFSv3) Field(name string) (any, bool) {
	switch name {
	case "proc", "procedure":
		return uint64(v.Procedure), true
	case "op", "procname":
		return v.ProcName(), true
	case "status":
		return uint64(v.Status), !v.Call
	case "status_name":
		return Nfs3StatName(v.Status), !v.Call
	case "fh":
		return FHHash(v.FH), len(v.FH) > 0
	case "name":
		return v.Name, v.Name != ""
	case "toname":
		return v.ToName, v.ToName != ""
	case "offset":
		return v.Offset, true
	case "count":
		return uint64(v.Count), true
	case "stable":
		return uint64(v.Stable), true
	case "eof":
		return v.EOF, true
	}
	return nil, false
}

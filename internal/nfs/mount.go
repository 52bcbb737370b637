package nfs

import (
	"fmt"
	"strings"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/rpc"
	"nfstrace/internal/xdr"
)

const maxMountPath = 1024

// Mount is a decoded MOUNT v3 call or reply.
type Mount struct {
	Call      bool
	Procedure uint32
	Path      string
	Status    uint32
	FH        []byte
	Flavors   []uint32
}

func decodeMount(info *packet.RPCInfo, body []byte) (*Mount, error) {
	m := &Mount{Call: info.Call, Procedure: info.Procedure}
	r := xdr.NewReader(body)
	switch {
	case info.Call && (m.Procedure == MountProcMnt || m.Procedure == MountProcUmnt):
		m.Path = string(r.LimitedOpaque(maxMountPath))
	case !info.Call && m.Procedure == MountProcMnt:
		m.Status = r.Uint32()
		if m.Status == 0 {
			m.FH = r.LimitedOpaque(maxFH)
			m.Flavors = r.Uint32s(maxFlavors)
		}
	}
	return m, r.Err()
}

// ProcName returns the procedure name.
func (m *Mount) ProcName() string {
	return MountProcName(m.Procedure)
}

func (m *Mount) Summary() string {
	parts := []string{m.ProcName()}
	if m.Path != "" {
		parts = append(parts, m.Path)
	}
	if !m.Call && m.Procedure == MountProcMnt {
		parts = append(parts, MountStatName(m.Status))
		if len(m.FH) > 0 {
			parts = append(parts, "FH:"+FHHash(m.FH))
		}
	}
	return strings.Join(parts, " ")
}

func (m *Mount) Detail() models.LayerDetail {
	fields := []models.LayerField{
		models.Field("Procedure", fmt.Sprintf("%s (%d)", m.ProcName(), m.Procedure)),
	}
	if m.Path != "" {
		fields = append(fields, models.Field("Path", m.Path))
	}
	if !m.Call && m.Procedure == MountProcMnt {
		fields = append(fields, models.Field("Status", fmt.Sprintf("%s (%d)", MountStatName(m.Status), m.Status)))
		if len(m.FH) > 0 {
			fields = append(fields, models.Field("File Handle", FHHash(m.FH)))
		}
		if len(m.Flavors) > 0 {
			names := make([]string, len(m.Flavors))
			for i, f := range m.Flavors {
				names[i] = rpc.FlavorName(f)
			}
			fields = append(fields, models.Field("Flavors", strings.Join(names, ",")))
		}
	}
	return models.LayerDetail{Name: "Mount Service", Fields: fields}
}

func (m *Mount) Field(name string) (any, bool) {
	switch name {
	case "proc", "procedure":
		return uint64(m.Procedure), true
	case "op", "procname":
		return m.ProcName(), true
	case "path":
		return m.Path, m.Path != ""
	case "status":
		return uint64(m.Status), !m.Call
	case "fh":
		return FHHash(m.FH), len(m.FH) > 0
	}
	return nil, false
}

package nfs

import (
	"fmt"
	"strings"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/rpc"
	"nfstrace/internal/xdr"
)

// Mapping is a PORTMAP program to port mapping.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m Mapping) String() string {
	prot := fmt.Sprintf("%d", m.Prot)
	switch m.Prot {
	case 6:
		prot = "tcp"
	case 17:
		prot = "udp"
	}
	return fmt.Sprintf("%s v%d %s:%d", rpc.ProgramName(m.Prog), m.Vers, prot, m.Port)
}

// Portmap is a decoded PORTMAP v2 call or reply.
type Portmap struct {
	Call      bool
	Procedure uint32
	Mapping   *Mapping
	Port      uint32
	Result    bool
	Mappings  []Mapping
}

func decodePortmap(info *packet.RPCInfo, body []byte) (*Portmap, error) {
	p := &Portmap{Call: info.Call, Procedure: info.Procedure}
	r := xdr.NewReader(body)
	switch p.Procedure {
	case PmapProcSet, PmapProcUnset, PmapProcGetport:
		if info.Call {
			m := &Mapping{}
			r.Unmarshal(m)
			p.Mapping = m
		} else if p.Procedure == PmapProcGetport {
			p.Port = r.Uint32()
		} else {
			p.Result = r.Bool()
		}
	case PmapProcDump:
		if !info.Call {
			for len(p.Mappings) < maxPortmaps && r.Bool() {
				var m Mapping
				r.Unmarshal(&m)
				if r.Err() != nil {
					break
				}
				p.Mappings = append(p.Mappings, m)
			}
		}
	}
	return p, r.Err()
}

// ProcName returns the procedure name.
func (p *Portmap) ProcName() string {
	return PmapProcName(p.Procedure)
}

func (p *Portmap) Summary() string {
	parts := []string{p.ProcName()}
	if p.Mapping != nil {
		parts = append(parts, p.Mapping.String())
	}
	if !p.Call {
		switch p.Procedure {
		case PmapProcGetport:
			parts = append(parts, fmt.Sprintf("port:%d", p.Port))
		case PmapProcSet, PmapProcUnset:
			parts = append(parts, fmt.Sprintf("%t", p.Result))
		case PmapProcDump:
			parts = append(parts, fmt.Sprintf("%d mappings", len(p.Mappings)))
		}
	}
	return strings.Join(parts, " ")
}

func (p *Portmap) Detail() models.LayerDetail {
	fields := []models.LayerField{
		models.Field("Procedure", fmt.Sprintf("%s (%d)", p.ProcName(), p.Procedure)),
	}
	if m := p.Mapping; m != nil {
		fields = append(fields,
			models.Field("Program", fmt.Sprintf("%s (%d)", rpc.ProgramName(m.Prog), m.Prog)),
			models.Field("Version", fmt.Sprintf("%d", m.Vers)),
			models.Field("Protocol", fmt.Sprintf("%d", m.Prot)),
			models.Field("Port", fmt.Sprintf("%d", m.Port)),
		)
	}
	if !p.Call && p.Procedure == PmapProcGetport {
		fields = append(fields, models.Field("Port", fmt.Sprintf("%d", p.Port)))
	}
	for _, m := range p.Mappings {
		fields = append(fields, models.Field("Map", m.String()))
	}
	return models.LayerDetail{Name: "Portmap", Fields: fields}
}

func (p *Portmap) Field(name string) (any, bool) {
	switch name {
	case "proc", "procedure":
		return uint64(p.Procedure), true
	case "op", "procname":
		return p.ProcName(), true
	case "port":
		if !p.Call {
			return uint64(p.Port), p.Procedure == PmapProcGetport
		}
	}
	if m := p.Mapping; m != nil {
		switch name {
		case "prog":
			return uint64(m.Prog), true
		case "vers":
			return uint64(m.Vers), true
		case "prot":
			return uint64(m.Prot), true
		case "port":
			return uint64(m.Port), true
		}
	}
	return nil, false
}

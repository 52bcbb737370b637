package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/xdr"
)

// MinHeaderSize is the smallest possible RPC message: a reply with an
// AUTH_NULL verifier and an accept status.
const MinHeaderSize = 24

// OpaqueAuth is a credential or verifier.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte
}

// UnixAuth is an AUTH_SYS credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (a *UnixAuth) String() string {
	return fmt.Sprintf("machine=%s uid=%d gid=%d gids=%v", a.MachineName, a.UID, a.GID, a.GIDs)
}

// Call holds the fields of a call header following the message type.
type Call struct {
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       OpaqueAuth
	Verf       OpaqueAuth
	Unix       *UnixAuth
}

// Reply holds the fields of a reply header following the message type.
type Reply struct {
	Stat       uint32
	Verf       OpaqueAuth
	AcceptStat uint32
	// Low and High are the supported range for PROG_MISMATCH and
	// RPC_MISMATCH.
	Low        uint32
	High       uint32
	RejectStat uint32
	AuthStat   uint32
}

// Message is a decoded RPC header. Exactly one of Call and Reply is set.
type Message struct {
	XID   uint32
	Type  uint32
	Call  *Call
	Reply *Reply
	// HeaderLen is the number of bytes used by the header.
	HeaderLen int
	// procName is filled in by the program decoder for display.
	procName string
}

// SetProcName records the procedure name shown in summaries.
func (m *Message) SetProcName(name string) {
	m.procName = name
}

// Looks reports whether data plausibly starts with an RPC message.
func Looks(data []byte) bool {
	if len(data) < MinHeaderSize {
		return false
	}
	switch binary.BigEndian.Uint32(data[4:]) {
	case MsgCall:
		return len(data) >= 40 && binary.BigEndian.Uint32(data[8:]) == RPCVersion
	case MsgReply:
		stat := binary.BigEndian.Uint32(data[8:])
		return stat == ReplyAccepted || stat == ReplyDenied
	}
	return false
}

// Decode unpacks the RPC header at the start of data and returns the
// message together with the program body that follows it.
func Decode(data []byte) (*Message, []byte, error) {
	r := xdr.NewReader(data)
	m := &Message{XID: r.Uint32(), Type: r.Uint32()}
	if err := r.Err(); err != nil {
		return nil, nil, packet.NewDecodeError(packet.LayerRPC, err)
	}

	switch m.Type {
	case MsgCall:
		c := &Call{}
		var fixed struct {
			RPCVersion, Program, Version, Procedure uint32
		}
		r.Unmarshal(&fixed)
		c.RPCVersion, c.Program, c.Version, c.Procedure = fixed.RPCVersion, fixed.Program, fixed.Version, fixed.Procedure
		c.Cred = decodeAuth(r)
		c.Verf = decodeAuth(r)
		if err := r.Err(); err != nil {
			return nil, nil, packet.NewDecodeError(packet.LayerRPC, err)
		}
		if c.RPCVersion != RPCVersion {
			return nil, nil, packet.NewDecodeError(packet.LayerRPC, fmt.Errorf("unsupported rpc version %d", c.RPCVersion))
		}
		if c.Cred.Flavor == AuthUnix {
			if u, err := ParseUnixAuth(c.Cred.Body); err == nil {
				c.Unix = u
			}
		}
		m.Call = c
	case MsgReply:
		rep := &Reply{Stat: r.Uint32()}
		switch rep.Stat {
		case ReplyAccepted:
			rep.Verf = decodeAuth(r)
			rep.AcceptStat = r.Uint32()
			if rep.AcceptStat == AcceptProgMismatch {
				rep.Low, rep.High = r.Uint32(), r.Uint32()
			}
		case ReplyDenied:
			rep.RejectStat = r.Uint32()
			switch rep.RejectStat {
			case RejectRPCMismatch:
				rep.Low, rep.High = r.Uint32(), r.Uint32()
			case RejectAuthError:
				rep.AuthStat = r.Uint32()
			}
		default:
			return nil, nil, packet.NewDecodeError(packet.LayerRPC, fmt.Errorf("invalid reply state %d", rep.Stat))
		}
		if err := r.Err(); err != nil {
			return nil, nil, packet.NewDecodeError(packet.LayerRPC, err)
		}
		m.Reply = rep
	default:
		return nil, nil, packet.NewDecodeError(packet.LayerRPC, fmt.Errorf("invalid message type %d", m.Type))
	}

	m.HeaderLen = r.Offset()
	return m, r.Remaining(), nil
}

func decodeAuth(r *xdr.Reader) OpaqueAuth {
	return OpaqueAuth{Flavor: r.Uint32(), Body: r.LimitedOpaque(maxAuthBody)}
}

// ParseUnixAuth decodes an AUTH_SYS credential body.
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, errors.New("empty AUTH_SYS body")
	}
	r := xdr.NewReader(body)
	a := &UnixAuth{Stamp: r.Uint32()}
	a.MachineName = string(r.LimitedOpaque(255))
	a.UID = r.Uint32()
	a.GID = r.Uint32()
	a.GIDs = r.Uint32s(16)
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("AUTH_SYS: %w", err)
	}
	return a, nil
}

// IsCall reports whether the message is a call.
func (m *Message) IsCall() bool {
	return m.Call != nil
}

// Accepted reports whether a reply was accepted with SUCCESS.
func (m *Message) Accepted() bool {
	return m.Reply != nil && m.Reply.Stat == ReplyAccepted && m.Reply.AcceptStat == AcceptSuccess
}

// Info returns the correlation view of the message.
func (m *Message) Info(body []byte) *packet.RPCInfo {
	info := &packet.RPCInfo{XID: m.XID, Call: m.IsCall(), Body: body}
	if m.Call != nil {
		info.Program = m.Call.Program
		info.Version = m.Call.Version
		info.Procedure = m.Call.Procedure
		info.Accepted = true
	} else {
		info.Accepted = m.Accepted()
	}
	return info
}

func (m *Message) Summary() string {
	if m.Call != nil {
		proc := m.procName
		if proc == "" {
			proc = fmt.Sprintf("proc=%d", m.Call.Procedure)
		}
		return fmt.Sprintf("call xid=0x%08x %s v%d %s", m.XID, ProgramName(m.Call.Program), m.Call.Version, proc)
	}
	rep := m.Reply
	if rep.Stat == ReplyDenied {
		return fmt.Sprintf("reply xid=0x%08x denied %s", m.XID, RejectStatName(rep.RejectStat))
	}
	return fmt.Sprintf("reply xid=0x%08x %s", m.XID, AcceptStatName(rep.AcceptStat))
}

func (m *Message) Detail() models.LayerDetail {
	fields := []models.LayerField{
		models.Field("XID", fmt.Sprintf("0x%08x", m.XID)),
	}
	if c := m.Call; c != nil {
		fields = append(fields,
			models.Field("Message Type", "CALL (0)"),
			models.Field("RPC Version", fmt.Sprintf("%d", c.RPCVersion)),
			models.Field("Program", fmt.Sprintf("%s (%d)", ProgramName(c.Program), c.Program)),
			models.Field("Program Version", fmt.Sprintf("%d", c.Version)),
			models.Field("Procedure", fmt.Sprintf("%d", c.Procedure)),
			authField("Credentials", c.Cred, c.Unix),
			authField("Verifier", c.Verf, nil),
		)
	} else {
		rep := m.Reply
		fields = append(fields, models.Field("Message Type", "REPLY (1)"))
		if rep.Stat == ReplyAccepted {
			fields = append(fields,
				models.Field("Reply State", "MSG_ACCEPTED (0)"),
				authField("Verifier", rep.Verf, nil),
				models.Field("Accept State", fmt.Sprintf("%s (%d)", AcceptStatName(rep.AcceptStat), rep.AcceptStat)),
			)
		} else {
			fields = append(fields,
				models.Field("Reply State", "MSG_DENIED (1)"),
				models.Field("Reject State", fmt.Sprintf("%s (%d)", RejectStatName(rep.RejectStat), rep.RejectStat)),
			)
		}
		if rep.Low != 0 || rep.High != 0 {
			fields = append(fields, models.Field("Supported", fmt.Sprintf("%d-%d", rep.Low, rep.High)))
		}
	}
	return models.LayerDetail{Name: "Remote Procedure Call", Fields: fields}
}

func authField(name string, a OpaqueAuth, unix *UnixAuth) models.LayerField {
	f := models.LayerField{Name: name, Children: []models.LayerField{
		models.Field("Flavor", fmt.Sprintf("%s (%d)", FlavorName(a.Flavor), a.Flavor)),
		models.Field("Length", fmt.Sprintf("%d", len(a.Body))),
	}}
	if unix != nil {
		f.Children = append(f.Children,
			models.Field("Machine Name", unix.MachineName),
			models.Field("UID", fmt.Sprintf("%d", unix.UID)),
			models.Field("GID", fmt.Sprintf("%d", unix.GID)),
			models.Field("Auxiliary GIDs", fmt.Sprintf("%v", unix.GIDs)),
		)
	}
	return f
}

func (m *Message) Field(name string) (any, bool) {
	switch name {
	case "xid":
		return uint64(m.XID), true
	case "type":
		if m.Call != nil {
			return "call", true
		}
		return "reply", true
	case "proc_name":
		return m.procName, m.procName != ""
	}
	if c := m.Call; c != nil {
		switch name {
		case "version":
			return uint64(c.RPCVersion), true
		case "program", "prog":
			return uint64(c.Program), true
		case "progname":
			return ProgramName(c.Program), true
		case "vers":
			return uint64(c.Version), true
		case "procedure", "proc":
			return uint64(c.Procedure), true
		case "flavor":
			return uint64(c.Cred.Flavor), true
		}
		if u := c.Unix; u != nil {
			switch name {
			case "machine":
				return u.MachineName, true
			case "uid":
				return uint64(u.UID), true
			case "gid":
				return uint64(u.GID), true
			}
		}
		return nil, false
	}
	rep := m.Reply
	switch name {
	case "stat", "reply_stat":
		return uint64(rep.Stat), true
	case "accept_stat":
		return uint64(rep.AcceptStat), rep.Stat == ReplyAccepted
	case "reject_stat":
		return uint64(rep.RejectStat), rep.Stat == ReplyDenied
	case "auth_stat":
		return uint64(rep.AuthStat), rep.Stat == ReplyDenied && rep.RejectStat == RejectAuthError
	}
	return nil, false
}

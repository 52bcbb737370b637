package nfs

import (
	"fmt"
	"strings"

	"nfstrace/internal/models"
	"nfstrace/internal/packet"
	"nfstrace/internal/xdr"
)

// NLMLock is an nlm4_lock.
type NLMLock struct {
	CallerName string
	FH         []byte
	Owner      []byte
	Svid       int32
	Offset     uint64
	Length     uint64
}

// NLMHolder is the conflicting lock returned by a denied TEST.
type NLMHolder struct {
	Exclusive bool
	Svid      int32
	Owner     []byte
	Offset    uint64
	Length    uint64
}

// NLM is a decoded NLMv4 call or reply.
type NLM struct {
	Call      bool
	Procedure uint32
	Cookie    []byte
	Block     bool
	Exclusive bool
	Reclaim   bool
	State     int32
	Lock      *NLMLock
	Stat      uint32
	Holder    *NLMHolder
	// HasStat is set when the message carries an nlm4_stats value.
	HasStat bool
}

func decodeNLM(info *packet.RPCInfo, body []byte) (*NLM, error) {
	n := &NLM{Call: info.Call, Procedure: info.Procedure}
	r := xdr.NewReader(body)
	if info.Call {
		n.decodeArgs(r)
	} else {
		n.decodeResults(r)
	}
	return n, r.Err()
}

func (n *NLM) decodeArgs(r *xdr.Reader) {
	switch n.Procedure {
	case NLMProcTest, NLMProcTestMsg, NLMProcGranted, NLMProcGrantedMsg:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Exclusive = r.Bool()
		n.Lock = decodeNLMLock(r)
	case NLMProcLock, NLMProcLockMsg, NLMProcNmLock:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Block = r.Bool()
		n.Exclusive = r.Bool()
		n.Lock = decodeNLMLock(r)
		n.Reclaim = r.Bool()
		n.State = r.Int32()
	case NLMProcCancel, NLMProcCancelMsg:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Block = r.Bool()
		n.Exclusive = r.Bool()
		n.Lock = decodeNLMLock(r)
	case NLMProcUnlock, NLMProcUnlockMsg:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Lock = decodeNLMLock(r)
	case NLMProcTestRes:
		n.decodeTestRes(r)
	case NLMProcLockRes, NLMProcCancelRes, NLMProcUnlockRes, NLMProcGrantedRes:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Stat = r.Uint32()
		n.HasStat = true
	}
}

func (n *NLM) decodeResults(r *xdr.Reader) {
	switch n.Procedure {
	case NLMProcTest:
		n.decodeTestRes(r)
	case NLMProcLock, NLMProcCancel, NLMProcUnlock, NLMProcGranted, NLMProcNmLock:
		n.Cookie = r.LimitedOpaque(maxCookie)
		n.Stat = r.Uint32()
		n.HasStat = true
	}
}

func (n *NLM) decodeTestRes(r *xdr.Reader) {
	n.Cookie = r.LimitedOpaque(maxCookie)
	n.Stat = r.Uint32()
	n.HasStat = true
	if n.Stat == 1 { // NLM4_DENIED
		h := &NLMHolder{Exclusive: r.Bool(), Svid: r.Int32()}
		h.Owner = r.LimitedOpaque(maxOwnerName)
		h.Offset = r.Uint64()
		h.Length = r.Uint64()
		n.Holder = h
	}
}

func decodeNLMLock(r *xdr.Reader) *NLMLock {
	l := &NLMLock{CallerName: string(r.LimitedOpaque(maxOwnerName))}
	l.FH = r.LimitedOpaque(maxFH)
	l.Owner = r.LimitedOpaque(maxOwnerName)
	l.Svid = r.Int32()
	l.Offset = r.Uint64()
	l.Length = r.Uint64()
	return l
}

// ProcName returns the procedure name.
func (n *NLM) ProcName() string {
	return NlmProcName(n.Procedure)
}

func (n *NLM) Summary() string {
	parts := []string{n.ProcName()}
	if n.HasStat {
		parts = append(parts, NlmStatName(n.Stat))
	}
	if l := n.Lock; l != nil {
		parts = append(parts, fmt.Sprintf("FH:%s svid:%d off:%d len:%d", FHHash(l.FH), l.Svid, l.Offset, l.Length))
	}
	return strings.Join(parts, " ")
}

func (n *NLM) Detail() models.LayerDetail {
	fields := []models.LayerField{
		models.Field("Procedure", fmt.Sprintf("%s (%d)", n.ProcName(), n.Procedure)),
	}
	if len(n.Cookie) > 0 {
		fields = append(fields, models.Field("Cookie", fmt.Sprintf("%x", n.Cookie)))
	}
	if n.HasStat {
		fields = append(fields, models.Field("Status", fmt.Sprintf("%s (%d)", NlmStatName(n.Stat), n.Stat)))
	}
	if l := n.Lock; l != nil {
		fields = append(fields,
			models.Field("Block", fmt.Sprintf("%t", n.Block)),
			models.Field("Exclusive", fmt.Sprintf("%t", n.Exclusive)),
			models.LayerField{Name: "Lock", Children: []models.LayerField{
				models.Field("Caller Name", l.CallerName),
				models.Field("File Handle", FHHash(l.FH)),
				models.Field("Owner", fmt.Sprintf("%x", l.Owner)),
				models.Field("Svid", fmt.Sprintf("%d", l.Svid)),
				models.Field("Offset", fmt.Sprintf("%d", l.Offset)),
				models.Field("Length", fmt.Sprintf("%d", l.Length)),
			}},
		)
	}
	if h := n.Holder; h != nil {
		fields = append(fields, models.LayerField{Name: "Holder", Children: []models.LayerField{
			models.Field("Exclusive", fmt.Sprintf("%t", h.Exclusive)),
			models.Field("Svid", fmt.Sprintf("%d", h.Svid)),
			models.Field("Offset", fmt.Sprintf("%d", h.Offset)),
			models.Field("Length", fmt.Sprintf("%d", h.Length)),
		}})
	}
	return models.LayerDetail{Name: "Network Lock Manager v4", Fields: fields}
}

func (n *NLM) Field(name string) (any, bool) {
	switch name {
	case "proc", "procedure":
		return uint64(n.Procedure), true
	case "op", "procname":
		return n.ProcName(), true
	case "stat", "status":
		return uint64(n.Stat), n.HasStat
	case "exclusive":
		return n.Exclusive, true
	case "block":
		return n.Block, true
	}
	if l := n.Lock; l != nil {
		switch name {
		case "fh":
			return FHHash(l.FH), true
		case "svid":
			return int64(l.Svid), true
		case "offset":
			return l.Offset, true
		case "length":
			return l.Length, true
		case "caller":
			return l.CallerName, true
		}
	}
	return nil, false
}

// Package xidcheck audits a trace for RPC replies that do not fit the call
// they were matched to.
package xidcheck

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"

	"nfstrace/internal/correlate"
	"nfstrace/internal/nfs"
	"nfstrace/internal/packet"
)

// Kind classifies an issue.
type Kind string

const (
	KindXIDMismatch     Kind = "xid-mismatch"
	KindProgramMismatch Kind = "program-mismatch"
	KindCompound        Kind = "compound-mismatch"
	KindOrphanReply     Kind = "orphan-reply"
	KindUnanswered      Kind = "unanswered-call"
	KindDecode          Kind = "decode-error"
)

// Issue is one finding.
type Issue struct {
	Index   int
	Xid     uint32
	Kind    Kind
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%d xid=0x%08x %s: %s", i.Index, i.Xid, i.Kind, i.Message)
}

// Sequencer is the part of pktt.Pktt the auditor needs.
type Sequencer interface {
	Next() (*packet.Packet, error)
	Unanswered() []*packet.Packet
	Abandoned() []correlate.Abandoned
}

// Options tune Run.
type Options struct {
	// ExitOnError stops the walk at the first issue.
	ExitOnError bool
	// MaxIndex, when positive, ends the walk before that index.
	MaxIndex int
	Logger   logrus.FieldLogger
}

// Report is the result of a run.
type Report struct {
	Packets int
	Calls   int
	Replies int
	Matched int
	Issues  []Issue
	// Stopped is set when ExitOnError ended the walk early.
	Stopped bool
}

// ErrIssues is returned by Report.Err when issues were found.
var ErrIssues = errors.New("xidcheck: issues found")

// Err returns ErrIssues when the report holds any issue.
func (r *Report) Err() error {
	if len(r.Issues) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrIssues, len(r.Issues))
}

// Counts returns the number of issues of each kind.
func (r *Report) Counts() map[Kind]int {
	m := make(map[Kind]int)
	for _, i := range r.Issues {
		m[i.Kind]++
	}
	return m
}

// Run walks the stream to its end. Decode errors are reported and the walk
// continues unless ExitOnError is set.
func Run(seq Sequencer, opts Options) (*Report, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	rep := &Report{}
	add := func(i Issue) bool {
		rep.Issues = append(rep.Issues, i)
		log.WithFields(logrus.Fields{
			"index": i.Index,
			"xid":   fmt.Sprintf("0x%08x", i.Xid),
			"kind":  i.Kind,
		}).Info(i.Message)
		if opts.ExitOnError {
			rep.Stopped = true
			return false
		}
		return true
	}

	for {
		p, err := seq.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, err
		}
		if opts.MaxIndex > 0 && p.Index >= opts.MaxIndex {
			break
		}
		rep.Packets++

		var xid uint32
		if p.RPC != nil {
			xid = p.RPC.XID
		}
		if p.DecodeErr != nil {
			if !add(Issue{Index: p.Index, Xid: xid, Kind: KindDecode, Message: p.DecodeErr.Error()}) {
				return rep, nil
			}
		}
		if p.RPC == nil {
			continue
		}
		if p.RPC.Call {
			rep.Calls++
			continue
		}
		rep.Replies++
		if p.Call == nil {
			if !add(Issue{Index: p.Index, Xid: xid, Kind: KindOrphanReply, Message: "reply without matching call"}) {
				return rep, nil
			}
			continue
		}
		rep.Matched++
		for _, i := range CheckPair(p.Call, p) {
			if !add(i) {
				return rep, nil
			}
		}
	}

	// The sequencer may have decoded a few packets past MaxIndex.
	inRange := func(index int) bool { return opts.MaxIndex <= 0 || index < opts.MaxIndex }
	for _, a := range seq.Abandoned() {
		if !inRange(a.Index) {
			continue
		}
		if !add(Issue{Index: a.Index, Xid: a.XID, Kind: KindUnanswered, Message: "call was never answered: " + string(a.Reason)}) {
			return rep, nil
		}
	}
	for _, c := range seq.Unanswered() {
		if !inRange(c.Index) {
			continue
		}
		if !add(Issue{Index: c.Index, Xid: c.RPC.XID, Kind: KindUnanswered, Message: "call was never answered"}) {
			return rep, nil
		}
	}
	return rep, nil
}

// CheckPair checks a reply against its call.
func CheckPair(call, reply *packet.Packet) []Issue {
	var out []Issue
	issue := func(k Kind, format string, args ...any) {
		out = append(out, Issue{Index: reply.Index, Xid: reply.RPC.XID, Kind: k, Message: fmt.Sprintf(format, args...)})
	}

	if call.RPC.XID != reply.RPC.XID {
		issue(KindXIDMismatch, "reply xid 0x%08x does not match call %d xid 0x%08x", reply.RPC.XID, call.Index, call.RPC.XID)
	}

	cl, _, cok := programLayer(call)
	rl, _, rok := programLayer(reply)
	if cok && rok && cl != rl {
		issue(KindProgramMismatch, "reply carries %s, call %d carries %s", rl, call.Index, cl)
		return out
	}

	cv, ok1 := layerValue[*nfs.NFSv4](call, packet.LayerNFSv4)
	rv, ok2 := layerValue[*nfs.NFSv4](reply, packet.LayerNFSv4)
	if ok1 && ok2 {
		for _, msg := range checkCompound(cv, rv) {
			issue(KindCompound, "call %d: %s", call.Index, msg)
		}
	}
	return out
}

// checkCompound verifies that the reply operations are a prefix of the call
// operations that ends at the first failing operation.
func checkCompound(call, reply *nfs.NFSv4) []string {
	var msgs []string
	if call.Tag != reply.Tag {
		msgs = append(msgs, fmt.Sprintf("tag %q does not match call tag %q", reply.Tag, call.Tag))
	}
	if len(reply.Ops) > len(call.Ops) && !call.Partial {
		msgs = append(msgs, fmt.Sprintf("reply has %d operations, call has %d", len(reply.Ops), len(call.Ops)))
	}
	for i := range reply.Ops {
		if i >= len(call.Ops) {
			break
		}
		if reply.Ops[i].Op != call.Ops[i].Op {
			msgs = append(msgs, fmt.Sprintf("operation %d is %s, call has %s", i, reply.Ops[i].Name(), call.Ops[i].Name()))
			return msgs
		}
	}
	if reply.Partial || call.Partial {
		return msgs
	}
	for i, op := range reply.Ops {
		if op.Status != 0 && i != len(reply.Ops)-1 {
			msgs = append(msgs, fmt.Sprintf("operation %d %s failed with %s but the reply continues", i, op.Name(), nfs.Nfs4StatName(op.Status)))
		}
	}
	if n := len(reply.Ops); n > 0 {
		last := reply.Ops[n-1]
		if last.Status != reply.Status {
			msgs = append(msgs, fmt.Sprintf("status %s differs from last operation status %s", nfs.Nfs4StatName(reply.Status), nfs.Nfs4StatName(last.Status)))
		}
		if last.Status == 0 && n < len(call.Ops) {
			msgs = append(msgs, fmt.Sprintf("reply stops after %d of %d operations without an error", n, len(call.Ops)))
		}
	}
	return msgs
}

var programLayers = []packet.Layer{packet.LayerNFSv3, packet.LayerNFSv4, packet.LayerMOUNT, packet.LayerNLM, packet.LayerPORTMAP}

func programLayer(p *packet.Packet) (packet.Layer, packet.Value, bool) {
	for _, l := range programLayers {
		if v, ok := p.Layer(l); ok {
			return l, v, true
		}
	}
	return 0, nil, false
}

func layerValue[T packet.Value](p *packet.Packet, l packet.Layer) (T, bool) {
	var zero T
	v, ok := p.Layer(l)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// WriteSummary prints the counters and the issue counts as tables.
func (r *Report) WriteSummary(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Packets", "Calls", "Replies", "Matched", "Issues"})
	table.Append([]string{
		fmt.Sprint(r.Packets), fmt.Sprint(r.Calls), fmt.Sprint(r.Replies),
		fmt.Sprint(r.Matched), fmt.Sprint(len(r.Issues)),
	})
	table.Render()

	counts := r.Counts()
	if len(counts) == 0 {
		return
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	issues := tablewriter.NewWriter(w)
	issues.SetHeader([]string{"Kind", "Count"})
	for _, k := range kinds {
		issues.Append([]string{k, fmt.Sprint(counts[Kind(k)])})
	}
	issues.Render()
}

// WriteIssues prints one line per issue.
func (r *Report) WriteIssues(w io.Writer) error {
	for _, i := range r.Issues {
		if _, err := fmt.Fprintln(w, i.String()); err != nil {
			return err
		}
	}
	return nil
}

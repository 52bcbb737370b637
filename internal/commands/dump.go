package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nfstrace/internal/display"
	"nfstrace/internal/filter"
	"nfstrace/internal/packet"
	"nfstrace/internal/pktt"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] FILE...",
	Short: "Print the packets of one or more traces",
	Long: `Print the merged packets of one or more traces.

Verbosity is a bitmask: 1 prints one line per packet, 2 one line per layer,
4 every decoded field and 8 a hex dump of the frame.

Format placeholders are field names in braces, for example
  --format "{index} {time} {rpc.xid:%08x} {nfs.op} {nfs.status}"

Match expressions compare fields, for example
  --match 'rpc.xid == 0x1234 || (nfs.op == "READ" && nfs.count > 4096)'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDump,
}

func init() {
	f := dumpCmd.Flags()
	f.IntP("verbose", "v", display.OneLine, "verbosity bitmask")
	f.String("format", "", "output format template")
	f.Int("start", 1, "index of the first packet to print")
	f.Int("end", 0, "stop before this packet index (0: no limit)")
	f.StringP("match", "m", "", "print only packets matching this expression")
	f.Bool("reply", false, "with --match, also print the other half of matching calls and replies")
	f.Bool("stats", false, "print counters when done")
	addSequencerFlags(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	seq, err := pktt.Open(args, sequencerConfig())
	if err != nil {
		return err
	}
	defer seq.Close()

	if start := v.GetInt("start"); start > 1 {
		if err := seq.Seek(start); err != nil {
			return err
		}
	}

	pr := &display.Printer{
		Out:     cmd.OutOrStdout(),
		Verbose: v.GetInt("verbose"),
		Format:  v.GetString("format"),
	}
	end := v.GetInt("end")

	if expr := v.GetString("match"); expr != "" {
		f, err := filter.Compile(expr)
		if err != nil {
			return err
		}
		opts := pktt.MatchOptions{Reply: v.GetBool("reply"), MaxIndex: end}
		for {
			p, err := seq.Match(f.Match, opts)
			if err != nil {
				return err
			}
			if p == nil {
				break
			}
			if err := pr.Print(p); err != nil {
				return err
			}
		}
	} else {
		err := seq.Iterate(func(p *packet.Packet) error {
			if end > 0 && p.Index >= end {
				return errDone
			}
			return pr.Print(p)
		})
		if err != nil && !errors.Is(err, errDone) {
			return err
		}
	}

	st := seq.Stats()
	logrus.WithFields(logrus.Fields{
		"packets":        st.Packets,
		"decode_errors":  st.DecodeErrors,
		"orphan_replies": st.OrphanReplies,
		"pending_calls":  st.PendingCalls,
	}).Info("done")
	if v.GetBool("stats") {
		writeStats(cmd.OutOrStdout(), st)
	}
	return nil
}

var errDone = errors.New("done")

func writeStats(w io.Writer, st pktt.Stats) {
	rows := []struct {
		name  string
		value int
	}{
		{"packets", st.Packets},
		{"rpc records", st.Records},
		{"decode errors", st.DecodeErrors},
		{"skipped frames", st.SkippedFrames},
		{"skipped sources", st.SkippedSources},
		{"orphan replies", st.OrphanReplies},
		{"duplicate calls", st.DuplicateCalls},
		{"evicted calls", st.EvictedCalls},
		{"closed calls", st.ClosedCalls},
		{"pending calls", st.PendingCalls},
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Counter", "Value"})
	for _, r := range rows {
		table.Append([]string{r.name, fmt.Sprint(r.value)})
	}
	table.Render()
}

package commands

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"nfstrace/internal/pktt"
	"nfstrace/internal/xidcheck"
)

var xidcheckCmd = &cobra.Command{
	Use:   "xidcheck [flags] FILE...",
	Short: "Check that every reply fits the call it answers",
	Long: `Walk the merged traces and report replies whose xid, program or
NFSv4 COMPOUND operation list does not fit their call, replies without a
call and calls that were never answered.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runXidcheck,
}

func init() {
	f := xidcheckCmd.Flags()
	f.Bool("exit-on-error", false, "stop at the first issue and exit non-zero")
	f.Int("end", 0, "stop before this packet index (0: no limit)")
	addSequencerFlags(xidcheckCmd)
}

func runXidcheck(cmd *cobra.Command, args []string) error {
	seq, err := pktt.Open(args, sequencerConfig())
	if err != nil {
		return err
	}
	defer seq.Close()

	exitOnError := v.GetBool("exit-on-error")
	rep, err := xidcheck.Run(seq, xidcheck.Options{
		ExitOnError: exitOnError,
		MaxIndex:    v.GetInt("end"),
		Logger:      logrus.StandardLogger(),
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := rep.WriteIssues(out); err != nil {
		return err
	}
	rep.WriteSummary(out)
	if exitOnError {
		return rep.Err()
	}
	return nil
}

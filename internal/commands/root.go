// Package commands implements the nfstrace command line.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"nfstrace/internal/pktt"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string

	v = viper.New()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "nfstrace",
	Short: "Inspect NFS packet traces",
	Long: `nfstrace merges one or more packet captures into a single timestamp
ordered stream, decodes the RPC, NFSv3, NFSv4, MOUNT, NLM and PORTMAP layers
and links every reply to its call.

Use "nfstrace [command] --help" for more information about a command.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	// Global persistent flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(xidcheckCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// setup reads the configuration and configures logging. Values come from
// flags, then NFSTRACE_* environment variables, then the config file.
func setup(cmd *cobra.Command, _ []string) error {
	v.SetEnvPrefix("NFSTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := bindFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)
	switch f := v.GetString("log-format"); f {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", f)
	}
	return nil
}

// bindFlags binds the flags of the running command, so commands sharing a
// flag name do not overwrite each other's binding.
func bindFlags(fs *pflag.FlagSet) error {
	return v.BindPFlags(fs)
}

// addSequencerFlags registers the flags every trace reading command takes.
func addSequencerFlags(cmd *cobra.Command) {
	def := pktt.DefaultConfig()
	f := cmd.Flags()
	f.Bool("serial", false, "read the traces one after another instead of merging by timestamp")
	f.Bool("no-reply-decode", false, "decode only the RPC header of replies")
	f.Int("max-pending", def.MaxPending, "maximum number of calls waiting for a reply")
	f.Int("max-record", def.MaxRecordSize, "maximum size of a reassembled RPC record")
	f.Bool("skip-bad-frames", true, "drop a damaged trace and carry on instead of failing")
	f.Bool("skip-bad-sources", false, "skip traces after the first that cannot be opened")
}

// sequencerConfig builds the sequencer configuration from the bound flags.
func sequencerConfig() pktt.Config {
	cfg := pktt.DefaultConfig()
	if v.GetBool("serial") {
		cfg.Mode = pktt.ModeSerial
	}
	cfg.DecodeReplies = !v.GetBool("no-reply-decode")
	cfg.MaxPending = v.GetInt("max-pending")
	cfg.MaxRecordSize = v.GetInt("max-record")
	if !v.GetBool("skip-bad-frames") {
		cfg.OnFrameError = pktt.FrameErrorAbort
	}
	cfg.SkipBadSources = v.GetBool("skip-bad-sources")
	cfg.Logger = logrus.StandardLogger()
	return cfg
}

package cmd

import (
	"github.com/spf13/cobra"
)

// Version is overridden at build time with -ldflags "-X .../cmd.Version=...".
var Version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Lead qualification and outreach pipeline",
	Long: `leadflow runs a staged pipeline that researches inbound leads, scores them,
drafts outreach emails and hands them to a delivery sink.

Each stage has an HTTP route that accepts a JSON array of envelopes; stages
hand work to each other over the message bus.`,
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/leadflow/config.yaml)")
}

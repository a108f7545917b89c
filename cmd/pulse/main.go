package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	serverURL  string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "pulse",
		Short: "Pulse - Pulsefile pipelines from the command line",
		Long: `Pulse runs the pipelines described in a Pulsefile, either locally
against the working tree or on a pulse API server fed by GitHub webhooks.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
)

func init() {
	// Step and request logs would drown out command output.
	logrus.SetLevel(logrus.WarnLevel)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "API server URL, overrides the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

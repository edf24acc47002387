package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	appName    = "bidi-intercept"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Intercept browser network requests over WebDriver BiDi",
	Long: `bidi-intercept connects to a WebDriver BiDi endpoint, pauses requests at
the beforeRequestSent phase and continues them, optionally redirected.

Decisions can be journaled to SQLite and exported as Prometheus metrics.`,
	Version:      appVersion,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(journalCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

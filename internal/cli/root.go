// Package cli wires the essaypipe commands: enqueue uploads, run the
// worker, inspect submissions, approve or reject them, export the roster.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"essaypipe/internal/config"
)

// Exit codes.
const (
	ExitSuccess       = 0
	ExitGenericError  = 1
	ExitConfigInvalid = 2
	ExitStoreFailure  = 3
)

// GlobalFlags holds flags shared across all commands.
type GlobalFlags struct {
	ConfigPath  string
	DataDir     string
	OCRProvider string
	LogLevel    string
	JSON        bool
	Quiet       bool
}

var globalFlags GlobalFlags

var rootCmd = &cobra.Command{
	Use:   "essaypipe",
	Short: "Essay contest submission pipeline",
	Long: "essaypipe ingests essay contest uploads, classifies and OCRs them,\n" +
		"extracts verified student metadata, and tracks every submission\n" +
		"through review to the final roster export.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "config file path (default: ./essaypipe.toml)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.DataDir, "data-dir", "", "data directory (default: ./.essaypipe)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.OCRProvider, "ocr-provider", "", "recognition backend: stub or google")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "machine-readable output")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Quiet, "quiet", false, "reduce output")

	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, mapping error classes to exit codes.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		st := newStyles(os.Stderr, globalFlags.JSON)
		fmt.Fprintln(os.Stderr, st.errPrefix(), err)
		if strings.HasPrefix(err.Error(), "CONFIG_INVALID") {
			os.Exit(ExitConfigInvalid)
		}
		os.Exit(ExitGenericError)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(config.Options{
		ConfigPath: globalFlags.ConfigPath,
		Overrides: &config.Overrides{
			DataDir:     globalFlags.DataDir,
			OCRProvider: globalFlags.OCRProvider,
			LogLevel:    globalFlags.LogLevel,
		},
	})
}

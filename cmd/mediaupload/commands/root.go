// Package commands implements the mediaupload CLI.
package commands

import (
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	verbose bool

	logger  = log.NewLogger()
	envRepo = env.NewRepository()
)

var rootCmd = &cobra.Command{
	Use:   "mediaupload",
	Short: "Resumable chunked media uploads",
	Long: `mediaupload sends a media file to the upload service in parts.

Endpoints, credentials and tuning are read from MEDIA_* environment variables.
Parts confirmed by an earlier run of the same session are not sent again.

Use "mediaupload [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.EnableDebugLog(verbose)
	},
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logs")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(stateCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

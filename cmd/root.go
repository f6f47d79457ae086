package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	configCmd "github.com/sidkik/syncotter/cmd/config"
	syncCmd "github.com/sidkik/syncotter/cmd/sync"
	"github.com/sidkik/syncotter/cmd/update"
	"github.com/sidkik/syncotter/cmd/util"
	"github.com/sidkik/syncotter/cmd/version"
	"github.com/sidkik/syncotter/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "SYNCOTTER_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		util.HandleFatalError(err)
	}
}

func newRootCommand() *cobra.Command {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "syncotter",
		Short:        "Copy new and changed files from one directory to another",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		configCmd.New(),
		syncCmd.New(),
		update.New(),
		version.New(),
		watch.New(),
	)
	return rootCmd
}

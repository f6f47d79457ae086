package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sidkik/syncotter/cmd/util"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/update"
	"github.com/sidkik/syncotter/pkg/version"
)

const checkTimeout = 30 * time.Second

// Mocked out for unit testing.
var (
	stdout      io.Writer = os.Stdout
	checkUpdate           = update.Check
)

// New creates a new `update` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Check whether a newer release of SyncOtter is available",
		Long: "Check the release manifest for a newer version of SyncOtter. " +
			"The manifest location can be overridden with the " +
			update.ManifestURLKey + " environment variable.",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()

			if err := run(ctx); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
}

func run(ctx context.Context) error {
	if !version.IsRelease() {
		fmt.Fprintln(stdout, "This is a development build of SyncOtter, "+
			"so there's nothing to compare against.")
		return nil
	}

	manifestURL := update.DefaultManifestURL
	if override := os.Getenv(update.ManifestURLKey); override != "" {
		manifestURL = override
	}
	log.WithField("url", manifestURL).Debug("Checking for updates")

	pp := util.NewProgressPrinter(stdout, "Checking for updates")
	go pp.Run()
	manifest, newer, err := checkUpdate(ctx, manifestURL, version.Version)
	pp.StopWithPrint(util.ClearProgress)
	if err != nil {
		return errors.WithContext(err, "check for updates")
	}

	if !newer {
		fmt.Fprintf(stdout, "SyncOtter %s is up to date.\n", version.Version)
		return nil
	}

	fmt.Fprintf(stdout, "SyncOtter %s is available (you have %s).\n",
		manifest.Version, version.Version)
	if manifest.Notes != "" {
		fmt.Fprintf(stdout, "\n%s\n", manifest.Notes)
	}
	if manifest.URL != "" {
		fmt.Fprintf(stdout, "\nDownload it from %s\n", manifest.URL)
	}
	return nil
}

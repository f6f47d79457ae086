package watch

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	syncCmd "github.com/sidkik/syncotter/cmd/sync"
	"github.com/sidkik/syncotter/cmd/util"
	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/fswatch"
	"github.com/sidkik/syncotter/pkg/netprofile"
	"github.com/sidkik/syncotter/pkg/report"
	"github.com/sidkik/syncotter/pkg/scan"
)

const (
	// pollInterval is how often the source is synced when changes can't be
	// watched, and how often it's synced anyway when they can.
	pollInterval = 5 * time.Minute

	// settleTime is how long to wait after a change before syncing, so that
	// a burst of writes is copied in one sync.
	settleTime = 2 * time.Second
)

// Mocked out for unit testing.
var (
	clock     = clockwork.NewRealClock()
	watchTree = fswatch.Watch
	syncOnce  = syncCmd.Once
)

// New creates a new `watch` command.
func New() *cobra.Command {
	var opts syncCmd.Options
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync, and then sync again whenever the source changes",
		Long: "Run a sync, and then keep running until interrupted, syncing " +
			"again whenever files in the source directory change.\n\n" +
			"If the source is a network share, or has too many directories " +
			"to watch, it's polled every few minutes instead.",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := syncCmd.SignalContext()
			defer cancel()

			if err := run(ctx, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	syncCmd.AddFlags(cmd, &opts)
	return cmd
}

func run(ctx context.Context, opts syncCmd.Options) error {
	cfg, err := syncCmd.LoadConfig(opts)
	if err != nil {
		return err
	}

	if opts.ReportPath != "" {
		log.AddHook(report.NewFileHook(opts.ReportPath,
			log.InfoLevel, log.WarnLevel, log.ErrorLevel))
	}

	changes, stop, err := watchSource(cfg)
	if err != nil {
		return err
	}
	defer stop()

	return loop(ctx, changes, func() error {
		_, err := syncOnce(ctx, cfg, opts)
		return err
	})
}

// watchSource returns a channel that receives a value whenever the source
// changes. The channel is nil if the source has to be polled.
func watchSource(cfg config.Config) (<-chan struct{}, func(), error) {
	noop := func() {}
	if netprofile.IsRemote(cfg.SourceDirectory) {
		log.Infof("The source is a network share. "+
			"SyncOtter will poll for changes every %s.", pollInterval)
		return nil, noop, nil
	}

	filter, err := scan.NewFilter(cfg.ExcludeDirectories, cfg.ExcludePatterns)
	if err != nil {
		return nil, noop, err
	}

	watcher, err := watchTree(cfg.SourceDirectory, filter)
	if err != nil {
		rootCause := errors.RootCause(err)
		if dneErr, ok := rootCause.(errors.FileNotFound); ok {
			return nil, noop, errors.NewFriendlyError(
				"Failed to watch files for syncing.\n"+
					"%q doesn't exist.\n\n"+
					"Is the sourceDirectory in the config correct?",
				dneErr.Path)
		}

		if fswatch.IsWatchLimit(err) {
			log.Warnf("Too many files for SyncOtter to automatically watch "+
				"for changes. SyncOtter will poll for changes every %s instead.",
				pollInterval)
			return nil, noop, nil
		}
		return nil, noop, errors.WithContext(err, "watch files")
	}

	stop := func() {
		if err := watcher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close file watcher")
		}
	}
	return watcher.Events(), stop, nil
}

// loop syncs once right away, and then again after every change or poll
// interval, until `ctx` is cancelled. Sync failures are logged rather than
// ending the loop.
func loop(ctx context.Context, changes <-chan struct{}, sync func() error) error {
	for {
		if err := sync(); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Error("Sync failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return errors.New("file watcher stopped")
			}
			log.Debug("Files changed. Waiting for them to settle.")
			if !settle(ctx, changes) {
				return nil
			}
		case <-clock.After(pollInterval):
		}
	}
}

// settle waits until no changes have happened for settleTime. It returns
// false if `ctx` is cancelled first.
func settle(ctx context.Context, changes <-chan struct{}) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case _, ok := <-changes:
			if !ok {
				return true
			}
		case <-clock.After(settleTime):
			return true
		}
	}
}

package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/sidkik/syncotter/cmd/util"
	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/engine"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/report"
)

// Mocked out for unit testing.
var (
	fs                   = afero.NewOsFs()
	stdout     io.Writer = os.Stdout
	runCommand           = runCommandImpl
	runSyncer            = func(ctx context.Context, syncer engine.Syncer) (engine.Summary, error) {
		return syncer.Run(ctx)
	}
)

// Options are the command line flags shared by `sync` and `watch`.
type Options struct {
	ConfigPath string
	ReportPath string
	NoProgress bool

	// Overrides are applied on top of the config file.
	Overrides config.Config
}

// AddFlags registers the flags for `opts` on `cmd`.
func AddFlags(cmd *cobra.Command, opts *Options) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "",
		"Path to the config file. Defaults to "+config.DefaultConfigPath+
			" if it exists.")
	flags.StringVar(&opts.ReportPath, "report", "",
		"Append a JSON line for every warning and sync summary to this file.")
	flags.BoolVar(&opts.NoProgress, "no-progress", false,
		"Don't draw the progress bar.")

	flags.StringVarP(&opts.Overrides.SourceDirectory, "source", "s", "",
		"The directory to copy from.")
	flags.StringVarP(&opts.Overrides.TargetDirectory, "target", "t", "",
		"The directory to copy to.")
	flags.StringSliceVar(&opts.Overrides.ExcludeDirectories, "exclude-dir", nil,
		"Directory names to skip wherever they appear.")
	flags.StringSliceVar(&opts.Overrides.ExcludePatterns, "exclude", nil,
		"File name patterns to skip, such as *.tmp.")
	flags.IntVarP(&opts.Overrides.ParallelCopies, "parallel", "p", 0,
		"Number of files to copy at once. Defaults to a value based on the network.")
	flags.Int64Var(&opts.Overrides.RateLimitBytesPerSec, "rate-limit", 0,
		"Maximum bytes per second for each large file transfer.")
	flags.StringVar(&opts.Overrides.CachePath, "cache", "",
		"Path to the fingerprint cache. Defaults to "+config.DefaultCachePath+".")
	flags.BoolVar(&opts.Overrides.StrictFingerprints, "strict", false,
		"Also compare a hash of each file's first bytes when detecting changes.")
	flags.BoolVar(&opts.Overrides.VerifyUnchanged, "verify", false,
		"Compare the contents of unchanged files with the target, and recopy "+
			"files that differ.")
	flags.BoolVar(&opts.Overrides.Resumable, "resumable", false,
		"Continue interrupted copies rather than starting over.")
	flags.StringVar(&opts.Overrides.ExecuteAfterSync, "exec", "",
		"A command to run after the sync completes.")
}

// New creates a new `sync` command.
func New() *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Copy new and changed files from the source to the target",
		Long: "Copy the files that changed since the last sync from the source " +
			"directory to the target directory. Files are never deleted from " +
			"the target.",
		Run: func(_ *cobra.Command, _ []string) {
			ctx, cancel := SignalContext()
			defer cancel()

			if err := run(ctx, opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	AddFlags(cmd, &opts)
	return cmd
}

func run(ctx context.Context, opts Options) error {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	if opts.ReportPath != "" {
		log.AddHook(report.NewFileHook(opts.ReportPath,
			log.InfoLevel, log.WarnLevel, log.ErrorLevel))
	}

	summary, err := Once(ctx, cfg, opts)
	if err != nil {
		return err
	}

	if summary.Errors > 0 {
		return errors.NewFriendlyError("%d of %d changed files failed to copy.",
			summary.Errors, summary.Errors+summary.FilesCopied)
	}
	return nil
}

// LoadConfig reads the config file, if there is one, and applies the command
// line overrides.
func LoadConfig(opts Options) (config.Config, error) {
	path := opts.ConfigPath
	explicit := path != ""
	if !explicit {
		path = config.DefaultConfigPath
	}

	var cfg config.Config
	var err error
	if _, statErr := fs.Stat(path); statErr == nil || explicit {
		cfg, err = config.Parse(path)
	} else {
		log.WithField("path", path).Debug("No config file. Using the environment and flags.")
		cfg, err = config.FromEnvironment()
	}
	if err != nil {
		return config.Config{}, errors.WithContext(err, "load config")
	}

	cfg, err = cfg.Merge(opts.Overrides)
	if err != nil {
		return config.Config{}, errors.WithContext(err, "apply flags")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.NewFriendlyError(
			"The configuration is invalid: %s\n\n"+
				"Set it in %s, or pass it as a flag. See `syncotter sync --help`.",
			err, path)
	}
	return cfg, nil
}

// Once runs a single sync, prints its summary, and then launches the
// configured post-sync command.
func Once(ctx context.Context, cfg config.Config, opts Options) (engine.Summary, error) {
	syncer := engine.Syncer{Config: cfg}

	var bar *util.ProgressBar
	if !opts.NoProgress {
		b := util.NewProgressBar(stdout)
		bar = &b
		syncer.Progress = func(p engine.Progress) {
			b.Update(p.Index, p.Total, p.FileName)
		}
	}

	summary, err := runSyncer(ctx, syncer)
	if bar != nil && summary.FilesCopied+summary.Errors > 0 {
		bar.Done()
	}
	if err != nil {
		return summary, errors.WithContext(err, "sync")
	}

	fmt.Fprintln(stdout, FormatSummary(summary))
	for _, failure := range summary.Failures {
		fmt.Fprintf(stdout, "\t%s: %s\n", failure.Path, util.GetPrintableMessage(failure.Err))
	}
	if hidden := summary.Errors - len(summary.Failures); hidden > 0 {
		fmt.Fprintf(stdout, "\t...and %d more\n", hidden)
	}

	if cfg.ExecuteAfterSync != "" {
		if err := runCommand(ctx, cfg.ExecuteAfterSync); err != nil {
			log.WithError(err).WithField("command", cfg.ExecuteAfterSync).Warn(
				"Post-sync command failed")
		}
	}
	return summary, nil
}

// FormatSummary describes a completed sync in one line.
func FormatSummary(summary engine.Summary) string {
	if summary.FilesCopied == 0 && summary.Errors == 0 {
		return fmt.Sprintf("Everything is up to date (%d files checked).",
			summary.FilesScanned)
	}

	msg := fmt.Sprintf("Copied %d files (%s) in %s",
		summary.FilesCopied,
		humanize.Bytes(uint64(summary.BytesCopied)),
		summary.Duration.Round(time.Millisecond))
	if summary.ThroughputBytesPerSec > 0 {
		msg += fmt.Sprintf(" at %s/s", humanize.Bytes(uint64(summary.ThroughputBytesPerSec)))
	}
	msg += "."

	if summary.Errors > 0 {
		msg += fmt.Sprintf(" %d failed:", summary.Errors)
	}
	return msg
}

// SignalContext returns a context that's cancelled on SIGINT or SIGTERM.
// Transfers that are already running are given time to finish.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runCommandImpl(ctx context.Context, command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

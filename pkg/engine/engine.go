package engine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/fingerprint"
	"github.com/sidkik/syncotter/pkg/netprofile"
	"github.com/sidkik/syncotter/pkg/pool"
	"github.com/sidkik/syncotter/pkg/resilience"
	"github.com/sidkik/syncotter/pkg/scan"
	"github.com/sidkik/syncotter/pkg/transfer"
)

const (
	// maxAttempts is how many times a single file is tried before it's
	// counted as failed.
	maxAttempts = 3

	// breakerThreshold is the number of consecutive failed attempts, across
	// all files, after which transfers are paused.
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second

	// shutdownGracePeriod bounds how long a cancelled run waits for
	// transfers that are already running.
	shutdownGracePeriod = 30 * time.Second
)

// Mocked out for unit testing.
var (
	fs              = afero.NewOsFs()
	clock           = clockwork.NewRealClock()
	transferFile    = transfer.Transfer
	resumeFile      = transfer.Resume
	verifyIntegrity = transfer.VerifyIntegrity
	retryBaseDelay  = 100 * time.Millisecond
)

// Syncer copies the files that changed in a source directory to a target
// directory. A Syncer may be run any number of times. Runs share nothing
// except the persisted fingerprint store.
type Syncer struct {
	Config config.Config

	// Log defaults to the standard logger.
	Log logrus.FieldLogger

	// Progress, if set, is called after every transfer.
	Progress ProgressFunc

	// Profiler measures the link to remote paths. It defaults to probing
	// over TCP.
	Profiler *netprofile.Profiler
}

// run holds the state of a single sync.
type run struct {
	id     string
	log    logrus.FieldLogger
	config config.Config

	source, target string

	store   *fingerprint.Store
	breaker *resilience.CircuitBreaker
	opts    transfer.Options
}

// Run performs one sync. The returned error is only non-nil if the sync
// couldn't start, because of an invalid config or an unreadable source, or
// if `ctx` was cancelled. Files that fail to copy are counted in the
// summary instead.
func (s Syncer) Run(ctx context.Context) (Summary, error) {
	start := clock.Now()
	r := &run{id: uuid.New().String(), config: s.Config}
	r.log = s.logger().WithField("runID", r.id)
	summary := Summary{RunID: r.id}

	if err := r.config.Validate(); err != nil {
		return summary, err
	}
	if r.config.MaxCacheEntries <= 0 {
		r.config.MaxCacheEntries = config.DefaultMaxCacheEntries
	}

	profiler := s.Profiler
	if profiler == nil {
		defaultProfiler := netprofile.NewProfiler()
		profiler = &defaultProfiler
	}
	summary.Network = netprofile.Worse(
		profiler.Profile(ctx, r.config.SourceDirectory),
		profiler.Profile(ctx, r.config.TargetDirectory))
	if summary.Network != nil {
		r.log.WithField("network", summary.Network.String()).Info("Profiled remote link")
	}

	r.config = netprofile.ApplyProfile(r.config, summary.Network)
	summary.Parallelism = r.config.ParallelCopies
	if summary.Parallelism == 0 {
		summary.Parallelism = netprofile.DefaultParallelCopies
	}

	if err := r.resolveDirectories(); err != nil {
		return summary, err
	}

	cachePath, err := r.config.ResolvedCachePath()
	if err != nil {
		return summary, errors.WithContext(err, "resolve cache path")
	}
	r.store = fingerprint.NewStore(fs, cachePath, clock)
	r.store.Load()

	filter, err := scan.NewFilter(r.config.ExcludeDirectories, r.config.ExcludePatterns)
	if err != nil {
		return summary, err
	}

	scanner := scan.Scanner{
		Fs:           fs,
		Fingerprints: r.store,
		Filter:       filter,
		Strict:       r.config.StrictFingerprints,
		Log:          r.log,
	}
	if r.config.VerifyUnchanged {
		scanner.Confirm = func(change scan.ChangeRecord) (bool, error) {
			intact, err := verifyIntegrity(ctx, change.Path, r.targetPath(change))
			return !intact, err
		}
	}

	result, err := scanner.Scan(r.source)
	if err != nil {
		return summary, errors.WithContext(err, "scan")
	}
	summary.FilesScanned = result.Scanned

	r.log.WithFields(logrus.Fields{
		"changed":     len(result.Changes),
		"scanned":     result.Scanned,
		"parallelism": summary.Parallelism,
	}).Info("Starting sync")

	r.breaker = resilience.NewCircuitBreaker(breakerThreshold, breakerCooldown, clock)
	r.opts = transfer.Options{
		RateLimitBytesPerSec: r.config.RateLimitBytesPerSec,
		Clock:                clock,
	}

	runErr := r.transferAll(ctx, result.Changes, summary.Parallelism, s.Progress, &summary)

	if evicted := r.store.Evict(r.config.MaxCacheEntries); evicted > 0 {
		r.log.WithField("evicted", evicted).Debug("Evicted fingerprints")
	}
	if err := r.store.Save(); err != nil {
		r.log.WithError(err).Warn("Failed to save fingerprints. " +
			"The next sync will copy files again.")
	}

	summary.finish(clock.Now().Sub(start))
	r.log.WithFields(logrus.Fields{
		"copied":     summary.FilesCopied,
		"bytes":      summary.BytesCopied,
		"errors":     summary.Errors,
		"duration":   summary.Duration.String(),
		"throughput": summary.ThroughputBytesPerSec,
	}).Info("Sync complete")
	return summary, runErr
}

// transferAll copies every change, and records the results. It's the only
// place where fingerprints are updated during the transfers.
func (r *run) transferAll(ctx context.Context, changes []scan.ChangeRecord,
	parallelism int, progress ProgressFunc, summary *Summary) error {

	if len(changes) == 0 {
		return ctx.Err()
	}

	workers := pool.New(ctx, parallelism, r.execute, r.log)

	outcomes := make(chan pool.Outcome, len(changes))
	submitted := map[*pool.Task]scan.ChangeRecord{}
	for _, change := range changes {
		task := &pool.Task{
			Source: change.Path,
			Target: r.targetPath(change),
			Size:   change.Size,
		}
		submitted[task] = change
		workers.SubmitTo(task, outcomes)
	}

	linkDown := false
	for i := 1; i <= len(changes); i++ {
		outcome := <-outcomes
		change := submitted[outcome.Task]

		if outcome.Err == nil {
			r.store.RecordDigest(change.Path, change.Size, change.ModTime, change.Digest)
			summary.FilesCopied++
			summary.BytesCopied += change.Size
		} else {
			summary.addFailure(change.RelPath, outcome.Err)
			if !errors.Is(outcome.Err, errors.ErrLinkUnavailable) {
				r.log.WithError(outcome.Err).WithFields(logrus.Fields{
					"path":    change.RelPath,
					"attempt": outcome.Task.Attempt,
				}).Warn("Failed to copy file")
			}

			// Retrying the remaining files would only hit the open breaker,
			// so they're abandoned.
			if errors.Is(outcome.Err, errors.ErrCircuitOpen) && !linkDown {
				linkDown = true
				cancelled := workers.CancelPending(errors.ErrLinkUnavailable)
				r.log.WithField("abandoned", cancelled).Error(
					"Link to the source or target is unavailable. Stopping the sync.")
			}
		}

		if progress != nil {
			progress(Progress{
				RunID:    r.id,
				Index:    i,
				Total:    len(changes),
				FileName: change.RelPath,
				Copied:   summary.FilesCopied,
				Err:      outcome.Err,
			})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := workers.Shutdown(shutdownCtx); err != nil {
		r.log.WithError(err).Warn("Failed to stop workers")
	}
	return ctx.Err()
}

// execute copies a single file. Each attempt goes through the run's circuit
// breaker, so that a target that disappeared stops all transfers quickly.
func (r *run) execute(ctx context.Context, task *pool.Task) error {
	copyFile := transferFile
	if r.config.Resumable {
		copyFile = resumeFile
	}

	return resilience.Retry(ctx, maxAttempts, retryBaseDelay, func(ctx context.Context) error {
		task.Attempt++
		return r.breaker.Execute(func() error {
			_, err := copyFile(ctx, task.Source, task.Target, r.opts)
			return err
		})
	})
}

func (r *run) targetPath(change scan.ChangeRecord) string {
	return filepath.Join(r.target, change.RelPath)
}

// resolveDirectories canonicalizes the source and target, and creates the
// target if it doesn't exist yet.
func (r *run) resolveDirectories() error {
	var err error
	if r.source, err = canonicalDir(r.config.SourceDirectory); err != nil {
		return err
	}
	if r.target, err = canonicalDir(r.config.TargetDirectory); err != nil {
		return err
	}

	if r.source == r.target || isWithin(r.target, r.source) {
		return errors.ConfigError{Reason: "targetDirectory must not be inside sourceDirectory"}
	}

	if err := fs.MkdirAll(r.target, 0755); err != nil {
		return errors.ConfigError{
			Reason: errors.WithContext(err, "create targetDirectory").Error(),
		}
	}
	return nil
}

func canonicalDir(path string) (string, error) {
	// Network shares are left as is, since they aren't valid local paths on
	// every platform.
	if netprofile.IsRemote(path) {
		return path, nil
	}
	return fingerprint.CanonicalPath(path)
}

func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s Syncer) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

package engine

import (
	"time"

	"github.com/sidkik/syncotter/pkg/netprofile"
)

// Progress is reported once for every file whose transfer finished, whether
// or not it succeeded. Events are delivered one at a time, in the order the
// transfers complete, which generally differs from the order in which the
// files were found.
type Progress struct {
	RunID string

	// Index counts completed files, starting at 1.
	Index int
	Total int

	// FileName is the path of the file relative to the source directory.
	FileName string

	// Copied is the number of files successfully copied so far.
	Copied int

	// Err is why the file couldn't be copied, if it failed.
	Err error
}

// ProgressFunc receives progress events.
type ProgressFunc func(Progress)

// FileError is a file that couldn't be copied.
type FileError struct {
	Path string
	Err  error
}

// Summary describes a finished sync.
type Summary struct {
	RunID string

	// FilesScanned is the number of source files that weren't excluded.
	FilesScanned int

	FilesCopied int
	BytesCopied int64
	Errors      int

	// Failures holds the first failures of the run, in completion order.
	Failures []FileError

	Duration              time.Duration
	ThroughputBytesPerSec float64

	// Parallelism is the number of concurrent transfers that was used.
	Parallelism int

	// Network is the profile of the slowest remote path, if either path is
	// remote.
	Network *netprofile.Profile
}

// maxReportedFailures bounds Summary.Failures.
const maxReportedFailures = 20

func (summary *Summary) addFailure(path string, err error) {
	summary.Errors++
	if len(summary.Failures) < maxReportedFailures {
		summary.Failures = append(summary.Failures, FileError{Path: path, Err: err})
	}
}

func (summary *Summary) finish(duration time.Duration) {
	summary.Duration = duration
	if seconds := duration.Seconds(); seconds > 0 {
		summary.ThroughputBytesPerSec = float64(summary.BytesCopied) / seconds
	}
}

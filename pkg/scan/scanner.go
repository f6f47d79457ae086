package scan

import (
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/fingerprint"
)

// ChangeRecord is a source file that needs to be copied to the target.
type ChangeRecord struct {
	// Path is the canonical absolute path of the file.
	Path string

	// RelPath is the path of the file relative to the root of the source
	// tree. It's also where the file goes relative to the target.
	RelPath string

	Size    int64
	ModTime time.Time
	Mode    os.FileMode

	// Digest is the file's quick hash. It's only computed in strict mode.
	Digest string
}

// Fingerprints is the view of the fingerprint store that the scanner needs.
type Fingerprints interface {
	NeedsTransfer(path string, size int64, modTime time.Time) bool
	DigestMatches(path, digest string) bool
	Touch(path string)
}

// Result is the outcome of a scan.
type Result struct {
	Changes []ChangeRecord

	// Scanned is the number of files that weren't excluded.
	Scanned int

	// Skipped is the number of entries that couldn't be read.
	Skipped int
}

// Bytes returns the combined size of all changes.
func (result Result) Bytes() (total int64) {
	for _, change := range result.Changes {
		total += change.Size
	}
	return total
}

// Scanner walks a source tree and finds the files that changed since they
// were last synced.
type Scanner struct {
	Fs           afero.Fs
	Fingerprints Fingerprints
	Filter       *Filter

	// Strict makes the scanner compare quick hashes in addition to the size
	// and modification time.
	Strict bool

	// Confirm, if set, is asked about every file whose fingerprint says it's
	// unchanged. It returns whether the file needs to be copied anyway.
	Confirm func(ChangeRecord) (bool, error)

	Log logrus.FieldLogger
}

// Scan walks `root` and returns every file that needs to be copied. The full
// change set is collected before returning so that callers know the total up
// front. Only a failure to read `root` itself is returned as an error.
// Unreadable entries below it are logged and skipped.
func (scanner Scanner) Scan(root string) (Result, error) {
	root, err := fingerprint.CanonicalPath(root)
	if err != nil {
		return Result{}, err
	}

	info, err := scanner.Fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, errors.FileNotFound{Path: root}
		}
		return Result{}, errors.WithContext(err, "stat source")
	}

	if !info.IsDir() {
		return Result{}, errors.NewFriendlyError("The source %q is not a directory.", root)
	}

	var result Result
	err = afero.Walk(scanner.Fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if path == root {
				return err
			}

			result.Skipped++
			scanner.log().WithError(err).WithField("path", path).Warn("Failed to read. Skipping.")
			return nil
		}

		if info.IsDir() {
			if path != root && scanner.Filter.ExcludesDir(info.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		// Only regular files are synced. Symlinks, devices and sockets are
		// ignored.
		if !info.Mode().IsRegular() {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}

		if scanner.Filter.Excludes(relPath) {
			return nil
		}
		result.Scanned++

		change := ChangeRecord{
			Path:    path,
			RelPath: relPath,
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Mode:    info.Mode(),
		}

		changed, err := scanner.changed(&change)
		if err != nil {
			result.Skipped++
			scanner.log().WithError(err).WithField("path", path).Warn("Failed to fingerprint. Skipping.")
			return nil
		}

		if changed {
			result.Changes = append(result.Changes, change)
		} else {
			scanner.Fingerprints.Touch(path)
		}
		return nil
	})
	if err != nil {
		return Result{}, errors.WithContext(err, "walk source")
	}

	scanner.log().WithFields(logrus.Fields{
		"root":    root,
		"scanned": result.Scanned,
		"changed": len(result.Changes),
		"skipped": result.Skipped,
	}).Debug("Finished scan")
	return result, nil
}

func (scanner Scanner) changed(change *ChangeRecord) (bool, error) {
	needsTransfer := scanner.Fingerprints.NeedsTransfer(change.Path, change.Size, change.ModTime)

	if scanner.Strict {
		digest, err := fingerprint.QuickHash(scanner.Fs, change.Path)
		if err != nil {
			return false, errors.WithContext(err, "quick hash")
		}
		change.Digest = digest

		if !needsTransfer && !scanner.Fingerprints.DigestMatches(change.Path, digest) {
			scanner.log().WithField("path", change.Path).Debug(
				"Contents changed without changing size or modification time")
			needsTransfer = true
		}
	}

	if !needsTransfer && scanner.Confirm != nil {
		confirmed, err := scanner.Confirm(*change)
		if err != nil {
			scanner.log().WithError(err).WithField("path", change.Path).Warn(
				"Failed to verify unchanged file. Copying it again.")
			return true, nil
		}
		needsTransfer = confirmed
	}
	return needsTransfer, nil
}

func (scanner Scanner) log() logrus.FieldLogger {
	if scanner.Log == nil {
		return logrus.StandardLogger()
	}
	return scanner.Log
}

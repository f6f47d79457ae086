package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

// Resume copies `src` to `dst`, continuing from wherever a previous copy to
// `dst` stopped. The bytes already at `dst` are only kept if they're a prefix
// of `src`. Any other destination, such as an older version of the file, is
// rewritten from the start.
//
// Unlike Transfer, Resume writes directly to `dst`, so an interrupted copy
// leaves its progress behind for the next attempt. It returns the number of
// bytes written.
func Resume(ctx context.Context, src, dst string, opts Options) (int64, error) {
	srcFile, err := fs.Open(src)
	if err != nil {
		return 0, errors.WithContext(err, "open source")
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return 0, errors.WithContext(err, "stat source")
	}

	dstDir := filepath.Dir(dst)
	if err := fs.MkdirAll(dstDir, 0755); err != nil {
		return 0, errors.WithContext(err, "make parent")
	}

	offset, err := resumeOffset(ctx, srcFile, srcInfo.Size(), dst)
	if err != nil {
		return 0, err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if offset == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	if err := CheckFreeSpace(dstDir, uint64(srcInfo.Size()-offset)); err != nil {
		return 0, err
	}

	if _, err := srcFile.Seek(offset, io.SeekStart); err != nil {
		return 0, errors.WithContext(err, "seek source")
	}

	dstFile, err := fs.OpenFile(dst, flags, srcInfo.Mode().Perm())
	if err != nil {
		return 0, errors.WithContext(err, "open destination")
	}

	written, err := copyChunked(ctx, dstFile, srcFile, newThrottle(opts))
	if err != nil {
		dstFile.Close()
		return written, errors.WithContext(err, "append")
	}

	// Closed exactly once, because closing again would bump the modification
	// time on some filesystems.
	if err := dstFile.Close(); err != nil {
		return written, errors.WithContext(err, "close destination")
	}

	dstInfo, err := fs.Stat(dst)
	if err != nil {
		return written, errors.WithContext(err, "stat destination")
	}

	if dstInfo.Size() != srcInfo.Size() {
		return written, errors.IncompleteTransferError{
			Path:     dst,
			Expected: srcInfo.Size(),
			Actual:   dstInfo.Size(),
		}
	}

	if offset > 0 {
		log.WithFields(log.Fields{
			"path":   dst,
			"offset": offset,
		}).Debug("Resumed interrupted copy")
	}
	return written, preserveAttributes(dst, srcInfo)
}

// resumeOffset returns how many bytes of `src` are already at `dst`. It's
// zero if `dst` doesn't exist, or if its contents aren't a prefix of `src`.
func resumeOffset(ctx context.Context, src afero.File, srcSize int64, dst string) (int64, error) {
	dstInfo, err := fs.Stat(dst)
	switch {
	case os.IsNotExist(err):
		return 0, nil
	case err != nil:
		return 0, errors.WithContext(err, "stat destination")
	}

	offset := dstInfo.Size()
	if offset == 0 {
		return 0, nil
	}

	if offset > srcSize {
		log.WithFields(log.Fields{
			"path":        dst,
			"destination": offset,
			"source":      srcSize,
		}).Info("Destination is larger than the source. Restarting the copy.")
		return 0, nil
	}

	srcPrefix, err := hashPrefix(ctx, src, offset)
	if err != nil {
		return 0, errors.WithContext(err, "hash source")
	}

	dstFile, err := fs.Open(dst)
	if err != nil {
		return 0, errors.WithContext(err, "open destination")
	}
	defer dstFile.Close()

	dstPrefix, err := hashPrefix(ctx, dstFile, offset)
	if err != nil {
		return 0, errors.WithContext(err, "hash destination")
	}

	if srcPrefix != dstPrefix {
		log.WithField("path", dst).Debug(
			"Destination isn't a partial copy of the source. Restarting the copy.")
		return 0, nil
	}
	return offset, nil
}

func hashPrefix(ctx context.Context, f io.ReadSeeker, n int64) (uint64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	hasher := xxhash.New()
	if _, err := io.CopyN(hasher, contextReader{ctx, f}, n); err != nil {
		return 0, err
	}
	return hasher.Sum64(), nil
}

package transfer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/klauspost/compress/gzip"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

const (
	// CompressThreshold is the size below which files are copied through a
	// compressed intermediate file.
	CompressThreshold = 100 * 1024

	// ChunkThreshold is the size above which files are copied in chunks, and
	// throttled if a rate limit is configured.
	ChunkThreshold = 50 * 1024 * 1024

	// ChunkSize is the read buffer size for chunked copies.
	ChunkSize = 8 * 1024 * 1024

	tempPrefix = ".syncotter-"
)

// Mocked out for unit testing.
var (
	fs        = afero.NewOsFs()
	freeSpace = freeSpaceImpl
)

// Method is a way of copying a file.
type Method int

const (
	// Direct copies the whole file in one stream.
	Direct Method = iota

	// Compressed compresses the file into an intermediate file, and
	// decompresses it into the destination.
	Compressed

	// Chunked copies the file with a large buffer, and throttles each chunk.
	Chunked
)

func (m Method) String() string {
	switch m {
	case Compressed:
		return "compressed"
	case Chunked:
		return "chunked"
	default:
		return "direct"
	}
}

// SelectMethod returns how a file of `size` bytes is copied.
func SelectMethod(size int64) Method {
	switch {
	case size < CompressThreshold:
		return Compressed
	case size > ChunkThreshold:
		return Chunked
	default:
		return Direct
	}
}

// Options tune a single transfer.
type Options struct {
	// RateLimitBytesPerSec throttles chunked copies. Zero disables
	// throttling.
	RateLimitBytesPerSec int64

	// Clock drives the throttle. It defaults to the real clock.
	Clock clockwork.Clock
}

// Transfer copies `src` to `dst`, creating the destination directory if
// necessary. The copy is written to a temporary file next to `dst`, and only
// renamed into place once it's complete, so a failed transfer never leaves a
// partial file at `dst`. The mode and modification time of `src` are
// preserved. It returns the number of bytes copied.
func Transfer(ctx context.Context, src, dst string, opts Options) (int64, error) {
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

	if err := CheckFreeSpace(dstDir, uint64(srcInfo.Size())); err != nil {
		return 0, err
	}

	tmp, err := afero.TempFile(fs, dstDir, tempPrefix+filepath.Base(dst))
	if err != nil {
		return 0, errors.WithContext(err, "create temp file")
	}

	// A second Close would reset the modification time on some filesystems,
	// so the deferred cleanup only closes a file that's still open.
	closed, renamed := false, false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if !renamed {
			if err := fs.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
				log.WithError(err).WithField("path", tmp.Name()).Warn(
					"Failed to clean up temporary file")
			}
		}
	}()

	method := SelectMethod(srcInfo.Size())
	var written int64
	switch method {
	case Compressed:
		written, err = copyCompressed(tmp, srcFile, dstDir)
	case Chunked:
		written, err = copyChunked(ctx, tmp, srcFile, newThrottle(opts))
	default:
		written, err = io.Copy(tmp, srcFile)
	}
	if err != nil {
		return 0, errors.WithContext(err, method.String()+" copy")
	}

	closed = true
	if err := tmp.Close(); err != nil {
		return 0, errors.WithContext(err, "close temp file")
	}

	if written != srcInfo.Size() {
		return 0, errors.IncompleteTransferError{
			Path:     dst,
			Expected: srcInfo.Size(),
			Actual:   written,
		}
	}

	if err := preserveAttributes(tmp.Name(), srcInfo); err != nil {
		return 0, err
	}

	if err := fs.Rename(tmp.Name(), dst); err != nil {
		return 0, errors.WithContext(err, "rename into place")
	}
	renamed = true

	log.WithFields(log.Fields{
		"path":   dst,
		"method": method,
		"bytes":  written,
	}).Debug("Transferred file")
	return written, nil
}

func preserveAttributes(path string, srcInfo os.FileInfo) error {
	if err := fs.Chmod(path, srcInfo.Mode()); err != nil {
		return errors.WithContext(err, "set file mode")
	}

	// Change the modification time as the last step so that it doesn't get
	// reset by other file operations.
	if err := fs.Chtimes(path, time.Now(), srcInfo.ModTime()); err != nil {
		return errors.WithContext(err, "set file modtime")
	}
	return nil
}

// copyCompressed streams `src` through gzip into an intermediate file in
// `dir`, and then decompresses the intermediate file into `dst`.
func copyCompressed(dst io.Writer, src io.Reader, dir string) (int64, error) {
	gzFile, err := afero.TempFile(fs, dir, tempPrefix+"gz-")
	if err != nil {
		return 0, errors.WithContext(err, "create intermediate file")
	}
	defer func() {
		gzFile.Close()
		fs.Remove(gzFile.Name())
	}()

	gzWriter := gzip.NewWriter(gzFile)
	if _, err := io.Copy(gzWriter, src); err != nil {
		return 0, errors.WithContext(err, "compress")
	}

	if err := gzWriter.Close(); err != nil {
		return 0, errors.WithContext(err, "flush compressor")
	}

	if _, err := gzFile.Seek(0, io.SeekStart); err != nil {
		return 0, errors.WithContext(err, "rewind intermediate file")
	}

	gzReader, err := gzip.NewReader(gzFile)
	if err != nil {
		return 0, errors.WithContext(err, "open decompressor")
	}
	defer gzReader.Close()

	written, err := io.Copy(dst, gzReader)
	if err != nil {
		return 0, errors.WithContext(err, "decompress")
	}
	return written, nil
}

// copyChunked copies `src` to `dst` ChunkSize bytes at a time. If `throttle`
// is non-nil, each chunk is delayed to keep under the rate limit.
func copyChunked(ctx context.Context, dst io.Writer, src io.Reader, throttle *Throttle) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			if throttle != nil {
				if err := throttle.Wait(ctx, n); err != nil {
					return written, err
				}
			}

			if _, err := dst.Write(buf[:n]); err != nil {
				return written, errors.WithContext(err, "write")
			}
			written += int64(n)
		}

		switch readErr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			return written, nil
		default:
			return written, errors.WithContext(readErr, "read")
		}
	}
}

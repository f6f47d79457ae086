package transfer

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/sidkik/syncotter/pkg/errors"
)

// VerifyIntegrity returns whether `dst` has the same contents as `src`. Both
// files are hashed in parallel. A missing `dst` doesn't match.
func VerifyIntegrity(ctx context.Context, src, dst string) (bool, error) {
	srcInfo, err := fs.Stat(src)
	if err != nil {
		return false, errors.WithContext(err, "stat source")
	}

	dstInfo, err := fs.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.WithContext(err, "stat destination")
	}

	if srcInfo.Size() != dstInfo.Size() {
		return false, nil
	}

	var srcHash, dstHash string
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		srcHash, err = hashFile(ctx, src)
		return errors.WithContext(err, "hash source")
	})
	g.Go(func() (err error) {
		dstHash, err = hashFile(ctx, dst)
		return errors.WithContext(err, "hash destination")
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return srcHash == dstHash, nil
}

// HashFile returns the sha512 hash of the file at the given path.
func HashFile(path string) (string, error) {
	return hashFile(context.Background(), path)
}

func hashFile(ctx context.Context, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	hasher := sha512.New()
	if _, err := io.Copy(hasher, contextReader{ctx, f}); err != nil {
		return "", errors.WithContext(err, "read")
	}

	return base64.StdEncoding.EncodeToString(hasher.Sum(nil)), nil
}

// contextReader stops reading once its context is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

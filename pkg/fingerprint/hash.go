package fingerprint

import (
	"io"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

// QuickHashSize is the number of leading bytes covered by QuickHash.
const QuickHashSize = 1024

// QuickHash returns a digest of the first QuickHashSize bytes of the file at
// `path`. It's much cheaper than hashing the whole file, and is only meant
// to detect changes that the size and modification time miss.
func QuickHash(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.CopyN(h, f, QuickHashSize); err != nil && err != io.EOF {
		return "", errors.WithContext(err, "read")
	}
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// CanonicalPath returns the key under which `path` is tracked.
func CanonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.WithContext(err, "absolute path")
	}
	return filepath.Clean(abs), nil
}

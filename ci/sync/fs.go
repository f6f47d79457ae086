package sync

import (
	"bytes"
	"io/ioutil"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sidkik/syncotter/pkg/errors"
)

type file struct {
	path     string
	contents string
	mode     os.FileMode
	modTime  time.Time
}

func (f file) WithContents(contents string) file {
	f.contents = contents
	return f
}

func (f file) WithModTime(modTime time.Time) file {
	f.modTime = modTime
	return f
}

func randomFile(path string) file {
	randomTime := time.Date(2019, 11, 10, rand.Intn(23), rand.Intn(59), rand.Intn(59), 0, time.UTC)
	return file{
		path:     path,
		contents: strconv.Itoa(rand.Int()),
		mode:     os.FileMode(0640 | rand.Intn(8)),
		modTime:  randomTime,
	}
}

func (f file) write(root string) error {
	path := filepath.Join(root, f.path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "make parent")
	}

	if err := ioutil.WriteFile(path, []byte(f.contents), f.mode); err != nil {
		return errors.WithContext(err, "write")
	}

	// Set the mode explicitly because WriteFile is subject to the umask.
	if err := os.Chmod(path, f.mode); err != nil {
		return errors.WithContext(err, "chmod")
	}
	return os.Chtimes(path, f.modTime, f.modTime)
}

// check returns an error if the copy of `f` under `root` doesn't match it.
func (f file) check(root string) error {
	path := filepath.Join(root, f.path)
	fi, err := os.Stat(path)
	if err != nil {
		return errors.WithContext(err, "stat")
	}

	contents, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.WithContext(err, "read")
	}

	switch {
	case !bytes.Equal(contents, []byte(f.contents)):
		return errors.New("contents differ: " + f.path)
	case fi.Mode() != f.mode:
		return errors.New("mode differs: " + f.path)
	case !fi.ModTime().Equal(f.modTime):
		return errors.New("modification time differs: " + f.path)
	}
	return nil
}

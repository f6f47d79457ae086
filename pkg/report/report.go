// Package report persists log entries, such as the summary of each sync, to a
// file of JSON lines so that runs can be audited after the fact.
package report

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/version"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// formatter formats entries with stable key names, so that reports don't
// depend on logrus's defaults.
var formatter = &logrus.JSONFormatter{
	FieldMap: logrus.FieldMap{
		logrus.FieldKeyTime:  "timestamp",
		logrus.FieldKeyLevel: "status",
		logrus.FieldKeyMsg:   "message",
	},
}

type fileHook struct {
	path   string
	levels []logrus.Level

	lock sync.Mutex
}

// NewFileHook creates a hook that appends entries at `levels` to the file at
// `path`. All levels are recorded if none are given.
func NewFileHook(path string, levels ...logrus.Level) logrus.Hook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &fileHook{path: path, levels: levels}
}

func (h *fileHook) Levels() []logrus.Level {
	return h.levels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	data := logrus.Fields{"version": version.Version}
	for k, v := range entry.Data {
		data[k] = v
	}

	// Copy the entry so that the version isn't added to the entry seen by
	// other hooks and formatters.
	entryCopy := *entry
	entryCopy.Data = data

	line, err := formatter.Format(&entryCopy)
	if err != nil {
		logrus.WithError(err).Debug("Failed to marshal log entry for report")
		return nil
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if err := h.append(line); err != nil {
		logrus.WithError(err).WithField("path", h.path).Debug("Failed to write report")
	}

	// Never return an error because doing so causes the error to be printed
	// directly to `stderr`, which messes up the progress output:
	// https://github.com/Sirupsen/logrus/issues/116
	return nil
}

func (h *fileHook) append(line []byte) error {
	if err := fs.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return err
	}

	f, err := fs.OpenFile(h.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

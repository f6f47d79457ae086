package fingerprint

import (
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// storeVersion is bumped whenever the on-disk format changes. Stores written
// with a different version are discarded on load.
const storeVersion = 1

// Entry is the last known state of a file that was copied to the target.
type Entry struct {
	// Path is the canonical absolute path of the source file. It's the key of
	// the store, so it isn't repeated in the serialized entry.
	Path string `json:"-"`

	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`

	// LastUsed is when the entry was last recorded or confirmed. It decides
	// which entries are evicted first.
	LastUsed time.Time `json:"lastUsed"`

	// Digest is the quick hash of the file. It's only set when the file was
	// synced with strict fingerprints.
	Digest string `json:"digest,omitempty"`
}

type storeFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Store tracks the entries of all files that have been synced. It's safe for
// concurrent use.
type Store struct {
	fs    afero.Fs
	path  string
	clock clockwork.Clock

	entries map[string]Entry
	lock    sync.Mutex
}

// NewStore returns an empty store that's persisted at `path`.
func NewStore(fs afero.Fs, path string, clock clockwork.Clock) *Store {
	return &Store{
		fs:      fs,
		path:    path,
		clock:   clock,
		entries: map[string]Entry{},
	}
}

// Load replaces the store's contents with the entries persisted on disk. A
// missing or unreadable file results in an empty store, which makes the next
// sync copy everything.
func (store *Store) Load() {
	store.lock.Lock()
	defer store.lock.Unlock()

	store.entries = map[string]Entry{}

	contents, err := afero.ReadFile(store.fs, store.path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("path", store.path).Debug("No fingerprint store. Starting fresh.")
		} else {
			log.WithError(err).WithField("path", store.path).Warn(
				"Failed to read fingerprint store. All files will be copied.")
		}
		return
	}

	var persisted storeFile
	if err := json.Unmarshal(contents, &persisted); err != nil {
		log.WithError(err).WithField("path", store.path).Warn(
			"Fingerprint store is corrupt. All files will be copied.")
		return
	}

	if persisted.Version != storeVersion {
		log.WithField("version", persisted.Version).Info(
			"Fingerprint store was written by a different version of SyncOtter. Discarding it.")
		return
	}

	for path, entry := range persisted.Entries {
		entry.Path = path
		store.entries[path] = entry
	}
}

// Save atomically replaces the persisted store with the current entries. The
// entries are written to a temporary file next to the store, and then renamed
// over it, so a crash never leaves a partially written store behind.
func (store *Store) Save() error {
	store.lock.Lock()
	persisted := storeFile{Version: storeVersion, Entries: map[string]Entry{}}
	for path, entry := range store.entries {
		persisted.Entries[path] = entry
	}
	store.lock.Unlock()

	contents, err := json.Marshal(persisted)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	dir := filepath.Dir(store.path)
	if err := store.fs.MkdirAll(dir, 0755); err != nil {
		return errors.WithContext(err, "make parent directory")
	}

	tmp, err := afero.TempFile(store.fs, dir, filepath.Base(store.path)+".tmp")
	if err != nil {
		return errors.WithContext(err, "create temp file")
	}

	// Cleanup is a no-op once the rename succeeds.
	defer store.fs.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return errors.WithContext(err, "write")
	}

	if err := tmp.Close(); err != nil {
		return errors.WithContext(err, "close")
	}

	if err := store.fs.Rename(tmp.Name(), store.path); err != nil {
		return errors.WithContext(err, "rename")
	}
	return nil
}

// NeedsTransfer returns whether the file at `path` changed since it was last
// recorded. It only compares metadata, and never reads the file.
func (store *Store) NeedsTransfer(path string, size int64, modTime time.Time) bool {
	store.lock.Lock()
	defer store.lock.Unlock()

	entry, ok := store.entries[path]
	return !ok || entry.Size != size || !entry.ModTime.Equal(modTime)
}

// DigestMatches returns whether the recorded quick hash for `path` equals
// `digest`. Entries recorded without a digest never match.
func (store *Store) DigestMatches(path, digest string) bool {
	store.lock.Lock()
	defer store.lock.Unlock()

	entry, ok := store.entries[path]
	return ok && entry.Digest != "" && entry.Digest == digest
}

// Record upserts the entry for `path`.
func (store *Store) Record(path string, size int64, modTime time.Time) {
	store.RecordDigest(path, size, modTime, "")
}

// RecordDigest upserts the entry for `path`, along with its quick hash.
func (store *Store) RecordDigest(path string, size int64, modTime time.Time, digest string) {
	store.lock.Lock()
	defer store.lock.Unlock()

	store.entries[path] = Entry{
		Path:     path,
		Size:     size,
		ModTime:  modTime,
		LastUsed: store.clock.Now(),
		Digest:   digest,
	}
}

// Touch marks the entry for `path` as used, so that it isn't evicted in
// favor of entries for files that changed more recently.
func (store *Store) Touch(path string) {
	store.lock.Lock()
	defer store.lock.Unlock()

	if entry, ok := store.entries[path]; ok {
		entry.LastUsed = store.clock.Now()
		store.entries[path] = entry
	}
}

// Forget removes the entry for `path`, if there is one.
func (store *Store) Forget(path string) {
	store.lock.Lock()
	defer store.lock.Unlock()

	delete(store.entries, path)
}

// Evict removes the least recently used entries until at most `maxEntries`
// remain. It returns the number of entries removed.
func (store *Store) Evict(maxEntries int) int {
	store.lock.Lock()
	defer store.lock.Unlock()

	if maxEntries < 0 {
		maxEntries = 0
	}

	toRemove := len(store.entries) - maxEntries
	if toRemove <= 0 {
		return 0
	}

	entries := make([]Entry, 0, len(store.entries))
	for _, entry := range store.entries {
		entries = append(entries, entry)
	}

	// Break ties by path so that eviction is deterministic.
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LastUsed.Equal(entries[j].LastUsed) {
			return entries[i].LastUsed.Before(entries[j].LastUsed)
		}
		return entries[i].Path < entries[j].Path
	})

	for _, entry := range entries[:toRemove] {
		delete(store.entries, entry.Path)
	}
	return toRemove
}

// Get returns the entry for `path`.
func (store *Store) Get(path string) (Entry, bool) {
	store.lock.Lock()
	defer store.lock.Unlock()

	entry, ok := store.entries[path]
	return entry, ok
}

// Len returns the number of tracked files.
func (store *Store) Len() int {
	store.lock.Lock()
	defer store.lock.Unlock()

	return len(store.entries)
}

package transfer

import (
	"github.com/shirou/gopsutil/v3/disk"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/errors"
)

// CheckFreeSpace returns an InsufficientSpaceError if the volume containing
// `dir` has less than `required` bytes free. Volumes whose usage can't be
// queried are assumed to have enough space, since the write itself will
// still fail if they don't.
func CheckFreeSpace(dir string, required uint64) error {
	available, err := freeSpace(dir)
	if err != nil {
		log.WithError(err).WithField("path", dir).Debug(
			"Failed to query free space. Skipping preflight check.")
		return nil
	}

	if available < required {
		return errors.InsufficientSpaceError{
			Path:      dir,
			Required:  required,
			Available: available,
		}
	}
	return nil
}

func freeSpaceImpl(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, errors.WithContext(err, "disk usage")
	}
	return usage.Free, nil
}

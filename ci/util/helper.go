package util

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/errors"
)

// TestHelper contains methods commonly used during integration tests.
type TestHelper struct {
	// Root is a scratch directory that's removed after the tests.
	Root string
}

// NewTestHelper creates a new TestHelper.
func NewTestHelper(root string) *TestHelper {
	return &TestHelper{Root: root}
}

// WriteConfig writes a config for syncing `source` to `target`, and returns
// its path. The fingerprint cache is kept inside the scratch directory.
func (helper *TestHelper) WriteConfig(name string, cfg config.Config) (string, error) {
	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(helper.Root, name+"-cache.json")
	}
	cfg.Version = config.SupportedConfigVersion

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return "", errors.WithContext(err, "marshal")
	}

	path := filepath.Join(helper.Root, name+".yaml")
	if err := afero.WriteFile(afero.NewOsFs(), path, yamlBytes, 0644); err != nil {
		return "", errors.WithContext(err, "write")
	}
	return path, nil
}

// Start starts the given SyncOtter command. It returns a reader for the
// stdout output, and a channel for obtaining any errors after starting the
// command. The command is stopped with SIGTERM when `ctx` is cancelled.
func (helper *TestHelper) Start(ctx context.Context, args ...string) (
	io.Reader, chan error, error) {

	cmd := exec.Command("syncotter", args...)

	stdoutReader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}

	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	errChan := make(chan error)
	go func() {
		waitErr := make(chan error)
		go func() {
			waitErr <- cmd.Wait()
			close(waitErr)
		}()

		defer close(errChan)
		select {
		case <-ctx.Done():
			if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
				errChan <- errors.WithContext(err, "kill")
				return
			}
			<-waitErr
		case err := <-waitErr:
			errChan <- fmt.Errorf("crashed (%s): stderr: %s", err, stderr)
		}
	}()
	return stdoutReader, errChan, nil
}

// Run runs the given SyncOtter command, and returns its stdout.
func (helper *TestHelper) Run(ctx context.Context, command ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "syncotter", command...)
	stderr := bytes.NewBuffer(nil)
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		return out, fmt.Errorf("%s: stderr: %s", err, stderr)
	}
	return out, nil
}

package watch

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncotter/ci/util"
	"github.com/sidkik/syncotter/pkg/config"
)

// Test runs `syncotter watch`, and checks that files created while it's
// running are copied.
func Test(t *testing.T, helper *util.TestHelper) {
	source := filepath.Join(helper.Root, "watch-source")
	target := filepath.Join(helper.Root, "watch-target")
	require.NoError(t, os.MkdirAll(source, 0755))

	configPath, err := helper.WriteConfig("watch", config.Config{
		SourceDirectory: source,
		TargetDirectory: target,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, errChan, err := helper.Start(ctx, "watch", "--no-progress", "--config", configPath)
	require.NoError(t, err)
	defer func() {
		cancel()
		<-errChan
	}()

	// Create the file in a directory that didn't exist when the watch
	// started.
	path := filepath.Join(source, "new", "file.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, ioutil.WriteFile(path, []byte("hello"), 0644))

	deadline := time.After(30 * time.Second)
	for {
		contents, err := ioutil.ReadFile(filepath.Join(target, "new", "file.txt"))
		if err == nil && string(contents) == "hello" {
			return
		}

		select {
		case err := <-errChan:
			t.Fatalf("watch stopped: %s", err)
		case <-deadline:
			t.Fatal("file wasn't synced")
		case <-time.After(500 * time.Millisecond):
		}
	}
}

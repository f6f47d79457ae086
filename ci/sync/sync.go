package sync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncotter/ci/util"
	"github.com/sidkik/syncotter/pkg/config"
)

// Test runs `syncotter sync` against a real directory tree, and checks that
// only new and changed files are copied on later runs.
func Test(t *testing.T, helper *util.TestHelper) {
	source := filepath.Join(helper.Root, "sync-source")
	target := filepath.Join(helper.Root, "sync-target")

	files := []file{
		randomFile("readme.md"),
		randomFile("photos/2019/beach.jpg"),
		randomFile("photos/2019/sunset.jpg"),
		randomFile("node_modules/left-pad/index.js"),
		randomFile("notes.tmp"),
	}
	for _, f := range files {
		require.NoError(t, f.write(source))
	}

	configPath, err := helper.WriteConfig("sync", config.Config{
		SourceDirectory:    source,
		TargetDirectory:    target,
		ExcludeDirectories: []string{"node_modules"},
		ExcludePatterns:    []string{"*.tmp"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	reportPath := filepath.Join(helper.Root, "sync-report.jsonl")
	out, err := helper.Run(ctx, "sync", "--no-progress", "--config", configPath,
		"--report", reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Copied 3 files")

	for _, f := range files[:3] {
		assert.NoError(t, f.check(target))
	}
	for _, f := range files[3:] {
		_, err := os.Stat(filepath.Join(target, f.path))
		assert.True(t, os.IsNotExist(err), f.path)
	}

	// Nothing changed.
	out, err = helper.Run(ctx, "sync", "--no-progress", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Everything is up to date (3 files checked).")

	// Change one file, and add another.
	files[1] = files[1].WithContents("new contents").WithModTime(time.Now().Truncate(time.Second))
	require.NoError(t, files[1].write(source))
	added := randomFile("photos/2020/snow.jpg")
	require.NoError(t, added.write(source))

	out, err = helper.Run(ctx, "sync", "--no-progress", "--config", configPath,
		"--report", reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Copied 2 files")
	assert.NoError(t, files[1].check(target))
	assert.NoError(t, added.check(target))

	report, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(report), `"message":"Sync complete"`))
}

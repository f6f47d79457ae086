//go:build ci
// +build ci

package main

import (
	"io/ioutil"
	"os"
	"testing"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/sidkik/syncotter/ci/sync"
	"github.com/sidkik/syncotter/ci/util"
	"github.com/sidkik/syncotter/ci/watch"
)

type TestFunction func(*testing.T, *util.TestHelper)

// TestSyncOtter runs the `syncotter` binary on the PATH against real
// directories.
func TestSyncOtter(t *testing.T) {
	homedir.DisableCache = true

	root, err := ioutil.TempDir("", "syncotter-ci")
	if err != nil {
		t.Fatalf("make scratch dir: %s", err)
	}
	defer os.RemoveAll(root)

	tests := []struct {
		name   string
		testFn TestFunction
	}{
		{name: "Sync", testFn: sync.Test},
		{name: "Watch", testFn: watch.Test},
	}

	helper := util.NewTestHelper(root)
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			test.testFn(t, helper)
		})
	}
}

package watch

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncotter/pkg/config"
	"github.com/sidkik/syncotter/pkg/errors"
	"github.com/sidkik/syncotter/pkg/fswatch"
	"github.com/sidkik/syncotter/pkg/scan"
)

const timeout = 5 * time.Second

func mockClock(t *testing.T) clockwork.FakeClock {
	fakeClock := clockwork.NewFakeClock()
	clock = fakeClock
	t.Cleanup(func() { clock = clockwork.NewRealClock() })
	return fakeClock
}

type loopHarness struct {
	ctx    context.Context
	cancel context.CancelFunc
	syncs  chan struct{}
	result chan error
}

func startLoop(changes <-chan struct{}, syncErrs ...error) loopHarness {
	ctx, cancel := context.WithCancel(context.Background())
	h := loopHarness{
		ctx:    ctx,
		cancel: cancel,
		syncs:  make(chan struct{}, 10),
		result: make(chan error, 1),
	}

	var calls int
	go func() {
		h.result <- loop(ctx, changes, func() error {
			defer func() { h.syncs <- struct{}{} }()
			calls++
			if calls <= len(syncErrs) {
				return syncErrs[calls-1]
			}
			return nil
		})
	}()
	return h
}

func (h loopHarness) expectSync(t *testing.T) {
	select {
	case <-h.syncs:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for sync")
	}
}

func (h loopHarness) expectNoSync(t *testing.T) {
	select {
	case <-h.syncs:
		t.Fatal("unexpected sync")
	case <-time.After(50 * time.Millisecond):
	}
}

func (h loopHarness) stop(t *testing.T) error {
	h.cancel()
	select {
	case err := <-h.result:
		return err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for loop to stop")
		return nil
	}
}

func TestLoopPolls(t *testing.T) {
	fakeClock := mockClock(t)
	h := startLoop(nil)

	h.expectSync(t)
	fakeClock.BlockUntil(1)
	fakeClock.Advance(pollInterval - time.Second)
	h.expectNoSync(t)

	fakeClock.Advance(time.Second)
	h.expectSync(t)
	assert.NoError(t, h.stop(t))
}

func TestLoopSyncsAfterChangesSettle(t *testing.T) {
	fakeClock := mockClock(t)
	changes := make(chan struct{}, 1)
	h := startLoop(changes)

	h.expectSync(t)
	fakeClock.BlockUntil(1)

	changes <- struct{}{}
	fakeClock.BlockUntil(2)

	// Another change restarts the wait.
	changes <- struct{}{}
	fakeClock.BlockUntil(3)
	fakeClock.Advance(settleTime - time.Millisecond)
	h.expectNoSync(t)

	fakeClock.Advance(settleTime)
	h.expectSync(t)
	assert.NoError(t, h.stop(t))
}

func TestLoopContinuesAfterFailure(t *testing.T) {
	fakeClock := mockClock(t)
	hook := logrusTest.NewGlobal()
	defer hook.Reset()

	h := startLoop(nil, errors.New("target unreachable"))
	h.expectSync(t)
	fakeClock.BlockUntil(1)
	fakeClock.Advance(pollInterval)
	h.expectSync(t)
	assert.NoError(t, h.stop(t))

	var failed bool
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Sync failed" && entry.Level == log.ErrorLevel {
			failed = true
		}
	}
	assert.True(t, failed)
}

func TestLoopWatcherClosed(t *testing.T) {
	mockClock(t)
	changes := make(chan struct{})
	close(changes)

	h := startLoop(changes)
	h.expectSync(t)
	select {
	case err := <-h.result:
		assert.EqualError(t, err, "file watcher stopped")
	case <-time.After(timeout):
		t.Fatal("timed out waiting for loop to stop")
	}
}

func mockWatchTree(t *testing.T, err error) {
	watchTree = func(string, *scan.Filter) (*fswatch.Watcher, error) {
		return nil, err
	}
	t.Cleanup(func() { watchTree = fswatch.Watch })
}

func TestWatchSourceFallsBackToPolling(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		err  error
	}{
		{
			name: "NetworkShare",
			cfg:  config.Config{SourceDirectory: `\\nas\photos`},
		},
		{
			name: "WatchLimit",
			cfg:  config.Config{SourceDirectory: "/data"},
			err:  errors.WithContext(errors.New("too many open files"), "watch \"/data/x\""),
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			mockWatchTree(t, test.err)
			changes, stop, err := watchSource(test.cfg)
			require.NoError(t, err)
			assert.Nil(t, changes)
			stop()
		})
	}
}

func TestWatchSourceErrors(t *testing.T) {
	mockWatchTree(t, errors.WithContext(errors.FileNotFound{Path: "/data"}, "get paths"))
	_, _, err := watchSource(config.Config{SourceDirectory: "/data"})
	require.Error(t, err)
	assert.Contains(t, errors.GetPrintableMessage(err), `"/data" doesn't exist`)

	mockWatchTree(t, errors.New("permission denied"))
	_, _, err = watchSource(config.Config{SourceDirectory: "/data"})
	assert.EqualError(t, err, "watch files: permission denied")

	_, _, err = watchSource(config.Config{
		SourceDirectory: "/data",
		ExcludePatterns: []string{"logs/*.log"},
	})
	assert.Error(t, err)
}

func TestWatchSource(t *testing.T) {
	changes, stop, err := watchSource(config.Config{SourceDirectory: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, changes)
	stop()
}

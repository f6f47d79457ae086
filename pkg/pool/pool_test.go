package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/syncotter/pkg/errors"
)

const timeout = 5 * time.Second

// blockingExecutor runs tasks whose Source is "block" until `release` is
// closed, and records the order in which tasks start.
type blockingExecutor struct {
	release chan struct{}
	started chan string

	lock  sync.Mutex
	order []string
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{
		release: make(chan struct{}),
		started: make(chan string, 100),
	}
}

func (e *blockingExecutor) exec(ctx context.Context, task *Task) error {
	e.lock.Lock()
	e.order = append(e.order, task.Target)
	e.lock.Unlock()
	e.started <- task.Target

	if task.Source == "block" {
		<-e.release
	}
	return nil
}

func (e *blockingExecutor) startOrder() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	return append([]string(nil), e.order...)
}

func waitFor(t *testing.T, ch <-chan string, exp string) {
	select {
	case actual := <-ch:
		require.Equal(t, exp, actual)
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %s", exp)
	}
}

func receive(t *testing.T, ch <-chan Outcome) Outcome {
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(timeout):
		t.Fatal("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestSmallestFirst(t *testing.T) {
	executor := newBlockingExecutor()
	log, _ := logrusTest.NewNullLogger()
	p := New(context.Background(), 1, executor.exec, log)

	sink := make(chan Outcome, 10)
	p.SubmitTo(&Task{Source: "block", Target: "blocker", Size: 1000}, sink)
	waitFor(t, executor.started, "blocker")

	for _, task := range []*Task{
		{Target: "fifty", Size: 50},
		{Target: "ten-a", Size: 10},
		{Target: "thirty", Size: 30},
		{Target: "ten-b", Size: 10},
		{Target: "zero", Size: 0},
	} {
		p.SubmitTo(task, sink)
	}
	assert.Equal(t, 5, p.Pending())

	close(executor.release)
	for i := 0; i < 6; i++ {
		assert.NoError(t, receive(t, sink).Err)
	}

	assert.Equal(t, []string{"blocker", "zero", "ten-a", "ten-b", "thirty", "fifty"},
		executor.startOrder())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestConcurrency(t *testing.T) {
	var lock sync.Mutex
	var running, maxRunning int
	exec := func(ctx context.Context, task *Task) error {
		lock.Lock()
		running++
		if running > maxRunning {
			maxRunning = running
		}
		lock.Unlock()

		time.Sleep(10 * time.Millisecond)

		lock.Lock()
		running--
		lock.Unlock()
		return nil
	}

	p := New(context.Background(), 3, exec, nil)
	assert.Equal(t, 3, p.Size())

	sink := make(chan Outcome, 20)
	for i := 0; i < 20; i++ {
		p.SubmitTo(&Task{Size: int64(i)}, sink)
	}
	for i := 0; i < 20; i++ {
		assert.NoError(t, receive(t, sink).Err)
	}
	assert.NoError(t, p.Shutdown(context.Background()))

	assert.True(t, maxRunning <= 3, "at most three tasks run at once")
	assert.True(t, maxRunning > 1, "tasks run concurrently")
}

func TestCrashedWorkerIsReplaced(t *testing.T) {
	// Both workers must be running at the same time for the barrier to open,
	// which proves that the crashed worker was replaced.
	var barrier sync.WaitGroup
	barrier.Add(2)

	exec := func(ctx context.Context, task *Task) error {
		switch task.Source {
		case "panic":
			var m map[string]int
			m["boom"]++
		case "barrier":
			barrier.Done()
			barrier.Wait()
		}
		return nil
	}

	log, hook := logrusTest.NewNullLogger()
	p := New(context.Background(), 2, exec, log)

	crashed := receive(t, p.Submit(&Task{Source: "panic", Target: "crash"}))
	assert.Equal(t, "crash", crashed.Task.Target)

	var crashErr errors.CrashError
	require.True(t, errors.As(crashed.Err, &crashErr))
	assert.True(t, crashErr.Unit > 0)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Worker crashed. Replacing it.", hook.LastEntry().Message)

	sink := make(chan Outcome, 2)
	p.SubmitTo(&Task{Source: "barrier"}, sink)
	p.SubmitTo(&Task{Source: "barrier"}, sink)
	assert.NoError(t, receive(t, sink).Err)
	assert.NoError(t, receive(t, sink).Err)

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestExecutorErrors(t *testing.T) {
	expErr := errors.New("copy failed")
	p := New(context.Background(), 1, func(ctx context.Context, task *Task) error {
		task.Attempt++
		return expErr
	}, nil)

	task := &Task{Source: "/src/a", Target: "/dst/a"}
	outcome := receive(t, p.Submit(task))
	assert.Equal(t, expErr, outcome.Err)
	assert.Equal(t, task, outcome.Task)
	assert.Equal(t, 1, outcome.Task.Attempt)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestCancelPending(t *testing.T) {
	executor := newBlockingExecutor()
	p := New(context.Background(), 1, executor.exec, nil)

	running := p.Submit(&Task{Source: "block", Target: "running"})
	waitFor(t, executor.started, "running")

	sink := make(chan Outcome, 3)
	for i := 0; i < 3; i++ {
		p.SubmitTo(&Task{Size: int64(i)}, sink)
	}

	assert.Equal(t, 3, p.CancelPending(errors.ErrLinkUnavailable))
	for i := 0; i < 3; i++ {
		assert.Equal(t, errors.ErrLinkUnavailable, receive(t, sink).Err)
	}
	assert.Equal(t, 0, p.Pending())

	// The running task is unaffected.
	close(executor.release)
	assert.NoError(t, receive(t, running).Err)

	// The pool keeps accepting work.
	assert.NoError(t, receive(t, p.Submit(&Task{Target: "after"})).Err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdown(t *testing.T) {
	executor := newBlockingExecutor()
	p := New(context.Background(), 1, executor.exec, nil)

	running := p.Submit(&Task{Source: "block", Target: "running"})
	waitFor(t, executor.started, "running")
	queued := p.Submit(&Task{Target: "queued"})

	shutdownErr := make(chan error)
	go func() {
		shutdownErr <- p.Shutdown(context.Background())
	}()

	// Queued tasks fail right away, but the running task finishes.
	assert.Equal(t, errors.ErrPoolClosed, receive(t, queued).Err)
	select {
	case <-shutdownErr:
		t.Fatal("shutdown returned before the running task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(executor.release)
	assert.NoError(t, receive(t, running).Err)
	assert.NoError(t, <-shutdownErr)

	// Tasks submitted after shutdown are rejected.
	assert.Equal(t, errors.ErrPoolClosed, receive(t, p.Submit(&Task{})).Err)
	assert.Equal(t, []string{"running"}, executor.startOrder())

	// Shutting down twice is harmless.
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestShutdownGracePeriod(t *testing.T) {
	executor := newBlockingExecutor()
	defer close(executor.release)

	p := New(context.Background(), 1, executor.exec, nil)
	p.Submit(&Task{Source: "block", Target: "stuck"})
	waitFor(t, executor.started, "stuck")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.Equal(t, context.DeadlineExceeded, errors.RootCause(err))
}

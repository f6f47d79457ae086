package pool

import (
	"context"
	"sync"

	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/errors"
)

// Task is a single file copy.
type Task struct {
	Source string
	Target string
	Size   int64

	// Attempt is the number of times the task has been tried. It's
	// maintained by the Executor.
	Attempt int
}

// Outcome is the result of running a Task.
type Outcome struct {
	Task *Task
	Err  error
}

// Executor runs a task. It's called from multiple goroutines at once.
type Executor func(ctx context.Context, task *Task) error

// Pool runs tasks on a fixed number of workers. Queued tasks are dispatched
// smallest first, so that many small files finish before a few large ones
// occupy every worker. A worker that panics is replaced, and only the task
// it was running fails.
type Pool struct {
	ctx  context.Context
	exec Executor
	log  logrus.FieldLogger
	size int

	// The following fields are protected by `lock`.
	lock       sync.Mutex
	pending    *btree.BTree
	idle       []*worker
	seq        uint64
	nextWorker int
	closed     bool

	// outstanding tracks tasks that were accepted but haven't had their
	// outcome delivered yet.
	outstanding sync.WaitGroup
	workers     sync.WaitGroup
}

type worker struct {
	id   int
	work chan *job
}

type job struct {
	task *Task
	sink chan<- Outcome
	seq  uint64
}

// Less orders jobs by size, and then by submission order.
func (j *job) Less(than btree.Item) bool {
	other := than.(*job)
	if j.task.Size != other.task.Size {
		return j.task.Size < other.task.Size
	}
	return j.seq < other.seq
}

// New starts a pool of `size` workers that run tasks with `exec`. `ctx` is
// passed to every execution.
func New(ctx context.Context, size int, exec Executor, log logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	p := &Pool{
		ctx:     ctx,
		exec:    exec,
		log:     log,
		size:    size,
		pending: btree.New(2),
	}

	p.lock.Lock()
	for i := 0; i < size; i++ {
		p.spawnLocked()
	}
	p.lock.Unlock()
	return p
}

// Submit queues `task`, and returns a channel that receives its outcome.
func (p *Pool) Submit(task *Task) <-chan Outcome {
	sink := make(chan Outcome, 1)
	p.SubmitTo(task, sink)
	return sink
}

// SubmitTo queues `task`, and sends its outcome to `sink` once it's done.
// Outcomes are sent from worker goroutines, so `sink` must either have room
// for every outcome or be drained concurrently.
func (p *Pool) SubmitTo(task *Task, sink chan<- Outcome) {
	j := &job{task: task, sink: sink}

	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		sink <- Outcome{Task: task, Err: errors.ErrPoolClosed}
		return
	}

	p.seq++
	j.seq = p.seq
	p.outstanding.Add(1)

	// Workers only go idle once the queue is empty, so if one is idle, the
	// new job is the smallest pending one.
	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.lock.Unlock()
		w.work <- j
		return
	}

	p.pending.ReplaceOrInsert(j)
	p.lock.Unlock()
}

// CancelPending fails every task that hasn't started yet with `err`. Tasks
// that are already running are unaffected. It returns the number of tasks
// cancelled.
func (p *Pool) CancelPending(err error) int {
	p.lock.Lock()
	jobs := p.drainLocked()
	p.lock.Unlock()

	for _, j := range jobs {
		p.deliver(j, err)
	}
	return len(jobs)
}

// Shutdown stops dispatching tasks. Queued tasks fail with ErrPoolClosed.
// Running tasks are allowed to finish until `ctx` expires, after which
// Shutdown gives up on them and returns an error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil
	}
	p.closed = true

	idle := p.idle
	p.idle = nil
	jobs := p.drainLocked()
	p.lock.Unlock()

	for _, w := range idle {
		close(w.work)
	}

	for _, j := range jobs {
		p.deliver(j, errors.ErrPoolClosed)
	}

	done := make(chan struct{})
	go func() {
		p.outstanding.Wait()
		p.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WithContext(ctx.Err(), "wait for running tasks")
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of tasks waiting for a worker.
func (p *Pool) Pending() int {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.pending.Len()
}

func (p *Pool) spawnLocked() {
	p.nextWorker++
	w := &worker{id: p.nextWorker, work: make(chan *job, 1)}
	p.workers.Add(1)
	go p.run(w)
}

func (p *Pool) run(w *worker) {
	defer p.workers.Done()

	for {
		j, ok := p.next(w)
		if !ok {
			return
		}

		if crashed := !p.execute(w, j); crashed {
			p.lock.Lock()
			if !p.closed {
				p.spawnLocked()
			}
			p.lock.Unlock()
			return
		}
	}
}

// next returns the smallest pending job, or waits for one to be submitted.
func (p *Pool) next(w *worker) (*job, bool) {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return nil, false
	}

	if item := p.pending.DeleteMin(); item != nil {
		p.lock.Unlock()
		return item.(*job), true
	}

	p.idle = append(p.idle, w)
	p.lock.Unlock()

	j, ok := <-w.work
	return j, ok
}

func (p *Pool) execute(w *worker, j *job) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"worker": w.id,
				"path":   j.task.Source,
				"panic":  r,
			}).Error("Worker crashed. Replacing it.")
			p.deliver(j, errors.CrashError{Unit: w.id, Value: r})
			ok = false
		}
	}()

	err := p.exec(p.ctx, j.task)
	p.deliver(j, err)
	return true
}

func (p *Pool) deliver(j *job, err error) {
	j.sink <- Outcome{Task: j.task, Err: err}
	p.outstanding.Done()
}

func (p *Pool) drainLocked() (jobs []*job) {
	for p.pending.Len() > 0 {
		jobs = append(jobs, p.pending.DeleteMin().(*job))
	}
	return jobs
}

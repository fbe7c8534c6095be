package indexing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// jobRetention is how long a finished job stays queryable before its
// handle is dropped
const jobRetention = time.Hour

// ErrJobRunning is returned when a job of the same kind is already in
// flight
var ErrJobRunning = errors.New("an indexing job of this kind is already running")

// Job is a tracked handle on a background indexing run. Callers can
// cancel it, wait on Done and read the outcome; nothing runs detached.
type Job struct {
	ID   string
	Name string

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Done is closed when the job finishes, successfully or not
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the job's outcome once Done is closed
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Cancel requests cancellation; work already launched is allowed to
// complete
func (j *Job) Cancel() {
	j.cancel()
}

// Status describes the job for API consumers
func (j *Job) Status() string {
	select {
	case <-j.done:
		if j.Err() != nil {
			return "failed"
		}
		return "completed"
	default:
		return "running"
	}
}

// Runner starts indexing jobs and keeps handles on them. At most one
// job of each kind runs at a time; finished jobs stay queryable for a
// retention window and are then evicted.
type Runner struct {
	indexer   *Indexer
	retention time.Duration

	mu     sync.Mutex
	jobs   map[string]*Job
	active map[string]*Job
}

// NewRunner creates a new Runner
func NewRunner(indexer *Indexer) *Runner {
	return &Runner{
		indexer:   indexer,
		retention: jobRetention,
		jobs:      make(map[string]*Job),
		active:    make(map[string]*Job),
	}
}

// StartReindex launches a full destructive reindex in the background
func (r *Runner) StartReindex() (*Job, error) {
	return r.start("reindex", r.indexer.ReindexAll)
}

// StartPatchPrices launches a payload-only price patch in the background
func (r *Runner) StartPatchPrices() (*Job, error) {
	return r.start("patch-prices", r.indexer.PatchPrices)
}

// Job looks up a job handle by id
func (r *Runner) Job(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *Runner) start(name string, run func(context.Context) error) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if active, ok := r.active[name]; ok {
		select {
		case <-active.done:
			// finished, a new run may start
		default:
			return nil, ErrJobRunning
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:     uuid.NewString(),
		Name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.jobs[job.ID] = job
	r.active[name] = job

	go func() {
		defer cancel()
		err := run(ctx)
		job.mu.Lock()
		job.err = err
		job.mu.Unlock()
		close(job.done)

		time.AfterFunc(r.retention, func() {
			r.mu.Lock()
			delete(r.jobs, job.ID)
			r.mu.Unlock()
		})
	}()

	return job, nil
}

package authoring

import (
	"context"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

const (
	ErrTypeCancelled = "authoring_cancelled"
	ErrTypeJobFailed = "authoring_job_failed"
)

// Job is a long running edit split into batches. Batches run one after the
// other while holding the edit lock.
type Job interface {
	Name() string
	Batches() int
	RunBatch(batch int) error
}

// Result describes how far a job went.
type Result struct {
	Job      string
	Batches  int
	Applied  int
	Duration time.Duration
}

// Queue runs jobs in the background, one at a time. The context of a job is
// checked between batches: a cancelled job stops with its applied batches
// kept, nothing is rolled back.
type Queue struct {
	mutex sync.Locker
	pool  pond.Pool
}

// NewQueue creates a queue whose batches run while holding mutex, usually
// the lock guarding the frame loop.
func NewQueue(mutex sync.Locker) *Queue {
	return &Queue{
		mutex: mutex,
		pool:  pond.NewPool(1),
	}
}

// Submit queues a job. The returned task completes when the job finished or
// stopped.
func (q *Queue) Submit(ctx context.Context, job Job) *Task {
	t := &Task{
		result: Result{
			Job:     job.Name(),
			Batches: job.Batches(),
		},
	}

	t.task = q.pool.SubmitErr(func() error {
		return q.run(ctx, job, &t.result)
	})
	return t
}

func (q *Queue) run(ctx context.Context, job Job, result *Result) error {
	start := time.Now()
	defer func() {
		result.Duration = time.Since(start)
		instrumentJob(job.Name(), start)
	}()

	for batch := 0; batch < result.Batches; batch++ {
		if err := ctx.Err(); err != nil {
			err = errors.New("job cancelled").
				WithType(ErrTypeCancelled).
				WithTag("job", job.Name()).
				WithTag("applied", result.Applied).
				WithTag("batches", result.Batches).
				Wrap(err)
			logs.Warn(err)
			instrumentJobError(job.Name(), err)
			return err
		}

		q.mutex.Lock()
		err := job.RunBatch(batch)
		q.mutex.Unlock()

		if err != nil {
			err = errors.New("job batch failed").
				WithType(ErrTypeJobFailed).
				WithTag("job", job.Name()).
				WithTag("batch", batch).
				Wrap(err)
			logs.Warn(err)
			instrumentJobError(job.Name(), err)
			return err
		}
		result.Applied++
	}

	logs.WithTag("job", job.Name()).
		WithTag("batches", result.Batches).
		WithTag("duration", time.Since(start).String()).
		Info("authoring job done")
	return nil
}

// Close waits for the queued jobs and stops the worker.
func (q *Queue) Close() {
	q.pool.StopAndWait()
}

// Task is a submitted job.
type Task struct {
	task   pond.Task
	result Result
}

// Wait blocks until the job finished or stopped and returns its result.
func (t *Task) Wait() (Result, error) {
	err := t.task.Wait()
	return t.result, err
}

// Done is closed once the job finished or stopped.
func (t *Task) Done() <-chan struct{} {
	return t.task.Done()
}

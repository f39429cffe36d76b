package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recorder) record(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func (r *recorder) attempts() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	attempts := make([]int, 0, len(r.jobs))
	for _, job := range r.jobs {
		attempts = append(attempts, job.Attempt)
	}
	return attempts
}

func TestQueueProcessesJobs(t *testing.T) {
	rec := &recorder{}
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		rec.record(job)
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Type: "noop"}))
	}

	require.Eventually(t, func() bool { return rec.count() == 5 }, time.Second, 5*time.Millisecond)
}

func TestQueueEnqueueRequiresStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})

	err := q.Enqueue(Job{ID: "early"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not started")
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	rec := &recorder{}
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		rec.record(job)
		if job.Attempt == 0 {
			return errors.New("transient")
		}
		return nil
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "flaky", Type: "mail"}))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0, 1}, rec.attempts())
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	rec := &recorder{}
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		rec.record(job)
		return errors.New("permanent")
	}, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "doomed", Type: "mail"}))

	// Initial run plus two retries, then the job is dropped.
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, rec.count())
}

func TestQueueStopDrainsBufferedJobs(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		<-gate
		rec.record(job)
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 8})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "buffered"}))
	}

	// The worker is parked on the first job; the rest sit in the buffer.
	require.Eventually(t, func() bool { return q.Depth() == 2 }, time.Second, 5*time.Millisecond)

	close(gate)
	q.Stop()

	assert.Equal(t, 3, rec.count())
	assert.Zero(t, q.Depth())
}

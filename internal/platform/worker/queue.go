package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cds/internal/platform/metrics"
)

// Task is a unit of background work. Run receives a fresh context bounded by
// the queue's timeout, never the context of the code that enqueued it.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Config struct {
	Name    string
	Workers int
	Size    int
	Timeout time.Duration
}

var ErrQueueClosed = errors.New("queue closed")

// Queue runs tasks on a fixed set of goroutines. Enqueue never blocks: when
// the buffer is full the task is dropped and counted.
type Queue struct {
	cfg    Config
	logger zerolog.Logger
	tasks  chan Task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(cfg Config, logger zerolog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Queue{
		cfg:    cfg,
		logger: logger.With().Str("queue", cfg.Name).Logger(),
		tasks:  make(chan Task, cfg.Size),
	}
}

// Start launches the workers. They exit once Shutdown closes the queue and
// the buffer is drained.
func (q *Queue) Start() {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for t := range q.tasks {
				metrics.SetQueueDepth(q.cfg.Name, len(q.tasks))
				q.run(t)
			}
		}()
	}
	q.logger.Info().Int("workers", q.cfg.Workers).Int("size", q.cfg.Size).Msg("queue started")
}

// Enqueue schedules t and reports whether it was accepted.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn().Str("task", t.Name).Err(ErrQueueClosed).Msg("task rejected")
		metrics.RecordJob(q.cfg.Name, "dropped")
		return false
	}

	select {
	case q.tasks <- t:
		metrics.RecordJob(q.cfg.Name, "enqueued")
		metrics.SetQueueDepth(q.cfg.Name, len(q.tasks))
		return true
	default:
		q.logger.Warn().Str("task", t.Name).Int("size", q.cfg.Size).Msg("queue full, task dropped")
		metrics.RecordJob(q.cfg.Name, "dropped")
		return false
	}
}

// Depth is the number of tasks waiting for a worker.
func (q *Queue) Depth() int {
	return len(q.tasks)
}

func (q *Queue) run(t Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := q.safeRun(ctx, t)
	metrics.ObserveJobDuration(q.cfg.Name, time.Since(start))

	if err != nil {
		metrics.RecordJob(q.cfg.Name, "failed")
		q.logger.Error().Err(err).Str("task", t.Name).Dur("elapsed", time.Since(start)).Msg("task failed")
		return
	}
	metrics.RecordJob(q.cfg.Name, "succeeded")
	q.logger.Debug().Str("task", t.Name).Dur("elapsed", time.Since(start)).Msg("task done")
}

func (q *Queue) safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			q.logger.Error().Str("task", t.Name).Str("stack", string(stack[:n])).Msg("task panicked")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return t.Run(ctx)
}

// Shutdown stops accepting tasks and waits for queued ones to finish or for
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

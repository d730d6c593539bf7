package federation

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrQueueStopped = errors.New("task queue is not running")
	ErrQueueFull    = errors.New("task queue is full")
)

// Task is one unit of asynchronous work.
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	run  Task
}

// Queue runs tasks on a fixed pool of workers, decoupled from the caller.
type Queue struct {
	workers int
	size    int
	logger  zerolog.Logger

	mu      sync.RWMutex
	running bool
	tasks   chan namedTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewQueue(workers, size int, logger zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if size <= 0 {
		size = 1024
	}
	return &Queue{
		workers: workers,
		size:    size,
		logger:  logger.With().Str("component", "task_queue").Logger(),
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.tasks = make(chan namedTask, q.size)
	q.stopCh = make(chan struct{})

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, q.tasks, q.stopCh)
	}
	q.logger.Info().Int("workers", q.workers).Msg("task queue started")
}

// Stop stops accepting tasks, lets workers drain what is queued and waits.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info().Msg("task queue stopped")
}

// Submit enqueues a task without blocking.
func (q *Queue) Submit(name string, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if !q.running {
		return ErrQueueStopped
	}
	select {
	case q.tasks <- namedTask{name: name, run: task}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) work(ctx context.Context, tasks <-chan namedTask, stopCh <-chan struct{}) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-tasks:
			q.run(ctx, t)
		case <-stopCh:
			for {
				select {
				case t := <-tasks:
					q.run(ctx, t)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(ctx context.Context, t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Interface("panic", r).Str("task", t.name).Msg("task panicked")
		}
	}()
	if err := t.run(ctx); err != nil {
		q.logger.Error().Err(err).Str("task", t.name).Msg("task failed")
	}
}

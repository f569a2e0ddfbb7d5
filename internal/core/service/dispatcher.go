package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/logger"
	"github.com/rl1809/inventory-ledger/internal/metrics"
)

var errDispatcherClosed = errors.New("dispatcher closed")

// Task submits one witness record and returns the ledger hash.
type Task func(ctx context.Context) (string, error)

// Submission is the outcome of a dispatched task. hash and err are written
// before done is closed.
type Submission struct {
	done chan struct{}
	hash string
	err  error
}

func newSubmission() *Submission {
	return &Submission{done: make(chan struct{})}
}

func (s *Submission) resolve(hash string, err error) {
	s.hash, s.err = hash, err
	close(s.done)
}

// Done is closed once the task has finished.
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the task finishes or ctx ends.
func (s *Submission) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return s.hash, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type job struct {
	name string
	task Task
	sub  *Submission
}

type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// Dispatcher runs submission tasks on a fixed pool of workers fed by a
// bounded queue. Dispatch never blocks.
type Dispatcher struct {
	queue   chan job
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, log *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}

	d := &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		timeout: cfg.TaskTimeout,
		log:     log.With("component", "dispatcher"),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			d.workerLoop(id)
		}(i)
	}
	d.log.Info("started submission workers", "workers", cfg.Workers, "queue_size", cfg.QueueSize)
	return d
}

// Dispatch enqueues task. If the queue is full, or the dispatcher is closed,
// the returned submission is already resolved with an error.
func (d *Dispatcher) Dispatch(name string, task Task) *Submission {
	sub := newSubmission()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		sub.resolve("", errDispatcherClosed)
		return sub
	}

	select {
	case d.queue <- job{name: name, task: task, sub: sub}:
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
	default:
		d.log.Warn("submission queue full, leaving record for the next sync pass", "task", name)
		sub.resolve("", domain.ErrQueueFull)
	}
	return sub
}

// Close stops accepting tasks and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	d.log.Info("submission workers stopped")
}

func (d *Dispatcher) workerLoop(id int) {
	for j := range d.queue {
		metrics.DispatchQueueDepth.Set(float64(len(d.queue)))
		d.run(id, j)
	}
}

func (d *Dispatcher) run(id int, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var (
		hash string
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", j.name, r)
			}
		}()
		hash, err = j.task(ctx)
	}()

	if err != nil {
		d.log.Warn("submission task failed", "worker", id, "task", j.name, "error", err)
	} else {
		d.log.Debug("submission task done", "worker", id, "task", j.name, "hash", hash)
	}
	j.sub.resolve(hash, err)
}

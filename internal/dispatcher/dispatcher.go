// Package dispatcher runs queued webhook deliveries on a fixed worker pool.
// Deliveries for the same issue or pull request never run concurrently.
package dispatcher

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cexll/swe-action/internal/pipeline"
)

var (
	// ErrQueueFull indicates the dispatcher cannot accept new jobs right now.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueClosed indicates the dispatcher has been shut down.
	ErrQueueClosed = errors.New("job queue is closed")
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, job *Job) (*pipeline.Report, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job *Job) (*pipeline.Report, error)

func (f RunnerFunc) Run(ctx context.Context, job *Job) (*pipeline.Report, error) {
	return f(ctx, job)
}

// Job is one verified webhook delivery.
type Job struct {
	DeliveryID string
	// Key serialises jobs, "owner/repo#number".
	Key   string
	Event pipeline.Event
}

// Config controls dispatcher behaviour
type Config struct {
	Workers   int
	QueueSize int
	// JobTimeout bounds a single pipeline run.
	JobTimeout time.Duration
}

// Dispatcher drains the queue with Config.Workers goroutines. Failed runs are
// logged and dropped; the pipeline is never retried.
type Dispatcher struct {
	runner Runner
	cfg    Config

	queue      chan *Job
	keyedLocks *keyedMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New creates a dispatcher and starts its workers.
func New(runner Runner, cfg Config) *Dispatcher {
	normalized := normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		runner:     runner,
		cfg:        normalized,
		queue:      make(chan *Job, normalized.QueueSize),
		keyedLocks: newKeyedMutex(),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.startWorkers()
	return d
}

func normalizeConfig(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	return cfg
}

func (d *Dispatcher) startWorkers() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Enqueue queues a job without blocking.
func (d *Dispatcher) Enqueue(job *Job) error {
	if job == nil {
		return errors.New("dispatcher enqueue: job is nil")
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}

	select {
	case d.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.process(job)
	}
}

func (d *Dispatcher) process(job *Job) {
	d.keyedLocks.Lock(job.Key)
	defer d.keyedLocks.Unlock(job.Key)

	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.JobTimeout)
	defer cancel()

	report, err := d.runner.Run(ctx, job)
	if err != nil {
		log.Printf("[Dispatcher] delivery %s (%s) failed: %v", job.DeliveryID, job.Key, err)
		return
	}
	if report != nil && !report.Triggered {
		log.Printf("[Dispatcher] delivery %s (%s) not triggered: %s", job.DeliveryID, job.Key, report.SkipReason)
		return
	}
	log.Printf("[Dispatcher] delivery %s (%s) prepared", job.DeliveryID, job.Key)
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, in-flight runs are cancelled.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
	}
	d.cancel()
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		return
	}
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.Unlock()
}

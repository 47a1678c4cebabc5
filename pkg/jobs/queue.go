package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State describes where a job is in its lifecycle.
type State string

const (
	StateQueued   State = "QUEUED"
	StateRunning  State = "RUNNING"
	StateRetrying State = "RETRYING"
	StateDone     State = "DONE"
	StateFailed   State = "FAILED"
)

// ErrQueueFull is returned by Enqueue when every buffer slot is taken.
var ErrQueueFull = errors.New("queue is full")

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Status is the externally visible snapshot of a job.
type Status struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	State     State     `json:"state"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	// StatusTTL is how long finished job statuses stay queryable.
	StatusTTL time.Duration
	Logger    *zap.Logger
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines.
type Queue struct {
	name    string
	handler Handler

	workers    int
	maxRetries int
	retryDelay time.Duration
	statusTTL  time.Duration
	logger     *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	statusMu sync.RWMutex
	statuses map[string]Status
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		statusTTL:  cfg.StatusTTL,
		logger:     cfg.Logger,
		jobs:       make(chan Job, cfg.BufferSize),
		statuses:   make(map[string]Status),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Enqueue pushes a job onto the queue and returns its ID. It never waits for a free slot:
// a full buffer yields ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	qctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return "", fmt.Errorf("queue %s not started", q.name)
	}
	if err := qctx.Err(); err != nil {
		return "", fmt.Errorf("queue %s stopped: %w", q.name, err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	q.setStatus(job, StateQueued, nil)
	select {
	case q.jobs <- job:
		return job.ID, nil
	default:
		q.dropStatus(job.ID)
		return "", fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Status returns the last known state of a job.
func (q *Queue) Status(id string) (Status, bool) {
	q.statusMu.RLock()
	defer q.statusMu.RUnlock()
	status, ok := q.statuses[id]
	return status, ok
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.setStatus(job, StateRunning, nil)
			if err := q.handler(q.ctx, job); err != nil {
				q.handleFailure(job, err)
				continue
			}
			q.setStatus(job, StateDone, nil)
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	if IsPermanent(err) || job.Attempt > q.maxRetries {
		q.setStatus(job, StateFailed, err)
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	q.setStatus(job, StateRetrying, err)
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "error", err)

	go func(j Job) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			select {
			case <-q.ctx.Done():
			case q.jobs <- j:
			}
		}
	}(job)
}

func (q *Queue) setStatus(job Job, state State, err error) {
	now := time.Now().UTC()
	status := Status{ID: job.ID, Type: job.Type, State: state, Attempt: job.Attempt, UpdatedAt: now}
	if err != nil {
		status.LastError = err.Error()
	}
	q.statusMu.Lock()
	defer q.statusMu.Unlock()
	q.statuses[job.ID] = status
	if state.finished() {
		q.pruneLocked(now)
	}
}

func (q *Queue) dropStatus(id string) {
	q.statusMu.Lock()
	delete(q.statuses, id)
	q.statusMu.Unlock()
}

// pruneLocked forgets finished jobs older than the status TTL. statusMu must be held.
func (q *Queue) pruneLocked(now time.Time) {
	for id, status := range q.statuses {
		if status.State.finished() && now.Sub(status.UpdatedAt) > q.statusTTL {
			delete(q.statuses, id)
		}
	}
}

func (s State) finished() bool {
	return s == StateDone || s == StateFailed
}

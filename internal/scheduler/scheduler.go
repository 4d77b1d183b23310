// Package scheduler is a durable one-shot timer service: "fire a callback
// once, as close as possible to a stated wall-clock instant, surviving
// process restarts with at-most-once semantics." A single dispatcher owns
// an in-memory min-heap of armed jobs; a bounded worker pool executes jobs
// as they come due.
package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clinicflow/appointment-service/internal/clock"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

const (
	defaultGrace = time.Hour
	defaultPoll  = 30 * time.Second
)

// Scheduler dispatches durable, uniquely-keyed one-shot jobs to registered
// handlers, persisting each job's terminal status before releasing it so a
// crash mid-job is recoverable via OnBoot.
type Scheduler struct {
	store  *JobStore
	clock  clock.Clock
	logger *logging.Logger

	workers int
	grace   time.Duration
	poll    time.Duration

	mu    sync.Mutex
	heap  jobHeap
	byKey map[string]*entry

	wake     chan struct{}
	handlers map[JobKind]Handler
}

// New creates a Scheduler with the given worker pool size (spec default 4,
// WORKER_COUNT env var).
func New(store *JobStore, clk clock.Clock, logger *logging.Logger, workers int) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Scheduler{
		store:    store,
		clock:    clk,
		logger:   logger,
		workers:  workers,
		grace:    defaultGrace,
		poll:     defaultPoll,
		byKey:    make(map[string]*entry),
		wake:     make(chan struct{}, 1),
		handlers: make(map[JobKind]Handler),
	}
}

// Handle registers the callback invoked for a job kind. Handlers must be
// idempotent — a job may be delivered more than once across a restart.
func (s *Scheduler) Handle(kind JobKind, h Handler) {
	s.handlers[kind] = h
}

func dedupKey(kind JobKind, key string) string {
	return string(kind) + "|" + key
}

// ArmAt schedules a job. (kind, key) is unique: re-arming the same pair
// replaces the previously armed job. A fireAt at or before now is executed
// as soon as the dispatcher's next tick observes it.
func (s *Scheduler) ArmAt(ctx context.Context, kind JobKind, key string, fireAt time.Time, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("scheduler: arm: marshal payload: %w", err)
	}
	job := Job{ID: uuid.NewString(), Kind: kind, Key: key, FireAt: fireAt, Payload: data, Status: JobPending}

	if err := s.store.Upsert(ctx, job); err != nil {
		return err
	}
	s.armInMemory(job)
	return nil
}

// Cancel removes a pending job by (kind, key). Best-effort: a job already
// popped into a worker will still run to completion.
func (s *Scheduler) Cancel(ctx context.Context, kind JobKind, key string) error {
	if err := s.store.Cancel(ctx, kind, key); err != nil {
		return err
	}
	dk := dedupKey(kind, key)
	s.mu.Lock()
	if e, ok := s.byKey[dk]; ok {
		heap.Remove(&s.heap, e.index)
		delete(s.byKey, dk)
	}
	s.mu.Unlock()
	return nil
}

// OnBoot rehydrates the in-memory heap from storage after a restart. Every
// pending job is re-armed for its original fireAt, so overdue jobs run on the
// next tick; jobs overdue by more than the grace window are logged and still
// dispatched.
func (s *Scheduler) OnBoot(ctx context.Context) error {
	jobs, err := s.store.Pending(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: on boot: %w", err)
	}
	now := s.now()
	stale := 0
	for _, job := range jobs {
		if job.FireAt.Before(now.Add(-s.grace)) {
			stale++
			s.logger.Warn("scheduler: job overdue beyond grace, dispatching anyway", "kind", job.Kind, "key", job.Key, "fire_at", job.FireAt)
		}
		s.armInMemory(job)
	}
	s.logger.Info("scheduler: rehydrated jobs", "count", len(jobs), "stale", stale)
	return nil
}

func (s *Scheduler) armInMemory(job Job) {
	s.mu.Lock()
	dk := dedupKey(job.Kind, job.Key)
	if old, ok := s.byKey[dk]; ok {
		heap.Remove(&s.heap, old.index)
		delete(s.byKey, dk)
	}
	e := &entry{job: job}
	heap.Push(&s.heap, e)
	s.byKey[dk] = e
	s.mu.Unlock()
	s.signalWake()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the dispatcher until ctx is canceled, then waits for in-flight
// jobs to finish. Call OnBoot before Run to rehydrate prior state.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	timer := time.NewTimer(s.nextDuration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case <-s.wake:
			s.resetTimer(timer)
		case <-timer.C:
			s.fireDue(gctx, g)
			s.resetTimer(timer)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, g *errgroup.Group) {
	now := s.now()
	var due []Job
	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].job.FireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byKey, dedupKey(e.job.Kind, e.job.Key))
		due = append(due, e.job)
	}
	s.mu.Unlock()

	for _, job := range due {
		job := job
		g.Go(func() error {
			s.execute(ctx, job)
			return nil
		})
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) {
	handler, ok := s.handlers[job.Kind]
	if !ok {
		s.logger.Error("scheduler: no handler registered", "kind", job.Kind, "key", job.Key)
		return
	}

	status := JobDone
	if err := handler(ctx, job); err != nil {
		s.logger.Error("scheduler: job failed", "kind", job.Kind, "key", job.Key, "error", err)
		status = JobFailed
	}
	if err := s.store.MarkStatus(ctx, job.ID, status); err != nil {
		s.logger.Error("scheduler: mark status failed", "id", job.ID, "error", err)
	}
}

func (s *Scheduler) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(s.nextDuration())
}

func (s *Scheduler) nextDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return s.poll
	}
	d := s.heap[0].job.FireAt.Sub(s.now())
	if d < 0 {
		d = 0
	}
	if d > s.poll {
		d = s.poll
	}
	return d
}

func (s *Scheduler) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}

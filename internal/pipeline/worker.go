package pipeline

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openminutes/openminutes/internal/store"
)

// pollInterval bounds how long a worker sleeps before re-checking the
// queue. Enqueues wake workers immediately; the ticker only picks up tasks
// left over from a crashed process or an expired claim.
const pollInterval = 5 * time.Second

// Pool runs N workers over the durable task queue. Each claimed task is
// dispatched to the orchestrator; the claim's visibility timeout returns
// tasks to the queue when a worker dies mid-flight.
type Pool struct {
	store      *store.Store
	orch       *Orchestrator
	workers    int
	visibility time.Duration
	log        *logrus.Entry

	notify chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool wires a pool to its orchestrator. The orchestrator's enqueues
// wake the pool from then on.
func NewPool(st *store.Store, orch *Orchestrator, workers int, visibility time.Duration, log *logrus.Entry) *Pool {
	p := &Pool{
		store:      st,
		orch:       orch,
		workers:    workers,
		visibility: visibility,
		log:        log,
		notify:     make(chan struct{}, 1),
	}
	orch.wake = p.Notify
	return p
}

// Start launches the workers. They run until Stop.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.log.WithField("workers", p.workers).Info("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	// Tasks surviving a restart are picked up without waiting for traffic.
	p.Notify()
}

// Stop cancels the workers and waits for in-flight tasks to settle.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

// Notify nudges an idle worker. Safe to call from any goroutine; a full
// buffer means a wakeup is already pending.
func (p *Pool) Notify() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) run(ctx context.Context, n int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", n)
	log.Debug("worker started")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		task, err := p.store.ClaimTask(ctx, p.visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("claiming task failed")
		}
		if task != nil {
			p.process(ctx, log, task)
			// Drain the queue before going back to sleep.
			continue
		}

		select {
		case <-ctx.Done():
			log.Debug("worker stopping")
			return
		case <-p.notify:
		case <-ticker.C:
		}
	}
}

// process runs one task with panic recovery so a bad payload cannot take
// the worker down. The task is completed in every outcome except a storage
// error; those leave the claim to expire and redeliver.
func (p *Pool) process(ctx context.Context, log *logrus.Entry, task *store.Task) {
	log = log.WithFields(logrus.Fields{"task_id": task.ID, "task": task.Kind, "meeting_id": task.MeetingID})

	err := p.handleSafely(ctx, task)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-task: leave the claim, the next run redelivers.
			return
		}
		log.WithError(err).Error("task handler failed, leaving task for redelivery")
		return
	}

	if err := p.store.CompleteTask(ctx, task.ID); err != nil {
		log.WithError(err).Error("completing task failed")
	}
}

func (p *Pool) handleSafely(ctx context.Context, task *store.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logrus.Fields{
				"task_id": task.ID,
				"panic":   r,
				"stack":   string(debug.Stack()),
			}).Error("task handler panicked")
			// A panicking task must not redeliver forever; record the
			// failure and let the task complete.
			_ = p.orch.failStage(ctx, p.log.WithField("meeting_id", task.MeetingID),
				task.MeetingID, "processing", errors.New("internal error"))
			err = nil
		}
	}()
	return p.orch.Handle(ctx, task)
}

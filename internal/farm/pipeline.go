package farm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djkazic/rigfarm/internal/journal"
	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// submission is one in-flight delivery of a solution.
type submission struct {
	id       uint64
	done     atomic.Bool
	finished chan struct{}
}

// pipeline delivers solutions to the submission callback on a goroutine per
// solution. Deliveries are serialized through lock. Finished submissions are
// reclaimed on the next launch or on drain.
type pipeline struct {
	lock    *sync.Mutex
	submit  SubmitFunc
	grace   time.Duration
	timeout time.Duration
	now     func() time.Time
	journal journal.Journal
	logger  *zap.Logger

	nextID atomic.Uint64

	mu    sync.Mutex
	tasks map[uint64]*submission
}

func newPipeline(lock *sync.Mutex, submit SubmitFunc, cfg Config, now func() time.Time, j journal.Journal, logger *zap.Logger) *pipeline {
	return &pipeline{
		lock:    lock,
		submit:  submit,
		grace:   cfg.SubmitGrace,
		timeout: cfg.SubmitTimeout,
		now:     now,
		journal: j,
		logger:  logger,
		tasks:   make(map[uint64]*submission),
	}
}

// SubmitProof queues sol for delivery. It returns as soon as the delivery
// goroutine has taken its copy of the solution.
func (f *Farm) SubmitProof(sol *types.Solution) {
	if sol == nil {
		return
	}
	if f.submit == nil {
		f.logger.Fatal("submission callback not configured", zap.Int("device", sol.DeviceIndex))
		return
	}
	f.pipeline.launch(sol)
}

// launch starts a delivery and returns its id.
func (p *pipeline) launch(sol *types.Solution) uint64 {
	t := &submission{
		id:       p.nextID.Add(1),
		finished: make(chan struct{}),
	}
	started := make(chan struct{})
	go p.run(t, sol, started)
	<-started

	p.mu.Lock()
	p.tasks[t.id] = t
	p.reclaimLocked()
	n := len(p.tasks)
	p.mu.Unlock()

	metrics.SubmissionsInFlight.Set(float64(n))
	return t.id
}

func (p *pipeline) run(t *submission, sol *types.Solution, started chan<- struct{}) {
	captured := *sol
	close(started)
	defer close(t.finished)

	p.lock.Lock()
	begin := p.now()
	err := p.deliver(&captured)
	took := p.now().Sub(begin)
	p.lock.Unlock()

	outcome := classify(err)
	metrics.Submissions.WithLabelValues(outcome.String()).Inc()
	metrics.SubmitDuration.Observe(took.Seconds())

	fields := []zap.Field{
		zap.Uint64("id", t.id),
		zap.Int("device", captured.DeviceIndex),
		zap.String("job", captured.JobID()),
		zap.Uint32("nonce", captured.Nonce),
		zap.Duration("took", took),
	}
	switch outcome {
	case journal.OutcomeAccepted:
		p.logger.Info("solution submitted", fields...)
	case journal.OutcomeRejected:
		p.logger.Info("solution refused", append(fields, zap.Error(err))...)
	default:
		p.logger.Error("submission failed", append(fields, zap.Error(err))...)
	}

	if jerr := p.journal.Record(journal.NewRecord(t.id, &captured, outcome, err, begin, took)); jerr != nil {
		p.logger.Warn("failed to journal submission", zap.Uint64("id", t.id), zap.Error(jerr))
	}

	if p.grace > 0 {
		time.Sleep(p.grace)
	}
	t.done.Store(true)
}

// deliver invokes the callback, converting a panic into an error.
func (p *pipeline) deliver(sol *types.Solution) (err error) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("submission callback panicked",
				zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("submission callback panicked: %v", r)
		}
	}()

	err = p.submit(ctx, sol)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w after %s: %v", ErrSubmitTimeout, p.timeout, err)
	}
	return err
}

func classify(err error) journal.Outcome {
	var rejected *SolutionRejectedError
	switch {
	case err == nil:
		return journal.OutcomeAccepted
	case errors.As(err, &rejected):
		return journal.OutcomeRejected
	case errors.Is(err, ErrSubmitTimeout):
		return journal.OutcomeTimedOut
	default:
		return journal.OutcomeFailed
	}
}

// reclaimLocked drops every finished submission. Caller holds p.mu.
func (p *pipeline) reclaimLocked() {
	for id, t := range p.tasks {
		if t.done.Load() {
			delete(p.tasks, id)
		}
	}
}

// drain waits up to grace for in-flight submissions to finish, then
// reclaims whatever completed.
func (p *pipeline) drain(grace time.Duration) {
	p.mu.Lock()
	pending := make([]*submission, 0, len(p.tasks))
	for _, t := range p.tasks {
		pending = append(pending, t)
	}
	p.mu.Unlock()

	if len(pending) > 0 && grace > 0 {
		timer := time.NewTimer(grace)
		defer timer.Stop()
	wait:
		for _, t := range pending {
			select {
			case <-t.finished:
			case <-timer.C:
				break wait
			}
		}
	}

	p.mu.Lock()
	p.reclaimLocked()
	n := len(p.tasks)
	p.mu.Unlock()

	metrics.SubmissionsInFlight.Set(float64(n))
	if n > 0 {
		p.logger.Warn("submissions still in flight after drain", zap.Int("pending", n))
	}
}

// pending returns the number of unreclaimed submissions.
func (p *pipeline) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

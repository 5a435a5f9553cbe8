// Package farm orchestrates a pool of mining workers: it owns their
// lifecycle, distributes work packages, aggregates telemetry and pipelines
// found solutions to an external submission callback.
package farm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djkazic/rigfarm/internal/device"
	"github.com/djkazic/rigfarm/internal/journal"
	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrNoWorkers is returned by Start when no device produced a worker.
	ErrNoWorkers = errors.New("no workers could be started")

	// ErrSubmitTimeout is reported for submissions whose callback overran
	// Config.SubmitTimeout.
	ErrSubmitTimeout = errors.New("submission timed out")
)

// SolutionRejectedError is returned by submission callbacks when the remote
// authority refused a solution.
type SolutionRejectedError struct {
	Reason string
}

func (e *SolutionRejectedError) Error() string {
	if e.Reason == "" {
		return "solution rejected"
	}
	return "solution rejected: " + e.Reason
}

// SubmitFunc delivers one solution to the remote authority. It is never
// invoked concurrently with itself. ctx carries Config.SubmitTimeout.
type SubmitFunc func(ctx context.Context, sol *types.Solution) error

// ReconnectFunc asks the work source to reconnect on behalf of a device.
type ReconnectFunc func(deviceIndex int)

// RequestWorkFunc asks the work source for a fresh package for w.
type RequestWorkFunc func(wp *types.WorkPackage, w worker.Worker)

// WorkerFactory builds workers from device descriptors. *worker.Factory
// implements it.
type WorkerFactory interface {
	Create(desc types.DeviceDescriptor, host worker.Host) (worker.Worker, error)
}

// Config holds farm tuning parameters.
type Config struct {
	// MaxConsecutiveRejections terminates the process once the rejection
	// streak reaches it. Zero disables the check.
	MaxConsecutiveRejections int

	// RejectionWindow is the longest gap between two rejections that still
	// counts as one streak.
	RejectionWindow time.Duration

	// SubmitGrace is how long a finished submission stays unreclaimable.
	SubmitGrace time.Duration

	// DrainGrace bounds how long Stop waits for in-flight submissions.
	DrainGrace time.Duration

	// SubmitTimeout is the deadline placed on each submission callback.
	// Zero means no deadline.
	SubmitTimeout time.Duration

	// ProgressFloor is the minimum elapsed window used for rate
	// normalization.
	ProgressFloor time.Duration

	// ReconnectInterval rate-limits reconnect requests per device. Zero
	// disables limiting.
	ReconnectInterval time.Duration
}

// DefaultConfig returns the default farm configuration.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveRejections: 10,
		RejectionWindow:          5 * time.Minute,
		SubmitGrace:              100 * time.Millisecond,
		DrainGrace:               time.Second,
		ProgressFloor:            100 * time.Millisecond,
		ReconnectInterval:        5 * time.Second,
	}
}

// Option configures optional farm collaborators.
type Option func(*Farm)

// WithSubmitFunc sets the submission callback.
func WithSubmitFunc(fn SubmitFunc) Option {
	return func(f *Farm) { f.submit = fn }
}

// WithReconnectFunc sets the reconnect callback.
func WithReconnectFunc(fn ReconnectFunc) Option {
	return func(f *Farm) { f.reconnect = fn }
}

// WithRequestWorkFunc sets the request-new-work callback.
func WithRequestWorkFunc(fn RequestWorkFunc) Option {
	return func(f *Farm) { f.requestWork = fn }
}

// WithSubmitLock shares a serialization lock with other submitters. By
// default the farm allocates its own.
func WithSubmitLock(mu *sync.Mutex) Option {
	return func(f *Farm) { f.submitLock = mu }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Farm) { f.now = now }
}

// WithJournal records every submission outcome to j.
func WithJournal(j journal.Journal) Option {
	return func(f *Farm) { f.journal = j }
}

// Farm is the worker orchestrator. It implements worker.Host.
type Farm struct {
	cfg     Config
	enum    device.Enumerator
	factory WorkerFactory
	logger  *zap.Logger

	submit      SubmitFunc
	reconnect   ReconnectFunc
	requestWork RequestWorkFunc
	submitLock  *sync.Mutex
	now         func() time.Time
	journal     journal.Journal

	// workMu guards the current package and its broadcast. Taken before mu.
	workMu sync.Mutex
	work   *types.WorkPackage

	// mu guards the worker collection and the mining state.
	mu       sync.Mutex
	workers  []worker.Worker
	mining   atomic.Bool
	session  bool
	peaks    []uint64
	progress Progress

	// tick is the progress-timer baseline in unix nanoseconds.
	tick atomic.Int64

	stats    *SolutionStats
	pipeline *pipeline

	limitMu  sync.Mutex
	limiters map[int]*rate.Limiter
}

var _ worker.Host = (*Farm)(nil)

// New creates an idle farm.
func New(cfg Config, enum device.Enumerator, factory WorkerFactory, logger *zap.Logger, opts ...Option) *Farm {
	f := &Farm{
		cfg:      cfg,
		enum:     enum,
		factory:  factory,
		logger:   logger.Named("farm"),
		now:      time.Now,
		journal:  journal.Nop{},
		limiters: make(map[int]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.submitLock == nil {
		f.submitLock = &sync.Mutex{}
	}

	f.stats = NewSolutionStats(cfg.RejectionWindow, f.now)
	f.pipeline = newPipeline(f.submitLock, f.submit, cfg, f.now, f.journal, logger.Named("pipeline"))
	return f
}

// Stats returns the farm's solution statistics.
func (f *Farm) Stats() *SolutionStats {
	return f.stats
}

// Work returns the package currently held by the farm, or nil.
func (f *Farm) Work() *types.WorkPackage {
	f.workMu.Lock()
	defer f.workMu.Unlock()
	return f.work
}

// ReconnectToServer forwards a worker's reconnect request to the configured
// callback, at most once per ReconnectInterval per device.
func (f *Farm) ReconnectToServer(deviceIndex int) {
	if f.reconnect == nil {
		f.logger.Fatal("reconnect callback not configured", zap.Int("device", deviceIndex))
		return
	}
	if !f.reconnectAllowed(deviceIndex) {
		f.logger.Debug("reconnect request throttled", zap.Int("device", deviceIndex))
		return
	}
	f.logger.Info("reconnect requested", zap.Int("device", deviceIndex))
	f.reconnect(deviceIndex)
}

// RequestNewWork forwards a worker's request for a fresh package.
func (f *Farm) RequestNewWork(wp *types.WorkPackage, w worker.Worker) {
	if f.requestWork == nil {
		f.logger.Fatal("request-work callback not configured")
		return
	}
	f.requestWork(wp, w)
}

func (f *Farm) reconnectAllowed(deviceIndex int) bool {
	if f.cfg.ReconnectInterval <= 0 {
		return true
	}
	f.limitMu.Lock()
	defer f.limitMu.Unlock()

	lim, ok := f.limiters[deviceIndex]
	if !ok {
		lim = rate.NewLimiter(rate.Every(f.cfg.ReconnectInterval), 1)
		f.limiters[deviceIndex] = lim
	}
	return lim.AllowN(f.now(), 1)
}

func (f *Farm) String() string {
	return fmt.Sprintf("farm(mining=%t, workers=%d)", f.IsMining(), f.workerCount())
}

func (f *Farm) workerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workers)
}

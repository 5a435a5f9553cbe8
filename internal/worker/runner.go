package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

const (
	// DefaultBatchSize is the number of nonces scanned per kernel call.
	DefaultBatchSize = 1 << 16

	// DefaultNonceSpan is the slice of the nonce space each ordinal owns.
	DefaultNonceSpan = 1 << 28
)

// RunnerConfig tunes the worker loop.
type RunnerConfig struct {
	BatchSize  uint32
	NonceSpan  uint32
	MaxWorkAge time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.NonceSpan == 0 {
		c.NonceSpan = DefaultNonceSpan
	}
	if c.BatchSize > c.NonceSpan {
		c.BatchSize = c.NonceSpan
	}
	return c
}

// Runner drives a Kernel on its own goroutine and implements Worker.
type Runner struct {
	desc   types.DeviceDescriptor
	kernel Kernel
	host   Host
	cfg    RunnerConfig
	logger *zap.Logger
	now    func() time.Time

	ordinal atomic.Int32
	state   atomic.Uint32
	hashes  atomic.Uint64

	mu       sync.Mutex
	work     *types.WorkPackage
	prepared *types.WorkPackage
	asked    *types.WorkPackage
	dirty    bool
	paused   bool
	cursor   uint64
	end      uint64
	started  bool
	killed   bool
	cancel   context.CancelFunc

	wake chan struct{}
	done chan struct{}
}

// NewRunner creates a worker for desc backed by kernel.
func NewRunner(desc types.DeviceDescriptor, kernel Kernel, host Host, cfg RunnerConfig, logger *zap.Logger) *Runner {
	r := &Runner{
		desc:   desc,
		kernel: kernel,
		host:   host,
		cfg:    cfg.withDefaults(),
		logger: logger.With(zap.Int("device", desc.Index), zap.String("kernel", kernel.Name())),
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	r.state.Store(uint32(types.StateInitializing))
	return r
}

func (r *Runner) InitFromFarm(ordinal int) {
	r.ordinal.Store(int32(ordinal))
}

func (r *Runner) StartWorking() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return fmt.Errorf("worker %d already started", r.desc.Index)
	}
	if r.killed {
		return fmt.Errorf("worker %d was killed", r.desc.Index)
	}
	r.started = true

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)
	return nil
}

// SetWork hands the worker a package. Handing back the package it already
// holds only resumes a paused worker; the nonce cursor is kept, and an
// exhausted range is not reported to the host a second time.
func (r *Runner) SetWork(wp *types.WorkPackage) {
	if wp == nil {
		return
	}
	r.mu.Lock()
	r.work = wp
	r.paused = false
	r.mu.Unlock()
	r.signal()
}

func (r *Runner) SetWorkPackageDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
	r.signal()
}

func (r *Runner) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	r.state.CompareAndSwap(uint32(types.StateRunning), uint32(types.StatePaused))
}

// Kill stops the worker unconditionally. It does not wait for the goroutine
// to wind down; the kernel is closed on its way out.
func (r *Runner) Kill() {
	r.mu.Lock()
	if r.killed {
		r.mu.Unlock()
		return
	}
	r.killed = true
	cancel := r.cancel
	r.mu.Unlock()

	r.state.Store(uint32(types.StateStopped))
	if cancel != nil {
		cancel()
	}
}

// Done is closed once the worker goroutine has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) IsInitializing() bool { return r.State() == types.StateInitializing }
func (r *Runner) IsStopped() bool      { return r.State() == types.StateStopped }

func (r *Runner) State() types.WorkerState {
	return types.WorkerState(r.state.Load())
}

func (r *Runner) PlatformType() types.PlatformType { return r.desc.Platform }
func (r *Runner) AbsoluteIndex() int               { return r.desc.Index }
func (r *Runner) Ordinal() int                     { return int(r.ordinal.Load()) }

func (r *Runner) Name() string {
	if r.desc.Name != "" {
		return r.desc.Name
	}
	return fmt.Sprintf("%s%d", r.desc.Platform, r.desc.Index)
}

func (r *Runner) HashCount() uint64 {
	return r.hashes.Swap(0)
}

func (r *Runner) Temperature() (temp, fan uint32) {
	if th, ok := r.kernel.(Thermal); ok {
		return th.Temperature()
	}
	return 0, 0
}

func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// setState moves the worker to s unless it has been stopped.
func (r *Runner) setState(s types.WorkerState) {
	for {
		cur := r.state.Load()
		if types.WorkerState(cur) == types.StateStopped {
			return
		}
		if r.state.CompareAndSwap(cur, uint32(s)) {
			return
		}
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if err := r.kernel.Close(); err != nil {
			r.logger.Warn("kernel close failed", zap.Error(err))
		}
	}()

	if err := r.kernel.Init(ctx); err != nil {
		r.logger.Error("kernel init failed", zap.Error(err))
		r.state.Store(uint32(types.StateStopped))
		return
	}
	r.setState(types.StatePaused)
	r.logger.Debug("worker ready")

	for {
		if ctx.Err() != nil {
			r.state.Store(uint32(types.StateStopped))
			return
		}

		wp, start, count, ok := r.nextBatch()
		if !ok {
			select {
			case <-ctx.Done():
				r.state.Store(uint32(types.StateStopped))
				return
			case <-r.wake:
			}
			continue
		}

		res, err := r.kernel.Search(ctx, wp, start, count)
		r.hashes.Add(res.Hashes)
		if err != nil {
			if ctx.Err() != nil {
				r.state.Store(uint32(types.StateStopped))
				return
			}
			r.logger.Error("kernel search failed", zap.Error(err))
			r.state.Store(uint32(types.StateStopped))
			return
		}

		for _, nonce := range res.Nonces {
			r.host.SubmitProof(types.NewSolution(wp, nonce, r.desc.Index, r.now()))
		}
	}
}

// nextBatch picks the next nonce range to scan. It returns ok=false when the
// worker should sleep until woken.
func (r *Runner) nextBatch() (*types.WorkPackage, uint32, uint32, bool) {
	r.mu.Lock()

	if r.work == nil || r.paused {
		r.mu.Unlock()
		r.setState(types.StatePaused)
		return nil, 0, 0, false
	}

	wp := r.work
	if wp != r.prepared || r.dirty {
		if err := r.kernel.Prepare(wp); err != nil {
			r.paused = true
			r.mu.Unlock()
			r.logger.Error("kernel prepare failed", zap.String("job", wp.JobID), zap.Error(err))
			r.setState(types.StatePaused)
			r.host.RequestNewWork(wp, r)
			return nil, 0, 0, false
		}
		r.prepared = wp
		r.asked = nil
		r.dirty = false
		r.resetRange()
	}

	stale := wp.IsStale(r.cfg.MaxWorkAge, r.now())
	if r.cursor >= r.end || stale {
		// Nothing left to do on this package; pause locally until the
		// farm hands us a different one.
		r.paused = true
		first := r.asked != wp
		r.asked = wp
		r.mu.Unlock()
		r.setState(types.StatePaused)
		if !first {
			return nil, 0, 0, false
		}
		if stale {
			// The feed stopped moving; ask the host to re-establish it.
			r.logger.Warn("work is stale", zap.String("job", wp.JobID),
				zap.Duration("max_age", r.cfg.MaxWorkAge))
			r.host.ReconnectToServer(r.desc.Index)
		} else {
			r.logger.Debug("work exhausted", zap.String("job", wp.JobID))
		}
		r.host.RequestNewWork(wp, r)
		return nil, 0, 0, false
	}

	start := r.cursor
	count := uint64(r.cfg.BatchSize)
	if start+count > r.end {
		count = r.end - start
	}
	r.cursor += count
	r.mu.Unlock()

	r.setState(types.StateRunning)
	return wp, uint32(start), uint32(count), true
}

// resetRange points the cursor at the start of this worker's nonce slice.
func (r *Runner) resetRange() {
	span := uint64(r.cfg.NonceSpan)
	slots := (uint64(1) << 32) / span
	if slots == 0 {
		slots = 1
	}
	start := (uint64(r.Ordinal()) % slots) * span
	r.cursor = start
	r.end = start + span
	if r.end > 1<<32 {
		r.end = 1 << 32
	}
}

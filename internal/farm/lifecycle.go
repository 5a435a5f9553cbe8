package farm

import (
	"context"
	"errors"
	"fmt"

	"github.com/djkazic/rigfarm/internal/device"
	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/internal/worker"

	"go.uber.org/zap"
)

// Start enumerates enabled devices and starts one worker per device. It is
// a no-op while the farm is already mining. Start returns once every worker
// has been told to run; use IsOneWorkerInitializing to poll readiness.
func (f *Farm) Start(ctx context.Context) error {
	started, err := f.start(ctx)
	if err != nil || !started {
		return err
	}
	// New workers pick up whatever package the farm already holds.
	f.rebroadcast()
	return nil
}

// start creates the workers. It reports whether any were created, so a call
// on a running farm leaves the existing workers untouched.
func (f *Farm) start(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.mining.Load() {
		return false, nil
	}
	if len(f.workers) != 0 {
		f.logger.Error("refusing to start: worker collection not empty while idle",
			zap.Int("workers", len(f.workers)))
		return false, nil
	}

	devs, err := f.enum.Devices(ctx)
	if err != nil {
		return false, fmt.Errorf("enumerate devices: %w", err)
	}
	devs = device.Enabled(devs)

	if !f.session {
		f.stats.Begin()
		f.session = true
	}

	for _, desc := range devs {
		w, err := f.factory.Create(desc, f)
		if err != nil {
			if errors.Is(err, worker.ErrUnsupportedDevice) {
				f.logger.DPanic("unsupported device skipped",
					zap.Int("device", desc.Index), zap.String("name", desc.Name),
					zap.Stringer("vendor", desc.Vendor), zap.Error(err))
			} else {
				f.logger.Error("failed to create worker",
					zap.Int("device", desc.Index), zap.String("name", desc.Name), zap.Error(err))
			}
			continue
		}

		w.InitFromFarm(len(f.workers))
		if err := w.StartWorking(); err != nil {
			f.logger.Error("failed to start worker", zap.Int("device", desc.Index), zap.Error(err))
			w.Kill()
			continue
		}
		f.workers = append(f.workers, w)
		f.logger.Info("worker started",
			zap.Int("device", desc.Index),
			zap.String("name", w.Name()),
			zap.Stringer("platform", w.PlatformType()),
			zap.Int("ordinal", w.Ordinal()))
	}

	if len(f.workers) == 0 {
		f.logger.Fatal("no usable devices, nothing to mine with", zap.Int("enumerated", len(devs)))
		return false, ErrNoWorkers
	}

	f.mining.Store(true)
	f.resetTimer()
	metrics.Workers.Set(float64(len(f.workers)))
	metrics.Mining.Set(1)
	f.logger.Info("farm started", zap.Int("workers", len(f.workers)))
	return true, nil
}

// Stop drains the submission pipeline, then kills every worker. Stopping an
// idle farm does nothing.
func (f *Farm) Stop() {
	if !f.IsMining() && f.workerCount() == 0 {
		return
	}
	f.pipeline.drain(f.cfg.DrainGrace)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked("stop requested")
}

// stopLocked kills and drops every worker. Caller holds f.mu.
func (f *Farm) stopLocked(reason string) {
	if len(f.workers) == 0 && !f.mining.Load() {
		return
	}
	for _, w := range f.workers {
		w.Kill()
	}
	n := len(f.workers)
	f.workers = nil
	f.mining.Store(false)

	metrics.Workers.Set(0)
	metrics.Mining.Set(0)
	f.logger.Info("farm stopped", zap.String("reason", reason), zap.Int("workers", n))
}

// Pause pauses every worker without tearing down its device context.
func (f *Farm) Pause() {
	f.pauseWhere(func(worker.Worker) bool { return true })
}

// PauseCPUWorkers pauses only CPU workers.
func (f *Farm) PauseCPUWorkers() {
	f.pauseWhere(func(w worker.Worker) bool { return w.PlatformType() == types.PlatformCPU })
}

func (f *Farm) pauseWhere(match func(worker.Worker) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		if match(w) {
			w.Pause()
		}
	}
}

// IsMining reports whether the farm has running workers.
func (f *Farm) IsMining() bool {
	return f.mining.Load()
}

// IsOneWorkerInitializing reports whether any worker is still initializing.
func (f *Farm) IsOneWorkerInitializing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		if w.IsInitializing() {
			return true
		}
	}
	return false
}

// HasCPUWorker reports whether a CPU worker is registered.
func (f *Farm) HasCPUWorker() bool {
	return f.CPUWorker() != nil
}

// CPUWorker returns the first CPU worker, or nil.
func (f *Farm) CPUWorker() worker.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		if w.PlatformType() == types.PlatformCPU {
			return w
		}
	}
	return nil
}

// Workers returns a snapshot of the worker collection.
func (f *Farm) Workers() []worker.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]worker.Worker, len(f.workers))
	copy(out, f.workers)
	return out
}

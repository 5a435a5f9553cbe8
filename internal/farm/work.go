package farm

import (
	"time"

	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// SetWork hands wp to every worker. A package identical to the one already
// held only resumes workers: the held reference is re-sent and the progress
// timer keeps running. A different package replaces the held one and resets
// the timer.
func (f *Farm) SetWork(wp *types.WorkPackage) {
	if wp == nil {
		f.logger.Warn("ignoring nil work package")
		return
	}

	f.workMu.Lock()
	defer f.workMu.Unlock()

	if f.work.IsSame(wp) {
		f.broadcast(f.work)
		metrics.WorkUpdates.WithLabelValues("resume").Inc()
		return
	}

	f.work = wp
	f.resetTimer()
	n := f.broadcast(wp)
	metrics.WorkUpdates.WithLabelValues("new").Inc()
	f.logger.Debug("new work",
		zap.String("job", wp.JobID),
		zap.Bool("clean", wp.Clean),
		zap.Int("workers", n))
}

// SetWorkPackageDirty makes every worker re-derive its state from the
// package it already holds.
func (f *Farm) SetWorkPackageDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		w.SetWorkPackageDirty()
	}
}

// rebroadcast re-sends the held package, if any, to every worker.
func (f *Farm) rebroadcast() {
	f.workMu.Lock()
	defer f.workMu.Unlock()
	if f.work != nil {
		f.broadcast(f.work)
	}
}

// broadcast hands wp to every registered worker. Caller holds f.workMu.
func (f *Farm) broadcast(wp *types.WorkPackage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workers {
		w.SetWork(wp)
	}
	return len(f.workers)
}

func (f *Farm) resetTimer() {
	f.tick.Store(f.now().UnixNano())
}

func (f *Farm) timerBaseline() time.Time {
	return time.Unix(0, f.tick.Load())
}

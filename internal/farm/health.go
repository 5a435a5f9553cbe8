package farm

import (
	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// DetectDeadWorkers stops the farm and returns true when every registered
// worker has stopped. With no workers it returns false.
func (f *Farm) DetectDeadWorkers() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.workers) == 0 {
		return false
	}
	dead := 0
	for _, w := range f.workers {
		if w.State() == types.StateStopped {
			dead++
		}
	}
	metrics.DeadWorkers.Set(float64(dead))
	if dead < len(f.workers) {
		return false
	}

	f.logger.Warn("all workers dead", zap.Int("workers", dead))
	f.stopLocked("all workers dead")
	return true
}

package farm

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// WorkerProgress is one worker's share of a telemetry snapshot.
type WorkerProgress struct {
	Index       int                `json:"index"`
	Name        string             `json:"name"`
	Platform    types.PlatformType `json:"platform"`
	State       types.WorkerState  `json:"state"`
	Hashrate    uint64             `json:"hashrate"`
	Peak        uint64             `json:"peak"`
	Accepted    uint64             `json:"accepted"`
	Rejected    uint64             `json:"rejected"`
	Temperature uint32             `json:"temperature"`
	Fan         uint32             `json:"fan"`
}

// Progress is a point-in-time telemetry snapshot of the farm.
type Progress struct {
	At       time.Time        `json:"at"`
	Elapsed  time.Duration    `json:"elapsed"`
	Hashrate uint64           `json:"hashrate"`
	Workers  []WorkerProgress `json:"workers"`
	Dead     int              `json:"dead"`
	Accepted uint64           `json:"accepted"`
	Rejected uint64           `json:"rejected"`
}

// String renders a one-line summary.
func (p Progress) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%d workers", FormatHashrate(p.Hashrate), len(p.Workers))
	if p.Dead > 0 {
		fmt.Fprintf(&b, ", %d dead", p.Dead)
	}
	fmt.Fprintf(&b, "] A%d:R%d", p.Accepted, p.Rejected)
	for _, w := range p.Workers {
		fmt.Fprintf(&b, " %s:%s", w.Name, FormatHashrate(w.Hashrate))
		if w.Temperature > 0 {
			fmt.Fprintf(&b, "/%dC", w.Temperature)
		}
	}
	return b.String()
}

// FormatHashrate formats a rate in H/s with an SI prefix.
func FormatHashrate(hs uint64) string {
	units := []string{"H/s", "KH/s", "MH/s", "GH/s", "TH/s", "PH/s"}
	v := float64(hs)
	i := 0
	for v >= 1000 && i < len(units)-1 {
		v /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d %s", hs, units[0])
	}
	return fmt.Sprintf("%.2f %s", v, units[i])
}

// MiningProgress computes a fresh telemetry snapshot. Hash counts are
// normalized over the time since the previous call, floored at
// Config.ProgressFloor. If every worker has stopped the farm stops itself.
func (f *Farm) MiningProgress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	prev := f.tick.Swap(now.UnixNano())
	elapsed := now.Sub(time.Unix(0, prev))
	if elapsed < f.cfg.ProgressFloor {
		elapsed = f.cfg.ProgressFloor
	}
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}

	if len(f.peaks) != len(f.workers) {
		f.peaks = make([]uint64, len(f.workers))
		metrics.ResetWorkers()
	}

	p := Progress{
		At:      now,
		Elapsed: elapsed,
		Workers: make([]WorkerProgress, 0, len(f.workers)),
	}
	p.Accepted, p.Rejected = f.stats.Totals()

	for i, w := range f.workers {
		idx := w.AbsoluteIndex()
		rate := uint64(math.Round(float64(w.HashCount()) / elapsed.Seconds()))
		if rate > f.peaks[i] {
			f.peaks[i] = rate
		}
		temp, fan := w.Temperature()
		state := w.State()
		if state == types.StateStopped {
			p.Dead++
		}

		p.Hashrate += rate
		p.Workers = append(p.Workers, WorkerProgress{
			Index:       idx,
			Name:        w.Name(),
			Platform:    w.PlatformType(),
			State:       state,
			Hashrate:    rate,
			Peak:        f.peaks[i],
			Accepted:    f.stats.Accepted(idx),
			Rejected:    f.stats.Rejected(idx),
			Temperature: temp,
			Fan:         fan,
		})

		label := metrics.DeviceLabel(idx)
		metrics.WorkerHashrate.WithLabelValues(label).Set(float64(rate))
		metrics.WorkerHashratePeak.WithLabelValues(label).Set(float64(f.peaks[i]))
		metrics.WorkerTemperature.WithLabelValues(label).Set(float64(temp))
		metrics.WorkerFan.WithLabelValues(label).Set(float64(fan))
	}

	metrics.FarmHashrate.Set(float64(p.Hashrate))
	metrics.DeadWorkers.Set(float64(p.Dead))

	if len(f.workers) > 0 && p.Dead == len(f.workers) {
		f.logger.Warn("all workers stopped", zap.Int("workers", len(f.workers)))
		f.stopLocked("all workers dead")
	}

	f.progress = p
	return p
}

// LastProgress returns the most recent snapshot computed by MiningProgress.
func (f *Farm) LastProgress() Progress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress
}

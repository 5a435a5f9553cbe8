package farm

import (
	"sync"
	"time"

	"github.com/djkazic/rigfarm/internal/metrics"

	"go.uber.org/zap"
)

// SolutionStats counts accepted and rejected solutions per device and
// tracks the farm-wide consecutive-rejection streak.
type SolutionStats struct {
	window time.Duration
	now    func() time.Time

	mu            sync.Mutex
	accepted      map[int]uint64
	rejected      map[int]uint64
	consecutive   int
	lastRejection time.Time
	begun         time.Time
}

// NewSolutionStats creates empty statistics. Rejections further apart than
// window start a new streak.
func NewSolutionStats(window time.Duration, now func() time.Time) *SolutionStats {
	if now == nil {
		now = time.Now
	}
	s := &SolutionStats{window: window, now: now}
	s.reset()
	return s
}

// Begin starts a new session, clearing every counter.
func (s *SolutionStats) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	s.begun = s.now()
}

func (s *SolutionStats) reset() {
	s.accepted = make(map[int]uint64)
	s.rejected = make(map[int]uint64)
	s.consecutive = 0
	s.lastRejection = time.Time{}
}

// AddAccepted records an accepted solution and ends the rejection streak.
func (s *SolutionStats) AddAccepted(deviceIndex int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepted[deviceIndex]++
	s.consecutive = 0
}

// AddRejected records a rejection and returns the updated streak length. A
// rejection more than window after the previous one restarts the streak
// at 1.
func (s *SolutionStats) AddRejected(deviceIndex int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.rejected[deviceIndex]++
	if !s.lastRejection.IsZero() && now.Sub(s.lastRejection) > s.window {
		s.consecutive = 0
	}
	s.consecutive++
	s.lastRejection = now
	return s.consecutive
}

func (s *SolutionStats) Accepted(deviceIndex int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted[deviceIndex]
}

func (s *SolutionStats) Rejected(deviceIndex int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected[deviceIndex]
}

// Consecutive returns the current rejection streak.
func (s *SolutionStats) Consecutive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutive
}

// Totals returns farm-wide accepted and rejected counts.
func (s *SolutionStats) Totals() (accepted, rejected uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.accepted {
		accepted += n
	}
	for _, n := range s.rejected {
		rejected += n
	}
	return accepted, rejected
}

// SessionStart returns when the current session began.
func (s *SolutionStats) SessionStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begun
}

// AddAcceptedSolution records an accepted solution from deviceIndex.
func (f *Farm) AddAcceptedSolution(deviceIndex int) {
	f.stats.AddAccepted(deviceIndex)
	metrics.SolutionsAccepted.WithLabelValues(metrics.DeviceLabel(deviceIndex)).Inc()
	metrics.ConsecutiveRejections.Set(0)
}

// AddRejectedSolution records a rejected solution from deviceIndex. The
// process terminates once the rejection streak reaches
// Config.MaxConsecutiveRejections.
func (f *Farm) AddRejectedSolution(deviceIndex int) {
	streak := f.stats.AddRejected(deviceIndex)
	metrics.SolutionsRejected.WithLabelValues(metrics.DeviceLabel(deviceIndex)).Inc()
	metrics.ConsecutiveRejections.Set(float64(streak))

	f.logger.Warn("solution rejected", zap.Int("device", deviceIndex), zap.Int("streak", streak))

	limit := f.cfg.MaxConsecutiveRejections
	if limit > 0 && streak >= limit {
		f.logger.Fatal("too many consecutive rejected solutions",
			zap.Int("streak", streak), zap.Int("max", limit))
	}
}

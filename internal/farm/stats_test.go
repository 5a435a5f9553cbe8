package farm

import (
	"testing"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/testutil"
)

func TestSolutionStats_StreakWithinWindow(t *testing.T) {
	clock := newFakeClock()
	s := NewSolutionStats(5*time.Minute, clock.Now)

	for i := 1; i <= 4; i++ {
		clock.Advance(4 * time.Minute)
		if got := s.AddRejected(0); got != i {
			t.Errorf("rejection %d: streak = %d, want %d", i, got, i)
		}
	}
	if s.Rejected(0) != 4 {
		t.Errorf("rejected = %d, want 4", s.Rejected(0))
	}
}

func TestSolutionStats_GapRestartsStreak(t *testing.T) {
	clock := newFakeClock()
	s := NewSolutionStats(5*time.Minute, clock.Now)

	s.AddRejected(0)
	s.AddRejected(1)
	clock.Advance(5*time.Minute + time.Second)
	if got := s.AddRejected(0); got != 1 {
		t.Errorf("streak after gap = %d, want 1", got)
	}
	clock.Advance(time.Minute)
	if got := s.AddRejected(0); got != 2 {
		t.Errorf("streak = %d, want 2", got)
	}
}

func TestSolutionStats_AcceptedResetsStreak(t *testing.T) {
	clock := newFakeClock()
	s := NewSolutionStats(5*time.Minute, clock.Now)

	for i := 0; i < 7; i++ {
		s.AddRejected(0)
	}
	s.AddAccepted(1)
	if s.Consecutive() != 0 {
		t.Errorf("streak = %d after accept, want 0", s.Consecutive())
	}
	if got := s.AddRejected(0); got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}

	acc, rej := s.Totals()
	if acc != 1 || rej != 8 {
		t.Errorf("totals = %d/%d, want 1/8", acc, rej)
	}
}

func TestSolutionStats_Begin(t *testing.T) {
	clock := newFakeClock()
	s := NewSolutionStats(5*time.Minute, clock.Now)
	s.AddAccepted(0)
	s.AddRejected(0)

	clock.Advance(time.Hour)
	s.Begin()
	acc, rej := s.Totals()
	if acc != 0 || rej != 0 || s.Consecutive() != 0 {
		t.Errorf("after Begin: %d/%d streak %d, want zeros", acc, rej, s.Consecutive())
	}
	if !s.SessionStart().Equal(clock.Now()) {
		t.Errorf("session start = %v, want %v", s.SessionStart(), clock.Now())
	}
}

func TestAddRejectedSolution_FatalAtThreshold(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(1, false))

	for i := 1; i < 5; i++ {
		tf.AddRejectedSolution(0)
	}
	if tf.fatals.count.Load() != 0 {
		t.Fatal("fatal before threshold")
	}

	// A long gap restarts the streak.
	tf.clock.Advance(6 * time.Minute)
	tf.AddRejectedSolution(0)
	if tf.fatals.count.Load() != 0 {
		t.Fatal("fatal after streak restart")
	}
	if tf.Stats().Consecutive() != 1 {
		t.Errorf("streak = %d, want 1", tf.Stats().Consecutive())
	}

	for i := 0; i < 4; i++ {
		tf.AddRejectedSolution(0)
	}
	if got := tf.fatals.count.Load(); got != 1 {
		t.Errorf("fatal count = %d, want 1", got)
	}
	if tf.logs.FilterMessage("too many consecutive rejected solutions").Len() != 1 {
		t.Error("missing fatal log entry")
	}
}

func TestAddAcceptedSolution_ZeroesStreak(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(1, false))
	for i := 0; i < 4; i++ {
		tf.AddRejectedSolution(0)
	}
	tf.AddAcceptedSolution(0)
	if tf.Stats().Consecutive() != 0 {
		t.Errorf("streak = %d, want 0", tf.Stats().Consecutive())
	}
	for i := 0; i < 4; i++ {
		tf.AddRejectedSolution(0)
	}
	if tf.fatals.count.Load() != 0 {
		t.Error("accepted solution should have broken the streak")
	}
}

func TestAddRejectedSolution_ZeroThresholdDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveRejections = 0
	tf := newTestFarm(t, cfg, testutil.SampleDevices(1, false))
	for i := 0; i < 50; i++ {
		tf.AddRejectedSolution(0)
	}
	if tf.fatals.count.Load() != 0 {
		t.Error("threshold 0 should never be fatal")
	}
}

func TestDetectDeadWorkers(t *testing.T) {
	t.Run("no workers", func(t *testing.T) {
		tf := newTestFarm(t, testConfig(), nil)
		if tf.DetectDeadWorkers() {
			t.Error("DetectDeadWorkers = true with no workers")
		}
	})

	t.Run("some alive", func(t *testing.T) {
		tf := startTestFarm(t, testutil.SampleDevices(3, false))
		tf.factory.created()[0].SetState(types.StateStopped)
		if tf.DetectDeadWorkers() {
			t.Error("DetectDeadWorkers = true with live workers")
		}
		if len(tf.Workers()) != 3 || !tf.IsMining() {
			t.Error("farm should be untouched")
		}
	})

	t.Run("all dead", func(t *testing.T) {
		tf := startTestFarm(t, testutil.SampleDevices(3, false))
		for _, w := range tf.factory.created() {
			w.SetState(types.StateStopped)
		}
		if !tf.DetectDeadWorkers() {
			t.Error("DetectDeadWorkers = false with every worker stopped")
		}
		if len(tf.Workers()) != 0 {
			t.Errorf("workers = %d, want 0", len(tf.Workers()))
		}
		if tf.IsMining() {
			t.Error("farm still mining")
		}
		if tf.DetectDeadWorkers() {
			t.Error("second call should see no workers")
		}
	})
}

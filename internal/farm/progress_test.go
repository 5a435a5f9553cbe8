package farm

import (
	"strings"
	"testing"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/testutil"
)

func TestMiningProgress_RatesSumToTotal(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(3, true))
	ws := tf.factory.created()
	ws[0].AddHashes(1000)
	ws[1].AddHashes(3000)
	ws[2].AddHashes(500)
	ws[1].SetThermals(71, 55)

	tf.clock.Advance(2 * time.Second)
	p := tf.MiningProgress()

	wantRates := []uint64{500, 1500, 250}
	var sum uint64
	for i, wp := range p.Workers {
		if wp.Hashrate != wantRates[i] {
			t.Errorf("worker %d rate = %d, want %d", i, wp.Hashrate, wantRates[i])
		}
		sum += wp.Hashrate
	}
	if p.Hashrate != sum {
		t.Errorf("total = %d, want sum %d", p.Hashrate, sum)
	}
	if p.Elapsed != 2*time.Second {
		t.Errorf("elapsed = %v, want 2s", p.Elapsed)
	}
	if p.Workers[1].Temperature != 71 || p.Workers[1].Fan != 55 {
		t.Errorf("thermals = %d/%d, want 71/55", p.Workers[1].Temperature, p.Workers[1].Fan)
	}
	if tf.LastProgress().Hashrate != p.Hashrate {
		t.Error("published progress not updated")
	}
}

func TestMiningProgress_ElapsedFloor(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(1, false))
	w := tf.factory.created()[0]

	w.AddHashes(100)
	tf.clock.Advance(10 * time.Millisecond)
	p := tf.MiningProgress()
	if p.Elapsed != 100*time.Millisecond {
		t.Errorf("elapsed = %v, want 100ms floor", p.Elapsed)
	}
	if p.Hashrate != 1000 {
		t.Errorf("rate = %d, want 1000", p.Hashrate)
	}

	// Polling twice at the same instant must not divide by zero.
	p = tf.MiningProgress()
	if p.Hashrate != 0 {
		t.Errorf("rate = %d, want 0", p.Hashrate)
	}
}

func TestMiningProgress_PeaksMonotonic(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(2, false))
	ws := tf.factory.created()

	counts := [][2]uint64{{1000, 10}, {400, 50}, {2000, 0}, {0, 30}}
	var prev [2]uint64
	for round, c := range counts {
		ws[0].AddHashes(c[0])
		ws[1].AddHashes(c[1])
		tf.clock.Advance(time.Second)
		p := tf.MiningProgress()

		for i := range ws {
			peak := p.Workers[i].Peak
			if peak < prev[i] {
				t.Errorf("round %d worker %d peak dropped %d -> %d", round, i, prev[i], peak)
			}
			if peak < p.Workers[i].Hashrate {
				t.Errorf("round %d worker %d peak %d below rate %d", round, i, peak, p.Workers[i].Hashrate)
			}
			prev[i] = peak
		}
	}
	if prev[0] != 2000 || prev[1] != 50 {
		t.Errorf("final peaks = %v, want [2000 50]", prev)
	}
}

func TestMiningProgress_PeaksResetOnWorkerCountChange(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(2, false))
	tf.factory.created()[0].AddHashes(5000)
	tf.clock.Advance(time.Second)
	if p := tf.MiningProgress(); p.Workers[0].Peak != 5000 {
		t.Fatalf("peak = %d, want 5000", p.Workers[0].Peak)
	}

	tf.Stop()
	tf.enum.set(testutil.SampleDevices(3, false))
	if err := tf.Start(t.Context()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	tf.clock.Advance(time.Second)
	p := tf.MiningProgress()
	if len(p.Workers) != 3 {
		t.Fatalf("workers = %d, want 3", len(p.Workers))
	}
	for i, w := range p.Workers {
		if w.Peak != 0 {
			t.Errorf("worker %d peak = %d after count change, want 0", i, w.Peak)
		}
	}
}

func TestMiningProgress_MergesSolutionStats(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(2, false))
	tf.AddAcceptedSolution(0)
	tf.AddAcceptedSolution(0)
	tf.AddRejectedSolution(1)

	p := tf.MiningProgress()
	if p.Accepted != 2 || p.Rejected != 1 {
		t.Errorf("totals = A%d:R%d, want A2:R1", p.Accepted, p.Rejected)
	}
	if p.Workers[0].Accepted != 2 || p.Workers[1].Rejected != 1 {
		t.Errorf("per-worker = %+v", p.Workers)
	}
}

func TestMiningProgress_AllDeadStopsFarm(t *testing.T) {
	tf := startTestFarm(t, testutil.SampleDevices(2, false))
	ws := tf.factory.created()
	ws[0].SetState(types.StateStopped)

	if p := tf.MiningProgress(); p.Dead != 1 || !tf.IsMining() {
		t.Fatalf("dead=%d mining=%t, want 1 dead and still mining", p.Dead, tf.IsMining())
	}

	ws[1].SetState(types.StateStopped)
	p := tf.MiningProgress()
	if p.Dead != 2 {
		t.Errorf("dead = %d, want 2", p.Dead)
	}
	if tf.IsMining() {
		t.Error("farm still mining with every worker dead")
	}
	if n := len(tf.Workers()); n != 0 {
		t.Errorf("workers = %d, want 0", n)
	}
}

func TestProgressString(t *testing.T) {
	p := Progress{
		Hashrate: 1500000,
		Workers: []WorkerProgress{
			{Name: "gpu0", Hashrate: 1500000, Temperature: 65},
		},
		Dead:     0,
		Accepted: 3,
		Rejected: 1,
	}
	s := p.String()
	for _, want := range []string{"1.50 MH/s", "1 workers", "A3:R1", "gpu0:1.50 MH/s/65C"} {
		if !strings.Contains(s, want) {
			t.Errorf("%q missing %q", s, want)
		}
	}
}

func TestFormatHashrate(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 H/s"},
		{999, "999 H/s"},
		{1000, "1.00 KH/s"},
		{2500000, "2.50 MH/s"},
		{7300000000000, "7.30 TH/s"},
	}
	for _, tt := range tests {
		if got := FormatHashrate(tt.in); got != tt.want {
			t.Errorf("FormatHashrate(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

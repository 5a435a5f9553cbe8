package worker

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/pkg/util"

	"go.uber.org/zap"
)

func easyTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

func testWork(t *testing.T, jobID string) *types.WorkPackage {
	t.Helper()
	header := make([]byte, util.HeaderSize)
	copy(header, jobID)
	wp, err := types.NewWorkPackage(jobID, header, easyTarget(), false, time.Now())
	if err != nil {
		t.Fatalf("NewWorkPackage: %v", err)
	}
	return wp
}

// recordingHost collects everything a worker reports back.
type recordingHost struct {
	mu         sync.Mutex
	solutions  []*types.Solution
	requests   int
	reconnects []int
	requestCh  chan struct{}

	// echo, when set, hands the requested package straight back.
	echo *Runner
}

func newRecordingHost() *recordingHost {
	return &recordingHost{requestCh: make(chan struct{}, 16)}
}

func (h *recordingHost) SubmitProof(sol *types.Solution) {
	h.mu.Lock()
	h.solutions = append(h.solutions, sol)
	h.mu.Unlock()
}

func (h *recordingHost) ReconnectToServer(deviceIndex int) {
	h.mu.Lock()
	h.reconnects = append(h.reconnects, deviceIndex)
	h.mu.Unlock()
}

func (h *recordingHost) RequestNewWork(wp *types.WorkPackage, _ Worker) {
	h.mu.Lock()
	h.requests++
	echo := h.echo
	h.mu.Unlock()
	if echo != nil {
		go echo.SetWork(wp)
	}
	select {
	case h.requestCh <- struct{}{}:
	default:
	}
}

func (h *recordingHost) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests
}

func (h *recordingHost) reconnectCalls() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.reconnects...)
}

func (h *recordingHost) solutionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.solutions)
}

func (h *recordingHost) waitRequest(t *testing.T) {
	t.Helper()
	select {
	case <-h.requestCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a work request")
	}
}

// countingKernel wraps SimKernel and counts Prepare calls.
type countingKernel struct {
	*SimKernel
	prepares atomic.Int32
	initErr  error
}

func (k *countingKernel) Init(ctx context.Context) error {
	if k.initErr != nil {
		return k.initErr
	}
	return k.SimKernel.Init(ctx)
}

func (k *countingKernel) Prepare(wp *types.WorkPackage) error {
	k.prepares.Add(1)
	return k.SimKernel.Prepare(wp)
}

func newTestRunner(k Kernel, host Host) *Runner {
	desc := types.DeviceDescriptor{Index: 7, Name: "GPU7", Platform: types.PlatformGPU, Enabled: true, Initialized: true}
	return NewRunner(desc, k, host, RunnerConfig{BatchSize: 16, NonceSpan: 64}, zap.NewNop())
}

func waitState(t *testing.T, w Worker, want types.WorkerState) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", w.State(), want)
}

func TestRunner_ScansRangeAndRequestsWork(t *testing.T) {
	host := newRecordingHost()
	r := newTestRunner(NewSimKernel("sim", 2, 0), host)
	r.InitFromFarm(0)

	if !r.IsInitializing() {
		t.Error("new worker should report initializing")
	}
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()

	r.SetWork(testWork(t, "job1"))
	host.waitRequest(t)

	if got := host.solutionCount(); got != 64 {
		t.Errorf("solutions = %d, want 64", got)
	}
	if got := r.HashCount(); got != 64 {
		t.Errorf("hash count = %d, want 64", got)
	}
	if got := r.HashCount(); got != 0 {
		t.Errorf("hash count after read = %d, want 0", got)
	}
	waitState(t, r, types.StatePaused)
}

func TestRunner_SameWorkResumesWithoutReset(t *testing.T) {
	host := newRecordingHost()
	k := &countingKernel{SimKernel: NewSimKernel("sim", 1, 0)}
	r := newTestRunner(k, host)
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()

	wp := testWork(t, "job1")
	r.SetWork(wp)
	host.waitRequest(t)

	// Re-handing the same package resumes the worker, which finds its
	// range already exhausted and goes back to sleep without re-scanning
	// or asking again.
	r.SetWork(wp)
	time.Sleep(50 * time.Millisecond)
	waitState(t, r, types.StatePaused)

	if got := host.requestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if got := host.solutionCount(); got != 64 {
		t.Errorf("solutions = %d, want 64", got)
	}
	if got := k.prepares.Load(); got != 1 {
		t.Errorf("prepares = %d, want 1", got)
	}

	r.SetWork(testWork(t, "job2"))
	host.waitRequest(t)

	if got := host.solutionCount(); got != 128 {
		t.Errorf("solutions after new work = %d, want 128", got)
	}
	if got := k.prepares.Load(); got != 2 {
		t.Errorf("prepares after new work = %d, want 2", got)
	}
}

func TestRunner_ExhaustedRangeWithEchoedWorkDoesNotSpin(t *testing.T) {
	host := newRecordingHost()
	r := newTestRunner(NewSimKernel("sim", 1, 0), host)
	host.echo = r
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()

	r.SetWork(testWork(t, "job1"))
	host.waitRequest(t)
	time.Sleep(200 * time.Millisecond)

	if got := host.requestCount(); got != 1 {
		t.Errorf("requests with unchanged work = %d, want 1", got)
	}
	if got := r.HashCount(); got != 64 {
		t.Errorf("hash count = %d, want 64", got)
	}
	if got := host.reconnectCalls(); len(got) != 0 {
		t.Errorf("reconnects = %v, want none", got)
	}
}

func TestRunner_StaleWorkRequestsReconnect(t *testing.T) {
	host := newRecordingHost()
	desc := types.DeviceDescriptor{Index: 3, Name: "GPU3", Platform: types.PlatformGPU, Enabled: true, Initialized: true}
	cfg := RunnerConfig{BatchSize: 16, NonceSpan: 64, MaxWorkAge: time.Minute}
	r := NewRunner(desc, NewSimKernel("sim", 1, 0), host, cfg, zap.NewNop())
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()

	header := make([]byte, util.HeaderSize)
	wp, err := types.NewWorkPackage("old", header, easyTarget(), false, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("NewWorkPackage: %v", err)
	}
	r.SetWork(wp)
	host.waitRequest(t)

	if got := host.reconnectCalls(); len(got) != 1 || got[0] != 3 {
		t.Errorf("reconnects = %v, want [3]", got)
	}
	if got := host.solutionCount(); got != 0 {
		t.Errorf("stale work produced %d solutions", got)
	}

	r.SetWork(wp)
	time.Sleep(50 * time.Millisecond)
	if got := host.reconnectCalls(); len(got) != 1 {
		t.Errorf("reconnects after resend = %v, want one call", got)
	}
}

func TestRunner_DirtyWorkIsPreparedAgain(t *testing.T) {
	host := newRecordingHost()
	k := &countingKernel{SimKernel: NewSimKernel("sim", 1, 0)}
	r := newTestRunner(k, host)
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()

	wp := testWork(t, "job1")
	r.SetWork(wp)
	host.waitRequest(t)

	r.SetWorkPackageDirty()
	r.SetWork(wp)
	host.waitRequest(t)

	if got := k.prepares.Load(); got != 2 {
		t.Errorf("prepares = %d, want 2", got)
	}
	if got := host.solutionCount(); got != 128 {
		t.Errorf("solutions = %d, want 128", got)
	}
}

func TestRunner_KillStops(t *testing.T) {
	r := newTestRunner(NewSimKernel("sim", 1, 0), newRecordingHost())
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	waitState(t, r, types.StatePaused)

	r.Kill()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker goroutine did not exit")
	}
	if !r.IsStopped() {
		t.Errorf("state = %s, want stopped", r.State())
	}

	r.Kill()
	if err := r.StartWorking(); err == nil {
		t.Error("expected error starting a killed worker")
	}
}

func TestRunner_InitFailureStops(t *testing.T) {
	k := &countingKernel{SimKernel: NewSimKernel("sim", 1, 0), initErr: errors.New("driver missing")}
	r := newTestRunner(k, newRecordingHost())
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker goroutine did not exit")
	}
	if !r.IsStopped() {
		t.Errorf("state = %s, want stopped", r.State())
	}
}

func TestRunner_PauseHoldsWork(t *testing.T) {
	host := newRecordingHost()
	r := newTestRunner(NewSimKernel("sim", 1, 0), host)
	r.Pause()
	if err := r.StartWorking(); err != nil {
		t.Fatalf("StartWorking: %v", err)
	}
	defer r.Kill()
	waitState(t, r, types.StatePaused)

	if err := r.StartWorking(); err == nil {
		t.Error("expected error on second StartWorking")
	}
	if got := host.solutionCount(); got != 0 {
		t.Errorf("paused worker produced %d solutions", got)
	}
}

func TestTargetMeets(t *testing.T) {
	targets := []*big.Int{
		easyTarget(),
		util.CompactToTarget(0x1d00ffff),
		util.CompactToTarget(0x207fffff),
		big.NewInt(1),
	}
	for i, tgt := range targets {
		bt := newTarget(tgt)
		for nonce := uint32(0); nonce < 256; nonce++ {
			h := util.DoubleSHA256(util.Uint32ToBytes(nonce))
			if got, want := bt.meets(h), util.HashMeetsTarget(h, tgt); got != want {
				t.Fatalf("target %d nonce %d: meets = %v, want %v", i, nonce, got, want)
			}
		}
	}
}

package testutil

import (
	"fmt"
	"sync"

	"github.com/djkazic/rigfarm/internal/types"
)

// FakeWorker is a scriptable worker. It runs no goroutine; tests drive its
// state and hash counter directly.
type FakeWorker struct {
	mu       sync.Mutex
	desc     types.DeviceDescriptor
	ordinal  int
	state    types.WorkerState
	work     *types.WorkPackage
	setCount int
	dirty    int
	started  bool
	killed   bool
	hashes   uint64
	temp     uint32
	fan      uint32

	// StartErr, when set, is returned by StartWorking.
	StartErr error
}

// NewFakeWorker creates an initializing fake for desc.
func NewFakeWorker(desc types.DeviceDescriptor) *FakeWorker {
	return &FakeWorker{desc: desc, state: types.StateInitializing}
}

func (w *FakeWorker) InitFromFarm(ordinal int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ordinal = ordinal
}

func (w *FakeWorker) StartWorking() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.StartErr != nil {
		return w.StartErr
	}
	w.started = true
	return nil
}

func (w *FakeWorker) SetWork(wp *types.WorkPackage) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.work = wp
	w.setCount++
	if w.state == types.StatePaused || w.state == types.StateInitializing {
		w.state = types.StateRunning
	}
}

func (w *FakeWorker) SetWorkPackageDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.dirty++
}

func (w *FakeWorker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != types.StateStopped {
		w.state = types.StatePaused
	}
}

func (w *FakeWorker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.killed = true
	w.state = types.StateStopped
}

func (w *FakeWorker) IsInitializing() bool { return w.State() == types.StateInitializing }
func (w *FakeWorker) IsStopped() bool      { return w.State() == types.StateStopped }

func (w *FakeWorker) State() types.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *FakeWorker) PlatformType() types.PlatformType { return w.desc.Platform }
func (w *FakeWorker) AbsoluteIndex() int               { return w.desc.Index }

func (w *FakeWorker) Ordinal() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ordinal
}

func (w *FakeWorker) Name() string {
	if w.desc.Name != "" {
		return w.desc.Name
	}
	return fmt.Sprintf("fake%d", w.desc.Index)
}

func (w *FakeWorker) HashCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.hashes
	w.hashes = 0
	return n
}

func (w *FakeWorker) Temperature() (temp, fan uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.temp, w.fan
}

// AddHashes adds n to the counter returned by the next HashCount.
func (w *FakeWorker) AddHashes(n uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hashes += n
}

// SetState forces the worker state.
func (w *FakeWorker) SetState(s types.WorkerState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// SetThermals sets the values returned by Temperature.
func (w *FakeWorker) SetThermals(temp, fan uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.temp, w.fan = temp, fan
}

// CurrentWork returns the last package handed to the worker.
func (w *FakeWorker) CurrentWork() *types.WorkPackage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.work
}

// SetWorkCalls returns how many times SetWork was called.
func (w *FakeWorker) SetWorkCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.setCount
}

// DirtyCalls returns how many times SetWorkPackageDirty was called.
func (w *FakeWorker) DirtyCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirty
}

// Started reports whether StartWorking succeeded.
func (w *FakeWorker) Started() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Killed reports whether Kill was called.
func (w *FakeWorker) Killed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.killed
}

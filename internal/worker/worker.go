// Package worker implements the per-device execution unit driven by the farm.
package worker

import (
	"context"
	"errors"

	"github.com/djkazic/rigfarm/internal/types"
)

var (
	// ErrUnsupportedDevice is returned for devices no kernel exists for.
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrNoBackend is returned when a device maps to a backend that was
	// never registered with the factory.
	ErrNoBackend = errors.New("no kernel backend registered")
)

// Host is the side of the farm a worker talks back to.
type Host interface {
	SubmitProof(sol *types.Solution)
	ReconnectToServer(deviceIndex int)
	RequestNewWork(wp *types.WorkPackage, w Worker)
}

// Worker is one compute device's execution unit.
type Worker interface {
	// InitFromFarm assigns the worker its position in the farm's collection.
	InitFromFarm(ordinal int)
	// StartWorking launches the worker goroutine. The worker initializes its
	// kernel and then waits for a work package.
	StartWorking() error
	SetWork(wp *types.WorkPackage)
	SetWorkPackageDirty()
	Pause()
	Kill()

	IsInitializing() bool
	IsStopped() bool
	State() types.WorkerState
	PlatformType() types.PlatformType
	AbsoluteIndex() int
	Ordinal() int
	Name() string

	// HashCount returns the hashes performed since the previous call.
	HashCount() uint64
	Temperature() (temp, fan uint32)
}

// Kernel is a device compute backend.
type Kernel interface {
	Name() string
	Init(ctx context.Context) error
	// Prepare derives per-package state. It is called whenever the worker
	// switches packages or the current package is marked dirty.
	Prepare(wp *types.WorkPackage) error
	// Search scans count nonces starting at start.
	Search(ctx context.Context, wp *types.WorkPackage, start, count uint32) (SearchResult, error)
	Close() error
}

// SearchResult is the outcome of one Search batch.
type SearchResult struct {
	Nonces []uint32
	Hashes uint64
}

// Thermal is implemented by kernels that can read device sensors.
type Thermal interface {
	Temperature() (temp, fan uint32)
}

package worker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// Backend names.
const (
	BackendCPU    = "cpu"
	BackendCUDA   = "cuda"
	BackendOpenCL = "opencl"
)

// BackendFunc builds a kernel for one device.
type BackendFunc func(desc types.DeviceDescriptor) (Kernel, error)

// variant resolves the kernel backend for a device of one platform class.
type variant func(desc types.DeviceDescriptor) (string, error)

// variants is the closed set of worker variants, keyed by platform tag.
var variants = map[types.PlatformType]variant{
	types.PlatformCPU: func(types.DeviceDescriptor) (string, error) {
		return BackendCPU, nil
	},
	types.PlatformGPU: acceleratorBackend,
}

// acceleratorBackend picks the vendor kernel for an accelerator.
func acceleratorBackend(desc types.DeviceDescriptor) (string, error) {
	switch desc.Vendor {
	case types.VendorNVIDIA:
		return BackendCUDA, nil
	case types.VendorGeneric, types.VendorIntel:
		return BackendOpenCL, nil
	default:
		return "", fmt.Errorf("%w: no kernel for %s device %d %q",
			ErrUnsupportedDevice, desc.Vendor, desc.Index, desc.Name)
	}
}

// BackendFor returns the backend name a device resolves to.
func BackendFor(desc types.DeviceDescriptor) (string, error) {
	v, ok := variants[desc.Platform]
	if !ok {
		return "", fmt.Errorf("%w: platform %s", ErrUnsupportedDevice, desc.Platform)
	}
	return v(desc)
}

// FactoryConfig configures the worker factory.
type FactoryConfig struct {
	Runner RunnerConfig

	// CPUThreads is the lane count of the CPU kernel; 0 uses every core.
	CPUThreads int

	// SimulateAccelerators registers software kernels for the accelerator
	// backends.
	SimulateAccelerators bool
	SimLanes             int
	SimWarmup            time.Duration
}

// Factory creates workers from device descriptors.
type Factory struct {
	cfg    FactoryConfig
	logger *zap.Logger

	mu       sync.RWMutex
	backends map[string]BackendFunc
}

// NewFactory creates a factory with the CPU backend registered, plus the
// simulated accelerator backends when configured.
func NewFactory(cfg FactoryConfig, logger *zap.Logger) *Factory {
	f := &Factory{
		cfg:      cfg,
		logger:   logger,
		backends: make(map[string]BackendFunc),
	}

	f.RegisterBackend(BackendCPU, func(types.DeviceDescriptor) (Kernel, error) {
		return NewCPUKernel(cfg.CPUThreads), nil
	})

	if cfg.SimulateAccelerators {
		for _, name := range []string{BackendCUDA, BackendOpenCL} {
			f.RegisterBackend(name, func(types.DeviceDescriptor) (Kernel, error) {
				return NewSimKernel(name+"-sim", cfg.SimLanes, cfg.SimWarmup), nil
			})
		}
	}

	return f
}

// RegisterBackend installs or replaces a kernel backend.
func (f *Factory) RegisterBackend(name string, fn BackendFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backends[name] = fn
}

// Backends lists the registered backend names.
func (f *Factory) Backends() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.backends))
	for name := range f.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a worker for desc. Devices without a kernel fail with an
// error wrapping ErrUnsupportedDevice or ErrNoBackend.
func (f *Factory) Create(desc types.DeviceDescriptor, host Host) (Worker, error) {
	name, err := BackendFor(desc)
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	fn, ok := f.backends[name]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s for device %d", ErrNoBackend, name, desc.Index)
	}

	kernel, err := fn(desc)
	if err != nil {
		return nil, fmt.Errorf("create %s kernel for device %d: %w", name, desc.Index, err)
	}

	return NewRunner(desc, kernel, host, f.cfg.Runner, f.logger.Named(name)), nil
}

package types

import "fmt"

// PlatformType is the capability class of a compute device.
type PlatformType uint8

const (
	PlatformCPU PlatformType = iota
	PlatformGPU
)

func (p PlatformType) String() string {
	switch p {
	case PlatformCPU:
		return "cpu"
	case PlatformGPU:
		return "gpu"
	default:
		return fmt.Sprintf("platform(%d)", uint8(p))
	}
}

// ParsePlatformType parses the names produced by PlatformType.String.
func ParsePlatformType(s string) (PlatformType, error) {
	switch s {
	case "cpu", "CPU":
		return PlatformCPU, nil
	case "gpu", "GPU":
		return PlatformGPU, nil
	}
	return 0, fmt.Errorf("unknown platform %q", s)
}

// Vendor identifies the accelerator family, used to select a kernel backend.
type Vendor uint8

const (
	VendorGeneric Vendor = iota
	VendorNVIDIA
	VendorAMD
	VendorIntel
)

func (v Vendor) String() string {
	switch v {
	case VendorGeneric:
		return "generic"
	case VendorNVIDIA:
		return "nvidia"
	case VendorAMD:
		return "amd"
	case VendorIntel:
		return "intel"
	default:
		return fmt.Sprintf("vendor(%d)", uint8(v))
	}
}

// ParseVendor parses the names produced by Vendor.String. The empty string
// is the generic vendor.
func ParseVendor(s string) (Vendor, error) {
	switch s {
	case "", "generic", "opencl":
		return VendorGeneric, nil
	case "nvidia", "cuda":
		return VendorNVIDIA, nil
	case "amd":
		return VendorAMD, nil
	case "intel":
		return VendorIntel, nil
	}
	return 0, fmt.Errorf("unknown vendor %q", s)
}

// WorkerState is the lifecycle state a worker reports.
type WorkerState uint32

const (
	StateInitializing WorkerState = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

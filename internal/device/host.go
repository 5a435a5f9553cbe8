package device

import (
	"context"
	"strings"

	"github.com/djkazic/rigfarm/internal/types"

	"github.com/shirou/gopsutil/v3/cpu"
)

// HostCPU enumerates the host processor as a single CPU-class device.
type HostCPU struct {
	Enabled bool

	info func(ctx context.Context) ([]cpu.InfoStat, error)
}

// NewHostCPU creates a host CPU enumerator.
func NewHostCPU(enabled bool) *HostCPU {
	return &HostCPU{Enabled: enabled, info: cpu.InfoWithContext}
}

func (h *HostCPU) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	name := "CPU"
	if stats, err := h.info(ctx); err == nil && len(stats) > 0 {
		if model := strings.TrimSpace(stats[0].ModelName); model != "" {
			name = model
		}
	}

	return []types.DeviceDescriptor{{
		Name:        name,
		Platform:    types.PlatformCPU,
		Enabled:     h.Enabled,
		Initialized: true,
	}}, nil
}

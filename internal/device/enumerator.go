// Package device provides the device enumeration the farm consumes.
package device

import (
	"context"
	"fmt"

	"github.com/djkazic/rigfarm/internal/types"
)

// Enumerator lists compute devices in a stable order.
type Enumerator interface {
	Devices(ctx context.Context) ([]types.DeviceDescriptor, error)
}

// Static enumerates a fixed device list.
type Static []types.DeviceDescriptor

func (s Static) Devices(context.Context) ([]types.DeviceDescriptor, error) {
	out := make([]types.DeviceDescriptor, len(s))
	copy(out, s)
	return out, nil
}

// Merge concatenates enumerators and renumbers the result so indices are
// unique and follow list order.
type Merge []Enumerator

func (m Merge) Devices(ctx context.Context) ([]types.DeviceDescriptor, error) {
	var out []types.DeviceDescriptor
	for i, e := range m {
		devs, err := e.Devices(ctx)
		if err != nil {
			return nil, fmt.Errorf("enumerator %d: %w", i, err)
		}
		out = append(out, devs...)
	}
	for i := range out {
		out[i].Index = i
	}
	return out, nil
}

// Enabled filters devs down to the enabled ones, preserving order.
func Enabled(devs []types.DeviceDescriptor) []types.DeviceDescriptor {
	out := make([]types.DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

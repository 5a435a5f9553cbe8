package device

import (
	"context"
	"errors"
	"testing"

	"github.com/djkazic/rigfarm/internal/types"

	"github.com/shirou/gopsutil/v3/cpu"
)

type failingEnumerator struct{}

func (failingEnumerator) Devices(context.Context) ([]types.DeviceDescriptor, error) {
	return nil, errors.New("driver not loaded")
}

func TestMerge_Renumbers(t *testing.T) {
	gpus := Static{
		{Index: 5, Name: "GPU0", Platform: types.PlatformGPU, Vendor: types.VendorNVIDIA, Enabled: true, Initialized: true},
		{Index: 6, Name: "GPU1", Platform: types.PlatformGPU, Vendor: types.VendorAMD, Enabled: false, Initialized: true},
	}
	host := &HostCPU{Enabled: true, info: func(context.Context) ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{ModelName: "  Test CPU 9000 "}}, nil
	}}

	devs, err := Merge{gpus, host}.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("got %d devices, want 3", len(devs))
	}
	for i, d := range devs {
		if d.Index != i {
			t.Errorf("device %d has index %d", i, d.Index)
		}
	}
	if devs[2].Name != "Test CPU 9000" || !devs[2].IsCPU() {
		t.Errorf("host device = %+v", devs[2])
	}
	if gpus[0].Index != 5 {
		t.Error("Merge mutated the static descriptors")
	}

	enabled := Enabled(devs)
	if len(enabled) != 2 || enabled[0].Name != "GPU0" || enabled[1].Platform != types.PlatformCPU {
		t.Errorf("enabled = %+v", enabled)
	}
}

func TestMerge_PropagatesError(t *testing.T) {
	_, err := Merge{Static{}, failingEnumerator{}}.Devices(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestHostCPU_FallbackName(t *testing.T) {
	host := &HostCPU{Enabled: true, info: func(context.Context) ([]cpu.InfoStat, error) {
		return nil, errors.New("no cpuinfo")
	}}
	devs, err := host.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devs) != 1 || devs[0].Name != "CPU" || !devs[0].Initialized {
		t.Errorf("devices = %+v", devs)
	}
}

package testutil

import (
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/pkg/util"
)

// SampleHeader returns a deterministic header whose bytes depend on seed.
func SampleHeader(seed byte) []byte {
	h := make([]byte, util.HeaderSize)
	copy(h[0:4], util.Uint32ToBytes(536870912))
	for i := 4; i < 68; i++ {
		h[i] = seed ^ byte(i)
	}
	copy(h[68:72], util.Uint32ToBytes(1700000000))
	copy(h[72:76], util.Uint32ToBytes(0x1d00ffff))
	return h
}

// SampleWorkPackage builds a package with an easy target.
func SampleWorkPackage(jobID string, seed byte) *types.WorkPackage {
	wp, err := types.NewWorkPackage(jobID, SampleHeader(seed), EasyTarget(), false, time.Unix(1700000000, 0))
	if err != nil {
		panic(fmt.Sprintf("sample work package: %v", err))
	}
	return wp
}

// SampleSolution returns a solution for nonce found by device.
func SampleSolution(wp *types.WorkPackage, nonce uint32, device int) *types.Solution {
	return types.NewSolution(wp, nonce, device, time.Unix(1700000001, 0))
}

// SampleDevices returns count descriptors. The first is a CPU when withCPU
// is set, the rest are NVIDIA accelerators.
func SampleDevices(count int, withCPU bool) []types.DeviceDescriptor {
	devs := make([]types.DeviceDescriptor, count)
	for i := range devs {
		devs[i] = types.DeviceDescriptor{
			Index:    i,
			Name:     fmt.Sprintf("gpu%d", i),
			Platform: types.PlatformGPU,
			Vendor:   types.VendorNVIDIA,
			Enabled:  true,
		}
		if i == 0 && withCPU {
			devs[i].Name = "cpu0"
			devs[i].Platform = types.PlatformCPU
			devs[i].Vendor = types.VendorGeneric
		}
	}
	return devs
}

// EasyTarget returns a very easy target for testing (any hash will pass).
func EasyTarget() *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
}

// ImpossibleTarget returns the smallest positive target; no hash meets it
// in practice.
func ImpossibleTarget() *big.Int {
	return big.NewInt(1)
}

package worker

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/djkazic/rigfarm/internal/types"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
)

// sensorRefresh bounds how often host sensors are read.
const sensorRefresh = 5 * time.Second

// CPUKernel is the software double-SHA256 kernel for CPU-class devices.
type CPUKernel struct {
	threads int

	mu  sync.RWMutex
	tgt target

	sensorMu   sync.Mutex
	sensorRead time.Time
	temp       uint32
	readTemps  func() ([]host.TemperatureStat, error)
}

// NewCPUKernel creates a CPU kernel. A threads value <= 0 uses every
// logical core.
func NewCPUKernel(threads int) *CPUKernel {
	return &CPUKernel{
		threads:   threads,
		readTemps: host.SensorsTemperatures,
	}
}

func (k *CPUKernel) Name() string { return "cpu" }

func (k *CPUKernel) Init(ctx context.Context) error {
	if k.threads > 0 {
		return nil
	}
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	k.threads = n
	return nil
}

// Threads returns the number of search lanes.
func (k *CPUKernel) Threads() int { return k.threads }

func (k *CPUKernel) Prepare(wp *types.WorkPackage) error {
	if wp.Target == nil || wp.Target.Sign() <= 0 {
		return fmt.Errorf("job %s: invalid target", wp.JobID)
	}
	k.mu.Lock()
	k.tgt = newTarget(wp.Target)
	k.mu.Unlock()
	return nil
}

func (k *CPUKernel) Search(ctx context.Context, wp *types.WorkPackage, start, count uint32) (SearchResult, error) {
	k.mu.RLock()
	tgt := k.tgt
	k.mu.RUnlock()
	return parallelScan(ctx, wp, &tgt, start, count, k.threads)
}

func (k *CPUKernel) Close() error { return nil }

// Temperature reports the hottest CPU package sensor. CPUs expose no fan
// reading, so fan is always zero.
func (k *CPUKernel) Temperature() (temp, fan uint32) {
	k.sensorMu.Lock()
	defer k.sensorMu.Unlock()

	if time.Since(k.sensorRead) < sensorRefresh {
		return k.temp, 0
	}
	k.sensorRead = time.Now()

	stats, err := k.readTemps()
	if err != nil && len(stats) == 0 {
		return k.temp, 0
	}

	var hottest float64
	for _, s := range stats {
		key := strings.ToLower(s.SensorKey)
		if !strings.Contains(key, "core") && !strings.Contains(key, "k10temp") &&
			!strings.Contains(key, "package") && !strings.Contains(key, "cpu") {
			continue
		}
		if s.Temperature > hottest {
			hottest = s.Temperature
		}
	}
	k.temp = uint32(hottest + 0.5)
	return k.temp, 0
}

package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
)

// SimKernel emulates an accelerator in software. It stands in for vendor
// kernels on hosts without the device runtime and is used by tests.
type SimKernel struct {
	name   string
	lanes  int
	warmup time.Duration

	mu  sync.RWMutex
	tgt target
}

// NewSimKernel creates an emulated accelerator with the given lane count
// and simulated driver warmup.
func NewSimKernel(name string, lanes int, warmup time.Duration) *SimKernel {
	if lanes <= 0 {
		lanes = 1
	}
	return &SimKernel{name: name, lanes: lanes, warmup: warmup}
}

func (k *SimKernel) Name() string { return k.name }

func (k *SimKernel) Init(ctx context.Context) error {
	if k.warmup <= 0 {
		return nil
	}
	t := time.NewTimer(k.warmup)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s warmup: %w", k.name, ctx.Err())
	case <-t.C:
		return nil
	}
}

func (k *SimKernel) Prepare(wp *types.WorkPackage) error {
	k.mu.Lock()
	k.tgt = newTarget(wp.Target)
	k.mu.Unlock()
	return nil
}

func (k *SimKernel) Search(ctx context.Context, wp *types.WorkPackage, start, count uint32) (SearchResult, error) {
	k.mu.RLock()
	tgt := k.tgt
	k.mu.RUnlock()
	return parallelScan(ctx, wp, &tgt, start, count, k.lanes)
}

func (k *SimKernel) Close() error { return nil }

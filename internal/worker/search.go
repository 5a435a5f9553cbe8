package worker

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/pkg/util"

	"golang.org/x/sync/errgroup"
)

// ctxCheckInterval is how many nonces a lane scans between context checks.
const ctxCheckInterval = 4096

// target is a package target laid out big-endian for byte-wise comparison.
type target [32]byte

func newTarget(t *big.Int) target {
	var out target
	if t == nil || t.Sign() <= 0 {
		return out
	}
	if t.BitLen() > 256 {
		for i := range out {
			out[i] = 0xff
		}
		return out
	}
	t.FillBytes(out[:])
	return out
}

// meets compares a little-endian hash against the big-endian target.
func (t *target) meets(hash [32]byte) bool {
	for i := 0; i < 32; i++ {
		h := hash[31-i]
		if h != t[i] {
			return h < t[i]
		}
	}
	return true
}

// scan hashes count nonces from start on a single goroutine.
func scan(ctx context.Context, wp *types.WorkPackage, tgt *target, start, count uint32) (SearchResult, error) {
	var res SearchResult
	header := wp.HeaderWithNonce(start)

	for i := uint32(0); i < count; i++ {
		if i%ctxCheckInterval == 0 && ctx.Err() != nil {
			return res, ctx.Err()
		}
		nonce := start + i
		util.PutNonce(header, nonce)
		res.Hashes++
		if tgt.meets(util.DoubleSHA256(header)) {
			res.Nonces = append(res.Nonces, nonce)
		}
	}
	return res, nil
}

// parallelScan splits a batch across lanes goroutines.
func parallelScan(ctx context.Context, wp *types.WorkPackage, tgt *target, start, count uint32, lanes int) (SearchResult, error) {
	if lanes <= 1 || count < uint32(lanes) {
		return scan(ctx, wp, tgt, start, count)
	}

	var (
		mu  sync.Mutex
		out SearchResult
	)
	g, gctx := errgroup.WithContext(ctx)
	per := count / uint32(lanes)

	for lane := 0; lane < lanes; lane++ {
		laneStart := start + uint32(lane)*per
		laneCount := per
		if lane == lanes-1 {
			laneCount = count - uint32(lane)*per
		}
		g.Go(func() error {
			res, err := scan(gctx, wp, tgt, laneStart, laneCount)
			mu.Lock()
			out.Hashes += res.Hashes
			out.Nonces = append(out.Nonces, res.Nonces...)
			mu.Unlock()
			return err
		})
	}

	err := g.Wait()
	sort.Slice(out.Nonces, func(i, j int) bool { return out.Nonces[i] < out.Nonces[j] })
	return out, err
}

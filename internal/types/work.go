package types

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/rigfarm/pkg/util"
)

// WorkPackage is one immutable unit of work handed to every worker. It is
// replaced wholesale on update and never mutated after construction.
type WorkPackage struct {
	JobID      string
	Header     []byte // HeaderSize bytes, nonce field ignored
	Target     *big.Int
	Clean      bool
	ReceivedAt time.Time

	headerHash [32]byte
}

// NewWorkPackage validates and builds a work package. The header is copied.
func NewWorkPackage(jobID string, header []byte, target *big.Int, clean bool, receivedAt time.Time) (*WorkPackage, error) {
	if jobID == "" {
		return nil, fmt.Errorf("empty job id")
	}
	if len(header) != util.HeaderSize {
		return nil, fmt.Errorf("header length %d, want %d", len(header), util.HeaderSize)
	}
	if target == nil || target.Sign() <= 0 {
		return nil, fmt.Errorf("target must be positive")
	}

	h := make([]byte, util.HeaderSize)
	copy(h, header)
	util.PutNonce(h, 0)

	return &WorkPackage{
		JobID:      jobID,
		Header:     h,
		Target:     new(big.Int).Set(target),
		Clean:      clean,
		ReceivedAt: receivedAt,
		headerHash: util.DoubleSHA256(h),
	}, nil
}

// IsSame reports whether other describes the same unit of work. It is an
// identity check used to skip redundant resets, not a deep comparison of
// every field.
func (w *WorkPackage) IsSame(other *WorkPackage) bool {
	if w == nil || other == nil {
		return false
	}
	if w == other {
		return true
	}
	return w.JobID == other.JobID &&
		w.headerHash == other.headerHash &&
		bytes.Equal(w.Header, other.Header)
}

// IsStale reports whether the package is older than maxAge at now.
// A zero maxAge disables staleness.
func (w *WorkPackage) IsStale(maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || w.ReceivedAt.IsZero() {
		return false
	}
	return now.Sub(w.ReceivedAt) > maxAge
}

// HeaderWithNonce returns a fresh header buffer with nonce filled in.
func (w *WorkPackage) HeaderWithNonce(nonce uint32) []byte {
	h := make([]byte, len(w.Header))
	copy(h, w.Header)
	util.PutNonce(h, nonce)
	return h
}

// DiffOneTarget is the target of difficulty 1.
var DiffOneTarget = util.CompactToTarget(0x1d00ffff)

// Difficulty returns the package's difficulty relative to maxTarget, or to
// DiffOneTarget when maxTarget is nil.
func (w *WorkPackage) Difficulty(maxTarget *big.Int) float64 {
	if maxTarget == nil {
		maxTarget = DiffOneTarget
	}
	return util.TargetToDifficulty(w.Target, maxTarget)
}

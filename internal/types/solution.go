package types

import (
	"time"

	"github.com/djkazic/rigfarm/pkg/util"
)

// Solution is a nonce found by a worker that meets its package's target.
type Solution struct {
	Work        *WorkPackage
	Nonce       uint32
	Hash        [32]byte
	DeviceIndex int
	FoundAt     time.Time
}

// NewSolution hashes the package header with nonce and builds a solution.
func NewSolution(wp *WorkPackage, nonce uint32, deviceIndex int, foundAt time.Time) *Solution {
	return &Solution{
		Work:        wp,
		Nonce:       nonce,
		Hash:        util.DoubleSHA256(wp.HeaderWithNonce(nonce)),
		DeviceIndex: deviceIndex,
		FoundAt:     foundAt,
	}
}

// HashHex returns the solution hash in display order.
func (s *Solution) HashHex() string {
	return util.HashToHex(s.Hash)
}

// JobID returns the job id of the package the solution was found on.
func (s *Solution) JobID() string {
	if s.Work == nil {
		return ""
	}
	return s.Work.JobID
}

// Header returns the full solved header.
func (s *Solution) Header() []byte {
	if s.Work == nil {
		return nil
	}
	return s.Work.HeaderWithNonce(s.Nonce)
}

// Valid re-checks the solution against its package target.
func (s *Solution) Valid() bool {
	if s.Work == nil {
		return false
	}
	return util.HashMeetsTarget(util.DoubleSHA256(s.Header()), s.Work.Target)
}

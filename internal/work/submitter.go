package work

import (
	"context"
	"errors"
	"fmt"

	"github.com/djkazic/rigfarm/internal/farm"
	"github.com/djkazic/rigfarm/internal/rpc"
	"github.com/djkazic/rigfarm/internal/types"

	"go.uber.org/zap"
)

// Ledger records the authority's verdicts. *farm.Farm implements it.
type Ledger interface {
	AddAcceptedSolution(deviceIndex int)
	AddRejectedSolution(deviceIndex int)
}

// Submitter delivers solutions to the authority and reports the verdict to
// the ledger. Its Submit method is a farm.SubmitFunc.
type Submitter struct {
	rpc    rpc.Authority
	ledger Ledger
	logger *zap.Logger
}

// NewSubmitter creates a submitter.
func NewSubmitter(authority rpc.Authority, ledger Ledger, logger *zap.Logger) *Submitter {
	return &Submitter{rpc: authority, ledger: ledger, logger: logger}
}

var _ farm.SubmitFunc = (*Submitter)(nil).Submit

// Submit sends sol to the authority. A refusal is counted as a rejection
// and returned as *farm.SolutionRejectedError; transport failures are not
// counted either way.
func (s *Submitter) Submit(ctx context.Context, sol *types.Solution) error {
	if !sol.Valid() {
		return fmt.Errorf("solution nonce %d for job %s does not meet its target", sol.Nonce, sol.JobID())
	}

	err := s.rpc.SubmitSolution(ctx, rpc.NewSolutionSubmission(sol))
	var rejected *rpc.RejectedError
	switch {
	case err == nil:
		s.ledger.AddAcceptedSolution(sol.DeviceIndex)
		s.logger.Debug("solution accepted",
			zap.Int("device", sol.DeviceIndex),
			zap.String("hash", sol.HashHex()))
		return nil
	case errors.As(err, &rejected):
		s.ledger.AddRejectedSolution(sol.DeviceIndex)
		return &farm.SolutionRejectedError{Reason: rejected.Reason}
	default:
		return fmt.Errorf("submit solution %s: %w", sol.HashHex(), err)
	}
}

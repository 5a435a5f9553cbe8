package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
)

// WorkTemplate is the result of the getwork call.
type WorkTemplate struct {
	JobID  string `json:"job_id"`
	Header string `json:"header"` // hex, 80 bytes
	Target string `json:"target"` // hex, big-endian
	Clean  bool   `json:"clean"`
}

// WorkPackage converts the template into a package received at now.
func (w *WorkTemplate) WorkPackage(now time.Time) (*types.WorkPackage, error) {
	header, err := hex.DecodeString(w.Header)
	if err != nil {
		return nil, fmt.Errorf("decode header of job %s: %w", w.JobID, err)
	}
	target, ok := new(big.Int).SetString(w.Target, 16)
	if !ok {
		return nil, fmt.Errorf("invalid target %q for job %s", w.Target, w.JobID)
	}
	return types.NewWorkPackage(w.JobID, header, target, w.Clean, now)
}

// SolutionSubmission is the parameter of the submitsolution call.
type SolutionSubmission struct {
	JobID  string `json:"job_id"`
	Nonce  uint32 `json:"nonce"`
	Hash   string `json:"hash"`
	Header string `json:"header"`
	Device int    `json:"device"`
}

// NewSolutionSubmission builds the wire form of sol.
func NewSolutionSubmission(sol *types.Solution) SolutionSubmission {
	return SolutionSubmission{
		JobID:  sol.JobID(),
		Nonce:  sol.Nonce,
		Hash:   sol.HashHex(),
		Header: hex.EncodeToString(sol.Header()),
		Device: sol.DeviceIndex,
	}
}

// SubmitResult is the authority's verdict on a submission.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// RPCRequest represents a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// RPCResponse represents a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError represents a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

package rpc

import (
	"context"
	"sync"
)

// MockRPC implements Authority for testing.
type MockRPC struct {
	mu sync.Mutex

	Work        *WorkTemplate
	Submissions []SolutionSubmission
	GetWorkCall int

	// RejectReason, when set, refuses every submission with it.
	RejectReason string

	// Error overrides
	GetWorkErr        error
	SubmitSolutionErr error
}

// NewMockRPC creates a new mock authority with sensible defaults.
func NewMockRPC() *MockRPC {
	return &MockRPC{
		Work: &WorkTemplate{
			JobID:  "job-1",
			Header: "00000020" + "11111111111111111111111111111111111111111111111111111111111111112222222222222222222222222222222222222222222222222222222222222222" + "00f15365" + "ffff001d" + "00000000",
			Target: "00000000ffff0000000000000000000000000000000000000000000000000000",
			Clean:  true,
		},
	}
}

func (m *MockRPC) GetWork(_ context.Context) (*WorkTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetWorkCall++
	if m.GetWorkErr != nil {
		return nil, m.GetWorkErr
	}
	if m.Work == nil {
		return nil, ErrNoWork
	}
	tmpl := *m.Work
	return &tmpl, nil
}

func (m *MockRPC) SubmitSolution(_ context.Context, sub SolutionSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitSolutionErr != nil {
		return m.SubmitSolutionErr
	}
	m.Submissions = append(m.Submissions, sub)
	if m.RejectReason != "" {
		return &RejectedError{Reason: m.RejectReason}
	}
	return nil
}

// SetWork replaces the template returned by GetWork.
func (m *MockRPC) SetWork(w *WorkTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Work = w
}

// Calls returns how many times GetWork was called.
func (m *MockRPC) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.GetWorkCall
}

// Submitted returns a copy of the recorded submissions.
func (m *MockRPC) Submitted() []SolutionSubmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SolutionSubmission, len(m.Submissions))
	copy(out, m.Submissions)
	return out
}

// Package journal persists the outcome of every solution submission.
package journal

import (
	"fmt"
	"time"

	"github.com/djkazic/rigfarm/internal/types"
)

// Outcome is the result of one submission.
type Outcome uint8

const (
	OutcomeAccepted Outcome = iota + 1
	OutcomeRejected
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Record is one journaled submission.
type Record struct {
	ID         uint64   `cbor:"1,keyasint"`
	Device     int      `cbor:"2,keyasint"`
	JobID      string   `cbor:"3,keyasint"`
	Nonce      uint32   `cbor:"4,keyasint"`
	Hash       [32]byte `cbor:"5,keyasint"`
	Header     []byte   `cbor:"6,keyasint"`
	Outcome    Outcome  `cbor:"7,keyasint"`
	Error      string   `cbor:"8,keyasint,omitempty"`
	Timestamp  int64    `cbor:"9,keyasint"`  // unix milliseconds
	DurationMS int64    `cbor:"10,keyasint"` // time spent in the callback
}

// NewRecord builds a record for a finished submission.
func NewRecord(id uint64, sol *types.Solution, outcome Outcome, err error, at time.Time, took time.Duration) *Record {
	rec := &Record{
		ID:         id,
		Device:     sol.DeviceIndex,
		JobID:      sol.JobID(),
		Nonce:      sol.Nonce,
		Hash:       sol.Hash,
		Header:     sol.Header(),
		Outcome:    outcome,
		Timestamp:  at.UnixMilli(),
		DurationMS: took.Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Time returns the record timestamp.
func (r *Record) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// Journal stores submission records.
type Journal interface {
	Record(rec *Record) error
	// Recent returns up to n records, newest first.
	Recent(n int) ([]*Record, error)
	Count() (int, error)
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Record(*Record) error          { return nil }
func (Nop) Recent(int) ([]*Record, error) { return nil, nil }
func (Nop) Count() (int, error)           { return 0, nil }
func (Nop) Close() error                  { return nil }

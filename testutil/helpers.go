package testutil

import (
	"encoding/hex"
	"testing"

	"github.com/djkazic/rigfarm/pkg/util"
)

// DecodeHeader decodes a hex block header as carried on the wire and
// returns the nonce it holds. It fails the test unless the header is
// exactly util.HeaderSize bytes.
func DecodeHeader(t testing.TB, s string) ([]byte, uint32) {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("header %q is not hex: %v", s, err)
	}
	if len(b) != util.HeaderSize {
		t.Fatalf("header is %d bytes, want %d", len(b), util.HeaderSize)
	}
	return b, util.Nonce(b)
}

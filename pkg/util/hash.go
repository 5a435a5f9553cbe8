package util

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math/big"
)

const (
	// HeaderSize is the size of a serialized block header work template.
	HeaderSize = 80

	// NonceOffset is where the 32-bit little-endian nonce lives in a header.
	NonceOffset = 76
)

// DoubleSHA256 computes SHA256(SHA256(data)).
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// ReverseBytes returns a reversed copy of b.
func ReverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// HashToHex returns the display-order (reversed) hex string of a hash.
func HashToHex(hash [32]byte) string {
	return hex.EncodeToString(ReverseBytes(hash[:]))
}

// PutNonce writes nonce into a header buffer in place.
// The buffer must be at least HeaderSize bytes.
func PutNonce(header []byte, nonce uint32) {
	binary.LittleEndian.PutUint32(header[NonceOffset:NonceOffset+4], nonce)
}

// Nonce reads the nonce from a header buffer.
func Nonce(header []byte) uint32 {
	return binary.LittleEndian.Uint32(header[NonceOffset : NonceOffset+4])
}

// CompactToTarget expands a compact (nBits) difficulty into a target.
func CompactToTarget(compact uint32) *big.Int {
	exponent := compact >> 24
	mantissa := compact & 0x007fffff

	target := new(big.Int).SetUint64(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, uint(8*(3-exponent)))
	} else {
		target.Lsh(target, uint(8*(exponent-3)))
	}

	if compact&0x00800000 != 0 {
		target.Neg(target)
	}
	return target
}

// TargetToCompact is the inverse of CompactToTarget for non-negative targets.
func TargetToCompact(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}

	b := target.Bytes()
	size := uint32(len(b))

	var mantissa uint32
	if size <= 3 {
		mantissa = uint32(target.Uint64()) << (8 * (3 - size))
	} else {
		mantissa = uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}

	// Keep the sign bit clear.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		size++
	}

	return size<<24 | mantissa&0x007fffff
}

// HashMeetsTarget reports whether hash, read as a little-endian 256-bit
// integer, is at or below target.
func HashMeetsTarget(hash [32]byte, target *big.Int) bool {
	if target == nil || target.Sign() <= 0 {
		return false
	}
	n := new(big.Int).SetBytes(ReverseBytes(hash[:]))
	return n.Cmp(target) <= 0
}

// TargetToDifficulty returns maxTarget / target.
func TargetToDifficulty(target, maxTarget *big.Int) float64 {
	if target == nil || target.Sign() == 0 {
		return 0
	}
	q := new(big.Float).Quo(new(big.Float).SetInt(maxTarget), new(big.Float).SetInt(target))
	f, _ := q.Float64()
	return f
}

// Uint32ToBytes converts v to 4 little-endian bytes.
func Uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

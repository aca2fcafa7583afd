package protocol

import "math/big"

// Canonical serialization helpers shared by everything that feeds the state
// hash chain. Amounts are non-negative, so big.Int values encode as a
// 2-byte big-endian length followed by magnitude bytes.

func AppendBig(buf []byte, v *big.Int) []byte {
	if v == nil || v.Sign() == 0 {
		return append(buf, 0, 0)
	}
	b := v.Bytes()
	buf = append(buf, byte(len(b)>>8), byte(len(b)))
	return append(buf, b...)
}

func AppendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

package aesrw

import (
	"crypto/aes"
	"encoding/binary"
	"math/bits"
)

const BlockSize = aes.BlockSize

// CTR is a 128-bit counter stored little-endian: byte 0 is the least significant.
type CTR [BlockSize]byte

// Increment adds one in place, wrapping at 2^128.
func (c *CTR) Increment() {
	for i := 0; i < BlockSize; i++ {
		c[i]++
		if c[i] != 0 {
			return
		}
	}
}

// Add returns c + n modulo 2^128.
func (c CTR) Add(n uint64) CTR {
	lo := binary.LittleEndian.Uint64(c[:8])
	hi := binary.LittleEndian.Uint64(c[8:])

	lo, carry := bits.Add64(lo, n, 0)
	hi, _ = bits.Add64(hi, 0, carry)

	res := CTR{}
	binary.LittleEndian.PutUint64(res[:8], lo)
	binary.LittleEndian.PutUint64(res[8:], hi)
	return res
}

// Reset returns the counter for block index n of a stream that started at iv.
func Reset(iv CTR, n uint64) CTR {
	return iv.Add(n)
}

func (c CTR) IV() []byte {
	return c[:]
}

func CTRFromBytes(b []byte) (CTR, error) {
	res := CTR{}
	if len(b) != BlockSize {
		return res, ErrIVSize
	}
	copy(res[:], b)
	return res, nil
}

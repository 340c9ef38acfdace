// Package base85 implements the URL-hash-safe base-85 text encoding used by
// save-state links.
//
// Bytes are taken in big-endian 4-byte groups, each written as 5 symbols,
// most significant first. A trailing group of n bytes (1..3) is written as
// n+1 symbols, so the decoder recovers the exact byte length. There is no
// "z" shorthand and no framing; callers add their own prefixes.
package base85

import (
	"fmt"
	"math"
	"strings"
)

// Alphabet orders the 85 symbols by digit value.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789.-:+=^!/*?&<>()[]{}@%$#"

var decodeMap [256]int8

func init() {
	for i := range decodeMap {
		decodeMap[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		decodeMap[Alphabet[i]] = int8(i)
	}
}

// CorruptInputError reports the offset of the first bad symbol or group.
type CorruptInputError int64

func (e CorruptInputError) Error() string {
	return fmt.Sprintf("base85: illegal data at input byte %d", int64(e))
}

// EncodedLen returns the length of the encoding of n bytes.
func EncodedLen(n int) int {
	full, rest := n/4, n%4
	if rest == 0 {
		return full * 5
	}
	return full*5 + rest + 1
}

// Encode returns the encoding of src.
func Encode(src []byte) string {
	var sb strings.Builder
	sb.Grow(EncodedLen(len(src)))

	var digits [5]byte
	for len(src) > 0 {
		var group [4]byte
		n := copy(group[:], src)
		src = src[n:]

		v := uint32(group[0])<<24 | uint32(group[1])<<16 | uint32(group[2])<<8 | uint32(group[3])
		for i := 4; i >= 0; i-- {
			digits[i] = Alphabet[v%85]
			v /= 85
		}
		if n == 4 {
			sb.Write(digits[:])
		} else {
			sb.Write(digits[:n+1])
		}
	}
	return sb.String()
}

// Decode returns the bytes encoded by s. The result length is exact.
func Decode(s string) ([]byte, error) {
	if len(s)%5 == 1 {
		return nil, CorruptInputError(len(s) - 1)
	}
	out := make([]byte, 0, len(s)/5*4+4)
	for off := 0; off < len(s); off += 5 {
		end := off + 5
		if end > len(s) {
			end = len(s)
		}
		chunk := s[off:end]

		var v uint64
		for i := 0; i < 5; i++ {
			d := byte(84) // pad partial groups with the highest digit
			if i < len(chunk) {
				c := decodeMap[chunk[i]]
				if c < 0 {
					return nil, CorruptInputError(off + i)
				}
				d = byte(c)
			}
			v = v*85 + uint64(d)
		}
		if v > math.MaxUint32 {
			return nil, CorruptInputError(off)
		}
		group := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
		if len(chunk) == 5 {
			out = append(out, group[:]...)
		} else {
			out = append(out, group[:len(chunk)-1]...)
		}
	}
	return out, nil
}

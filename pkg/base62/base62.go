// Package base62 encodes and decodes unsigned integers using the 62-character
// alphabet [0-9A-Za-z]. It is the wire format for short codes: no characters
// that need escaping in a URL path, and denser than hex or base32.
package base62

import (
	"errors"
	"math"
)

// Character order matters only for readability when debugging raw codes.
const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const base = 62

// maxEncodedLen bounds a fixed-size encode buffer: 62^11 already exceeds the
// full uint64 range, so 11 base62 digits is always enough.
const maxEncodedLen = 11

var (
	ErrInvalidCharacter = errors.New("base62: invalid character")
	ErrOverflow         = errors.New("base62: decoded value exceeds uint64 range")
)

// charValue maps a byte to its alphabet position, or -1 if it isn't part of
// the alphabet. An array indexed by byte value avoids a map lookup on every
// decoded character.
var charValue [256]int8

func init() {
	for i := range charValue {
		charValue[i] = -1
	}
	for i := 0; i < len(alphabet); i++ {
		charValue[alphabet[i]] = int8(i)
	}
}

// Encode converts num to its base62 representation, filling a fixed-size
// buffer from the end so no separate reverse pass is needed.
func Encode(num uint64) string {
	if num == 0 {
		return "0"
	}

	var buf [maxEncodedLen]byte
	i := len(buf)
	for num > 0 {
		i--
		buf[i] = alphabet[num%base]
		num /= base
	}
	return string(buf[i:])
}

// EncodePadded encodes num and left-pads with '0' to width characters. Used
// by the minter so early, small IDs don't produce suspiciously short codes
// while the ID space is still sparse.
func EncodePadded(num uint64, width int) string {
	return Pad(Encode(num), width)
}

// Pad left-pads an already-encoded string with '0' to targetLen. A no-op if
// encoded is already at least that long.
func Pad(encoded string, targetLen int) string {
	if len(encoded) >= targetLen {
		return encoded
	}
	buf := make([]byte, targetLen)
	padLen := targetLen - len(encoded)
	for i := 0; i < padLen; i++ {
		buf[i] = '0'
	}
	copy(buf[padLen:], encoded)
	return string(buf)
}

// Decode parses a base62 string back into a uint64 using Horner's method:
// each character folds into the running total as result*base+digit, left to
// right, rather than computing a per-position power of 62. The shortener
// handler uses this to recover the underlying integer id from a code the
// minter just issued, so the row's primary key always traces back to the
// same allocated range.
func Decode(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}

	var result uint64
	for i := 0; i < len(s); i++ {
		v := charValue[s[i]]
		if v < 0 {
			return 0, ErrInvalidCharacter
		}
		if result > (math.MaxUint64-uint64(v))/base {
			return 0, ErrOverflow
		}
		result = result*base + uint64(v)
	}
	return result, nil
}

// IsValid reports whether s contains only base62 alphabet characters.
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if charValue[s[i]] < 0 {
			return false
		}
	}
	return true
}

// Length returns the number of base62 digits needed to represent num.
func Length(num uint64) int {
	if num == 0 {
		return 1
	}
	n := 0
	for num > 0 {
		n++
		num /= base
	}
	return n
}

// MaxValue returns the largest value representable in a base62 string of the
// given length: 62^length - 1.
func MaxValue(length int) uint64 {
	if length <= 0 {
		return 0
	}
	return pow62(uint64(length)) - 1
}

func pow62(n uint64) uint64 {
	result := uint64(1)
	b := uint64(base)
	for n > 0 {
		if n&1 == 1 {
			result *= b
		}
		b *= b
		n >>= 1
	}
	return result
}

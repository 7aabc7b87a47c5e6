// Package bits holds the small bit-twiddling helpers used to decode the CLA
// byte and the dynamic status words (counters, byte counts) of a response.
//
// Bits are numbered the way ISO/IEC 7816-4 tables number them: 1 is the least
// significant bit and 8 the most significant one.
package bits

// Bit returns a byte with only the n-th bit set (1 to 8).
// Out of range positions yield 0.
func Bit(n uint) byte {
	if n < 1 || n > 8 {
		return 0
	}
	return 1 << (n - 1)
}

// IsSet reports whether the n-th bit of b is set.
func IsSet(b byte, n uint) bool {
	return b&Bit(n) != 0
}

// GetRange extracts the value held by bits high..low (inclusive).
// Example: GetRange(0b00001100, 4, 3) returns 3 (0b11).
func GetRange(b byte, high, low uint) byte {
	if high < low || high > 8 || low < 1 {
		return 0
	}

	width := high - low + 1
	mask := byte((1 << width) - 1)

	return (b >> (low - 1)) & mask
}

// Set returns b with the n-th bit set.
func Set(b byte, n uint) byte {
	return b | Bit(n)
}

// HighNibble returns bits 8-5 of b.
func HighNibble(b byte) byte {
	return GetRange(b, 8, 5)
}

// LowNibble returns bits 4-1 of b. Status words such as '63CX' carry a
// retry counter there.
func LowNibble(b byte) byte {
	return GetRange(b, 4, 1)
}

package tlv

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hex constructs a byte slice from a series of hex strings.
// Spaces and colons are ignored so fixtures can be written as "00 A4 04 00"
// or copied from tool output ("5f:c1:05"). It panics on invalid input and is
// meant for fixtures and constants.
func Hex(parts ...string) []byte {
	data, err := ParseHex(parts...)
	if err != nil {
		panic(err.Error())
	}
	return data
}

// ParseHex is the error returning form of Hex, used for user input.
func ParseHex(parts ...string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(parts, ""))

	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid input '%s': %w", clean, err)
	}
	return data, nil
}

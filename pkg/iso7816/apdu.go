package iso7816

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// APDU ENCODING (ISO/IEC 7816-3, 12.1):
//
//   C-APDU : CLA INS P1 P2 [Lc Data] [Le]
//   R-APDU : [Data] SW1 SW2
//
// Only short length fields are produced: Lc is one byte (1..255) and Le is
// one byte where 00 stands for 256. Larger data fields are split by command
// chaining and larger responses are drained with GET RESPONSE, both handled
// by Client.Transfer. Extended length is never emitted.

const (
	// MaxShortLc is the largest data field of a single short C-APDU.
	MaxShortLc = 255

	// MaxShortLe is the largest Ne of a short C-APDU, encoded as Le = 00.
	MaxShortLe = 256

	// MaxResponseFrame is the largest R-APDU accepted from a single transmit:
	// 256 data bytes, SW1-SW2 and the reader slack kept by PC/SC drivers.
	MaxResponseFrame = 261

	headerSize = 4
)

// ErrExtendedLength is returned when a command needs extended length fields.
var ErrExtendedLength = errors.New("iso7816: extended length not supported")

// CommandAPDU is a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // expected response length, 0 for none

	// Sensitive marks commands whose data field carries secret material
	// (PIN, PUK, key bytes). Their encoded form is wiped once transmitted
	// and never written to logs.
	Sensitive bool
}

// NewCommandAPDU builds a command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// Size returns the encoded length of the command.
func (c *CommandAPDU) Size() int {
	n := headerSize
	if len(c.Data) > 0 {
		n += 1 + len(c.Data)
	}
	if c.Ne > 0 {
		n++
	}
	return n
}

// Bytes encodes the command in short form.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	if len(c.Data) > MaxShortLc || c.Ne > MaxShortLe || c.Ne < 0 {
		return nil, fmt.Errorf("%w: Nc %d, Ne %d", ErrExtendedLength, len(c.Data), c.Ne)
	}

	cla, err := c.Class.Encode()
	if err != nil {
		return nil, err
	}

	b := cryptobyte.NewFixedBuilder(make([]byte, 0, c.Size()))
	b.AddUint8(cla)
	b.AddUint8(byte(c.Instruction.Raw))
	b.AddUint8(c.P1)
	b.AddUint8(c.P2)
	if len(c.Data) > 0 {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(c.Data)
		})
	}
	if c.Ne > 0 {
		// 256 wraps to 00.
		b.AddUint8(byte(c.Ne))
	}
	return b.Bytes()
}

// WithData returns a copy of the command with its data field replaced.
func (c *CommandAPDU) WithData(data []byte) *CommandAPDU {
	clone := *c
	clone.Data = data
	return &clone
}

// String describes the command header. The data field is never included.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("%s | P1 %02X P2 %02X | Nc %d | Ne %d",
		c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU is the reply of the card.
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU splits raw into data and status word. raw must hold at
// least SW1-SW2. Data aliases raw.
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	n := len(raw) - 2
	if n < 0 {
		return nil, fmt.Errorf("response too short: %d bytes", len(raw))
	}
	return &ResponseAPDU{
		Data:   raw[:n],
		Status: NewStatusWord(raw[n], raw[n+1]),
	}, nil
}

func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("%d data bytes | %s", len(r.Data), r.Status.Verbose())
}

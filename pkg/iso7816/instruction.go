package iso7816

import (
	"fmt"

	"github.com/gregLibert/piv-card/pkg/bits"
)

// INSTRUCTION BYTE (ISO/IEC 7816-4, 5.4.2):
// An odd INS in the interindustry class means the data field is BER-TLV
// encoded (GET DATA 'CA' versus 'CB'). INS values '6X' and '9X' are invalid:
// a T=0 reader would take them for procedure bytes.
//
// Only the interindustry instructions used by a PIV session are named here.
// Vendor instructions are plain InsCode values owned by their command set.

// InsCode is the raw instruction byte.
type InsCode byte

const (
	INS_VERIFY                       InsCode = 0x20
	INS_CHANGE_REFERENCE_DATA        InsCode = 0x24
	INS_RESET_RETRY_COUNTER          InsCode = 0x2C
	INS_GENERATE_ASYMMETRIC_KEY_PAIR InsCode = 0x47
	INS_GENERAL_AUTHENTICATE_BER     InsCode = 0x87
	INS_SELECT                       InsCode = 0xA4
	INS_GET_RESPONSE                 InsCode = 0xC0
	INS_GET_DATA_BER                 InsCode = 0xCB
	INS_PUT_DATA_BER                 InsCode = 0xDB
)

var insNames = map[InsCode]string{
	INS_VERIFY:                       "VERIFY",
	INS_CHANGE_REFERENCE_DATA:        "CHANGE REFERENCE DATA",
	INS_RESET_RETRY_COUNTER:          "RESET RETRY COUNTER",
	INS_GENERATE_ASYMMETRIC_KEY_PAIR: "GENERATE ASYMMETRIC KEY PAIR",
	INS_GENERAL_AUTHENTICATE_BER:     "GENERAL AUTHENTICATE",
	INS_SELECT:                       "SELECT",
	INS_GET_RESPONSE:                 "GET RESPONSE",
	INS_GET_DATA_BER:                 "GET DATA",
	INS_PUT_DATA_BER:                 "PUT DATA",
}

// String returns the command name, or "INS XX" for unnamed codes.
func (i InsCode) String() string {
	if name, ok := insNames[i]; ok {
		return name
	}
	return fmt.Sprintf("INS %02X", byte(i))
}

// Instruction is a validated instruction byte.
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates ins.
func NewInstruction(ins InsCode) (Instruction, error) {
	switch bits.HighNibble(byte(ins)) {
	case 0x6, 0x9:
		return Instruction{}, fmt.Errorf("invalid INS %02X: 6X and 9X are procedure bytes", byte(ins))
	}
	return Instruction{Raw: ins, IsBERTLV: bits.IsSet(byte(ins), 1)}, nil
}

// Verbose returns a one line description of the instruction.
func (i Instruction) Verbose() string {
	if i.IsBERTLV {
		return fmt.Sprintf("%s (%02X, BER-TLV data)", i.Raw, byte(i.Raw))
	}
	return fmt.Sprintf("%s (%02X)", i.Raw, byte(i.Raw))
}

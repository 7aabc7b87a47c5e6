package iso7816

import (
	"fmt"

	"github.com/gregLibert/piv-card/pkg/bits"
)

// STATUS WORDS (ISO/IEC 7816-4, 5.6):
// Most status words are fixed values. Two families carry a number in SW2:
//
//   61XX : processing completed, XX more bytes to fetch with GET RESPONSE.
//   63CX : verification failed, X tries left.

// StatusWord is the SW1-SW2 trailer of a response.
type StatusWord uint16

const (
	SW_NO_ERROR                    StatusWord = 0x9000
	SW_WARN_NV_CHANGED_NO_INFO     StatusWord = 0x6300
	SW_ERR_MEMORY_FAILURE          StatusWord = 0x6581
	SW_ERR_WRONG_LENGTH            StatusWord = 0x6700
	SW_ERR_LAST_COMMAND_EXPECTED   StatusWord = 0x6883
	SW_ERR_CHAINING_NOT_SUPP       StatusWord = 0x6884
	SW_ERR_SECURITY_STATUS_NOT_SAT StatusWord = 0x6982
	SW_ERR_AUTH_METHOD_BLOCKED     StatusWord = 0x6983
	SW_ERR_COND_OF_USE_NOT_SAT     StatusWord = 0x6985
	SW_ERR_INCORRECT_PARAMS_DATA   StatusWord = 0x6A80
	SW_ERR_FUNC_NOT_SUPPORTED      StatusWord = 0x6A81
	SW_ERR_FILE_NOT_FOUND          StatusWord = 0x6A82
	SW_ERR_NOT_ENOUGH_MEMORY       StatusWord = 0x6A84
	SW_ERR_INCORRECT_PARAMS_P1P2   StatusWord = 0x6A86
	SW_ERR_REF_DATA_NOT_FOUND      StatusWord = 0x6A88
	SW_ERR_WRONG_P1P2              StatusWord = 0x6B00
	SW_ERR_INS_INVALID             StatusWord = 0x6D00
	SW_ERR_CLA_NOT_SUPPORTED       StatusWord = 0x6E00
	SW_ERR_UNKNOWN                 StatusWord = 0x6F00
)

var statusDescriptions = map[StatusWord]string{
	SW_NO_ERROR:                    "Success",
	SW_WARN_NV_CHANGED_NO_INFO:     "Verification failed",
	SW_ERR_MEMORY_FAILURE:          "Memory failure",
	SW_ERR_WRONG_LENGTH:            "Wrong length",
	SW_ERR_LAST_COMMAND_EXPECTED:   "Last command of the chain expected",
	SW_ERR_CHAINING_NOT_SUPP:       "Command chaining not supported",
	SW_ERR_SECURITY_STATUS_NOT_SAT: "Security status not satisfied",
	SW_ERR_AUTH_METHOD_BLOCKED:     "Authentication method blocked",
	SW_ERR_COND_OF_USE_NOT_SAT:     "Conditions of use not satisfied",
	SW_ERR_INCORRECT_PARAMS_DATA:   "Incorrect parameters in the data field",
	SW_ERR_FUNC_NOT_SUPPORTED:      "Function not supported",
	SW_ERR_FILE_NOT_FOUND:          "File or application not found",
	SW_ERR_NOT_ENOUGH_MEMORY:       "Not enough memory space",
	SW_ERR_INCORRECT_PARAMS_P1P2:   "Incorrect parameters P1-P2",
	SW_ERR_REF_DATA_NOT_FOUND:      "Referenced data not found",
	SW_ERR_WRONG_P1P2:              "Wrong parameters P1-P2",
	SW_ERR_INS_INVALID:             "Instruction not supported",
	SW_ERR_CLA_NOT_SUPPORTED:       "Class not supported",
	SW_ERR_UNKNOWN:                 "No precise diagnosis",
}

// NewStatusWord assembles SW1 and SW2.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

func (sw StatusWord) SW1() byte { return byte(sw >> 8) }
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports 9000 and 61XX.
func (sw StatusWord) IsSuccess() bool {
	return sw == SW_NO_ERROR || sw.SW1() == 0x61
}

// IsCounter reports a 63CX verification counter.
func (sw StatusWord) IsCounter() bool {
	return sw.SW1() == 0x63 && bits.HighNibble(sw.SW2()) == 0xC
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}

// Verbose returns the status word followed by its meaning.
func (sw StatusWord) Verbose() string {
	switch {
	case sw.SW1() == 0x61:
		return fmt.Sprintf("[%s] %d more bytes available", sw, sw.SW2())
	case sw.IsCounter():
		return fmt.Sprintf("[%s] Verification failed, %d tries left", sw, bits.LowNibble(sw.SW2()))
	}

	if desc, ok := statusDescriptions[sw]; ok {
		return fmt.Sprintf("[%s] %s", sw, desc)
	}

	switch sw.SW1() {
	case 0x62, 0x63:
		return fmt.Sprintf("[%s] Warning", sw)
	case 0x64, 0x65, 0x66:
		return fmt.Sprintf("[%s] Execution error", sw)
	case 0x67, 0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F:
		return fmt.Sprintf("[%s] Checking error", sw)
	default:
		return fmt.Sprintf("[%s] Unknown status", sw)
	}
}

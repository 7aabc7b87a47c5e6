package piv

import (
	"fmt"

	"github.com/gregLibert/piv-card/pkg/bits"
	"github.com/gregLibert/piv-card/pkg/iso7816"
)

// STATUS MAPPING:
// PIV commands only give meaning to a handful of status words:
//
//   9000 : Success.
//   61XX : More data available (XX bytes). Only seen by the chaining engine.
//   63CX : Verification failed, X tries left.
//   6983 : Authentication method blocked (no tries left).
//   6982 : Security status not satisfied (PIN or management key missing).
//   6A82 : File not found. YubiKeys answer this for absent objects.
//   6A88 : Referenced data not found.
//
// Every other status is a generic failure of the command.

// OutcomeKind is the semantic class of a status word.
type OutcomeKind int

const (
	OutcomeGeneric OutcomeKind = iota
	OutcomeSuccess
	OutcomeMoreData
	OutcomeVerifyFailed
	OutcomeAuthBlocked
	OutcomeSecurityNotSatisfied
	OutcomeNotFound
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeMoreData:
		return "MoreData"
	case OutcomeVerifyFailed:
		return "VerifyFailed"
	case OutcomeAuthBlocked:
		return "AuthBlocked"
	case OutcomeSecurityNotSatisfied:
		return "SecurityNotSatisfied"
	case OutcomeNotFound:
		return "NotFound"
	default:
		return "Generic"
	}
}

// Outcome is a classified status word. Count carries the byte count of
// OutcomeMoreData and the tries left of OutcomeVerifyFailed.
type Outcome struct {
	Kind  OutcomeKind
	Count int
}

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeMoreData, OutcomeVerifyFailed:
		return fmt.Sprintf("%s(%d)", o.Kind, o.Count)
	default:
		return o.Kind.String()
	}
}

// Classify maps a status word onto its Outcome.
func Classify(sw iso7816.StatusWord) Outcome {
	switch {
	case sw == iso7816.SW_NO_ERROR:
		return Outcome{Kind: OutcomeSuccess}
	case sw.SW1() == 0x61:
		return Outcome{Kind: OutcomeMoreData, Count: int(sw.SW2())}
	case sw.IsCounter():
		return Outcome{Kind: OutcomeVerifyFailed, Count: int(bits.LowNibble(sw.SW2()))}
	case sw == iso7816.SW_ERR_AUTH_METHOD_BLOCKED:
		return Outcome{Kind: OutcomeAuthBlocked}
	case sw == iso7816.SW_ERR_SECURITY_STATUS_NOT_SAT:
		return Outcome{Kind: OutcomeSecurityNotSatisfied}
	case sw == iso7816.SW_ERR_FILE_NOT_FOUND, sw == iso7816.SW_ERR_REF_DATA_NOT_FOUND:
		return Outcome{Kind: OutcomeNotFound}
	default:
		return Outcome{Kind: OutcomeGeneric}
	}
}

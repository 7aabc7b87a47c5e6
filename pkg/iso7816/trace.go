package iso7816

import (
	"fmt"
	"strings"
)

// TRACE:
// One logical command may take several physical exchanges: a data field
// above MaxShortLc is chained over several C-APDUs and a long response is
// drained by GET RESPONSE. A Trace keeps every exchange in order, so that
// the outcome of the whole operation is the status of its last element.

// Transaction is one C-APDU and the R-APDU it produced.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess reports whether the response exists and is 9000 or 61XX.
func (t *Transaction) IsSuccess() bool {
	return t.Response != nil && t.Response.Status.IsSuccess()
}

// Trace is the ordered list of exchanges of a session.
type Trace []Transaction

// Last returns the most recent exchange, or nil for an empty trace.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess reports the outcome of the last exchange.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	return last != nil && last.IsSuccess()
}

// Describe lists the exchanges, one command and one response line each.
// Data fields are summarized by length only.
func (t Trace) Describe() string {
	var sb strings.Builder
	for i, tx := range t {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "#%d >>> %s", i+1, tx.Command)
		if tx.Response != nil {
			fmt.Fprintf(&sb, "\n#%d <<< %s", i+1, tx.Response)
		}
	}
	return sb.String()
}

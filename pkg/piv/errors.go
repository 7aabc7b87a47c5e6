package piv

import (
	"errors"
	"fmt"

	"github.com/gregLibert/piv-card/pkg/iso7816"
	"github.com/gregLibert/piv-card/pkg/tlv"
)

// Errors returned by the piv package. Lower layer causes stay reachable
// through errors.Is, so a chained response that overflows its ceiling matches
// both ErrSize and iso7816.ErrResponseTooLarge.
var (
	// ErrTransport is returned when the card cannot be reached.
	ErrTransport = errors.New("piv: transport error")
	// ErrSize is returned when an input or output violates a fixed bound.
	ErrSize = errors.New("piv: size error")
	// ErrParse is returned for malformed card responses.
	ErrParse = errors.New("piv: parse error")
	// ErrUnsupported is returned for algorithms or slots the card command set does not define.
	ErrUnsupported = errors.New("piv: unsupported")
	// ErrAuthentication is returned when the security status of the card is not satisfied.
	ErrAuthentication = errors.New("piv: security status not satisfied")
	// ErrWrongPIN is matched by every *WrongPINError.
	ErrWrongPIN = errors.New("piv: wrong pin")
	// ErrPINLocked is returned when no tries remain for the reference.
	ErrPINLocked = errors.New("piv: pin locked")
	// ErrNotFound is returned when the requested object is absent.
	ErrNotFound = errors.New("piv: not found")
	// ErrGeneric is matched by every *StatusError.
	ErrGeneric = errors.New("piv: command failed")
	// ErrTransactionClosed is returned when a Transaction is used outside Conn.Do.
	ErrTransactionClosed = errors.New("piv: transaction closed")
)

// WrongPINError reports a rejected PIN or PUK and the tries left.
type WrongPINError struct {
	Tries int
}

func (e *WrongPINError) Error() string {
	if e.Tries == 1 {
		return "piv: wrong pin, 1 try left"
	}
	return fmt.Sprintf("piv: wrong pin, %d tries left", e.Tries)
}

// Is makes errors.Is(err, ErrWrongPIN) hold.
func (e *WrongPINError) Is(target error) bool {
	return target == ErrWrongPIN
}

// StatusError reports a status word that has no specific meaning for the command.
type StatusError struct {
	Op     string
	Status iso7816.StatusWord
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("piv: %s failed: %s", e.Op, e.Status.Verbose())
}

// Is makes errors.Is(err, ErrGeneric) hold.
func (e *StatusError) Is(target error) bool {
	return target == ErrGeneric
}

func sizeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSize}, args...)...)
}

func parseErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrParse}, args...)...)
}

// classify attaches the PIV error class to an error raised by the lower layers.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSize), errors.Is(err, ErrParse), errors.Is(err, ErrUnsupported):
		return err
	case errors.Is(err, iso7816.ErrTransmit):
		return fmt.Errorf("%w: %w", ErrTransport, err)
	case errors.Is(err, iso7816.ErrFrameTooLarge),
		errors.Is(err, iso7816.ErrExtendedLength),
		errors.Is(err, iso7816.ErrResponseTooLarge),
		errors.Is(err, tlv.ErrShortBuffer),
		errors.Is(err, tlv.ErrTooLarge):
		return fmt.Errorf("%w: %w", ErrSize, err)
	default:
		// Malformed TLV, unexpected tags and truncated R-APDUs.
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
}

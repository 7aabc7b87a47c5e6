// Package pcsc opens card connections through the system PC/SC daemon.
package pcsc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ebfe/scard"
)

// ErrNoReader is returned when no connected reader matches the request.
var ErrNoReader = errors.New("pcsc: no matching reader")

// Reader is an open connection to the card inserted in a PC/SC reader.
type Reader struct {
	ctx  *scard.Context
	card *scard.Card
	name string
}

// ListReaders returns the names of the connected readers.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	defer func() { _ = ctx.Release() }()

	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Open connects to the card in the reader whose name contains name
// (case insensitive). An empty name prefers the first YubiKey, then the
// first reader.
func Open(name string) (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}

	reader, err := pick(readers, name)
	if err != nil {
		_ = ctx.Release()
		return nil, err
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	card, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		_ = ctx.Release()
		return nil, fmt.Errorf("pcsc: connect %q: %w", reader, err)
	}

	return &Reader{ctx: ctx, card: card, name: reader}, nil
}

// Card returns the connected card. It satisfies piv.Card.
func (r *Reader) Card() *scard.Card {
	return r.card
}

// Name returns the name of the reader.
func (r *Reader) Name() string {
	return r.name
}

// Close disconnects the card, leaving it as is, and releases the context.
func (r *Reader) Close() error {
	disconnectErr := r.card.Disconnect(scard.LeaveCard)
	releaseErr := r.ctx.Release()
	return errors.Join(disconnectErr, releaseErr)
}

func pick(readers []string, name string) (string, error) {
	if len(readers) == 0 {
		return "", ErrNoReader
	}

	want := strings.ToLower(name)
	if want == "" {
		want = "yubikey"
	}
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), want) {
			return r, nil
		}
	}

	if name == "" {
		return readers[0], nil
	}
	return "", fmt.Errorf("%w: %q among %s", ErrNoReader, name, strings.Join(readers, ", "))
}

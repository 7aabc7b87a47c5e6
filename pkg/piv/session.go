package piv

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/ebfe/scard"
	"github.com/pion/logging"

	"github.com/gregLibert/piv-card/pkg/iso7816"
)

// SESSIONS:
// Chaining and GET RESPONSE are stateful across consecutive frames, so no
// other application may interleave APDUs while a PIV operation runs. A Conn
// owns one card connection and grants access through Do only: the PC/SC
// transaction is held for the whole callback and released when it returns,
// fails or panics. Do calls on the same Conn are serialized.

// Card is the PC/SC connection used by a Conn. *scard.Card satisfies it.
type Card interface {
	Transmit(cmd []byte) ([]byte, error)
	BeginTransaction() error
	EndTransaction(disposition scard.Disposition) error
}

// Config configures a Conn.
type Config struct {
	// Protocol describes the card command set.
	// Defaults to YubiKeyProtocol() if nil.
	Protocol *Protocol

	// LoggerFactory creates the "piv" and "iso7816" loggers.
	// Defaults to the pion default factory if nil.
	LoggerFactory logging.LoggerFactory

	// Rand supplies the host challenge of management key authentication.
	// Defaults to crypto/rand.Reader if nil.
	Rand io.Reader
}

// Conn is a PIV connection to a single card.
type Conn struct {
	mu            sync.Mutex
	card          Card
	protocol      *Protocol
	rand          io.Reader
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

// NewConn wraps card.
func NewConn(card Card, config Config) *Conn {
	protocol := config.Protocol
	if protocol == nil {
		protocol = YubiKeyProtocol()
	}

	loggerFactory := config.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	random := config.Rand
	if random == nil {
		random = rand.Reader
	}

	return &Conn{
		card:          card,
		protocol:      protocol,
		rand:          random,
		loggerFactory: loggerFactory,
		log:           loggerFactory.NewLogger("piv"),
	}
}

// Do runs f inside an exclusive card transaction. The Transaction passed to
// f must not be retained: once Do returns, every call on it fails with
// ErrTransactionClosed.
//
// A failure to release the card is reported only when f itself succeeded.
func (c *Conn) Do(f func(tx *Transaction) error) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if beginErr := c.card.BeginTransaction(); beginErr != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrTransport, beginErr)
	}

	tx := &Transaction{
		client:   iso7816.NewClient(c.card, c.loggerFactory),
		protocol: c.protocol,
		rand:     c.rand,
		log:      c.log,
	}

	defer func() {
		tx.closed = true
		if endErr := c.card.EndTransaction(scard.LeaveCard); endErr != nil {
			c.log.Warnf("end transaction: %v", endErr)
			if err == nil {
				err = fmt.Errorf("%w: end transaction: %w", ErrTransport, endErr)
			}
		}
	}()

	return f(tx)
}

// Transaction is an open exclusive session with the card. All PIV commands
// are methods of Transaction.
type Transaction struct {
	client   *iso7816.Client
	protocol *Protocol
	rand     io.Reader
	log      logging.LeveledLogger
	closed   bool
}

// Trace returns the APDUs exchanged so far in this transaction.
func (tx *Transaction) Trace() iso7816.Trace {
	return tx.client.Trace
}

// command builds a C-APDU in the interindustry class of channel 0.
// Commands without data ask for a full short response (Le = 00).
func (tx *Transaction) command(ins iso7816.InsCode, p1, p2 byte, data []byte) (*iso7816.CommandAPDU, error) {
	cls, _ := iso7816.NewClass(0x00)

	instruction, err := iso7816.NewInstruction(ins)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	ne := 0
	if len(data) == 0 {
		ne = iso7816.MaxShortLe
	}
	return iso7816.NewCommandAPDU(cls, instruction, p1, p2, data, ne), nil
}

// transfer runs cmd through the chaining engine.
func (tx *Transaction) transfer(cmd *iso7816.CommandAPDU, maxOut int) (*iso7816.ResponseAPDU, error) {
	if tx.closed {
		return nil, ErrTransactionClosed
	}

	resp, err := tx.client.Transfer(cmd, maxOut)
	if err != nil {
		tx.log.Errorf("%s: %v", cmd.Instruction.Raw, err)
		return nil, classify(err)
	}
	return resp, nil
}

// fail builds the generic error of op and logs it.
func (tx *Transaction) fail(op string, sw iso7816.StatusWord) error {
	tx.log.Errorf("%s failed: %s", op, sw.Verbose())
	return &StatusError{Op: op, Status: sw}
}

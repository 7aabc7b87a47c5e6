package iso7816

import (
	"errors"
	"fmt"

	"github.com/pion/logging"
)

// CLIENT & PROTOCOL LOGIC:
// The Client acts as a driver over the physical connection. It offers two levels:
//
// 1. Exchange: one C-APDU out, one R-APDU back. The reply must fit in
//    MaxResponseFrame bytes.
//
// 2. Transfer: one logical command whose data field may exceed a single frame.
//
//    Outbound (command chaining, ISO 7816-4 5.1.1.1):
//    The data field is cut into MaxChunk byte fragments. Every fragment except
//    the last is sent with the chaining bit set in CLA (0x10 for channel 0).
//    A status that is neither 9000 nor 61XX ends the transfer immediately.
//
//    Inbound ("61 XX" Response Available):
//    While SW1 is 0x61, a GET RESPONSE is issued and its data appended.
//
//    Both phases accumulate response data against a caller supplied ceiling.
//    Exceeding it fails with ErrResponseTooLarge and no further frame is sent.
//
// Every exchange is appended to the client's Trace.

var (
	// ErrTransmit wraps failures reported by the Transmitter.
	ErrTransmit = errors.New("iso7816: transmit failed")

	// ErrFrameTooLarge is returned when a single reply exceeds MaxResponseFrame.
	ErrFrameTooLarge = errors.New("iso7816: response frame too large")

	// ErrResponseTooLarge is returned when the accumulated response of a
	// Transfer would exceed the output ceiling.
	ErrResponseTooLarge = errors.New("iso7816: response exceeds output ceiling")
)

// MaxChunk is the data carried by one fragment of a chained command.
const MaxChunk = MaxShortLc

// Transmitter abstracts the physical card connection.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Client manages the communication with the card.
type Client struct {
	Card Transmitter

	// Trace records every physical exchange performed by the client.
	// Data fields of sensitive commands are not recorded.
	Trace Trace

	log logging.LeveledLogger
}

// NewClient creates a new Client instance. A nil loggerFactory falls back to
// the pion default factory.
func NewClient(card Transmitter, loggerFactory logging.LoggerFactory) *Client {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Client{
		Card: card,
		log:  loggerFactory.NewLogger("iso7816"),
	}
}

// Exchange transmits a single command and parses the reply. The status word
// is not interpreted.
func (c *Client) Exchange(cmd *CommandAPDU) (*ResponseAPDU, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	recorded := cmd
	if cmd.Sensitive {
		defer clear(rawCmd)
		recorded = cmd.WithData(nil)
		c.log.Tracef(">>> %X [%d data bytes redacted]", rawCmd[:4], len(cmd.Data))
	} else {
		c.log.Tracef(">>> %X", rawCmd)
	}

	rawResp, err := c.Card.Transmit(rawCmd)
	if err != nil {
		c.log.Errorf("transmit %s: %v", cmd.Instruction.Raw, err)
		return nil, fmt.Errorf("%w: %w", ErrTransmit, err)
	}

	if len(rawResp) > MaxResponseFrame {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, len(rawResp), MaxResponseFrame)
	}

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	if cmd.Sensitive {
		c.log.Tracef("<<< [%d data bytes redacted] %04X", len(resp.Data), uint16(resp.Status))
	} else {
		c.log.Tracef("<<< %X", rawResp)
	}

	recordedResp := resp
	if cmd.Sensitive {
		recordedResp = &ResponseAPDU{Status: resp.Status}
	}
	c.Trace = append(c.Trace, Transaction{Command: recorded, Response: recordedResp})
	return resp, nil
}

// Transfer sends cmd, chaining its data field over as many frames as needed,
// then drains any pending response with GET RESPONSE. maxOut bounds the total
// response data. The GET RESPONSE frames inherit cmd.Sensitive.
//
// A failing status ends the transfer without error: the returned response
// carries that status and the data gathered before it.
func (c *Client) Transfer(cmd *CommandAPDU, maxOut int) (*ResponseAPDU, error) {
	var (
		out  []byte
		resp *ResponseAPDU
		err  error
	)

	remaining := cmd.Data
	for {
		frame := cmd.WithData(remaining)
		if len(remaining) > MaxChunk {
			frame.Data = remaining[:MaxChunk]
			frame.Class.IsChained = true
			frame.Ne = 0
		}
		remaining = remaining[len(frame.Data):]

		c.log.Tracef("sending %d bytes in this frame", len(frame.Data))

		resp, err = c.Exchange(frame)
		if err != nil {
			return nil, err
		}
		if !resp.Status.IsSuccess() {
			return &ResponseAPDU{Data: out, Status: resp.Status}, nil
		}
		if out, err = c.accumulate(out, resp.Data, maxOut); err != nil {
			return nil, err
		}
		if len(remaining) == 0 {
			break
		}
	}

	for resp.Status.SW1() == 0x61 {
		c.log.Tracef("card reports %d more bytes available", resp.Status.SW2())

		getResponse := NewGetResponseCommand(cmd.Class)
		getResponse.Sensitive = cmd.Sensitive

		resp, err = c.Exchange(getResponse)
		if err != nil {
			return nil, err
		}
		if !resp.Status.IsSuccess() {
			return &ResponseAPDU{Data: out, Status: resp.Status}, nil
		}
		if out, err = c.accumulate(out, resp.Data, maxOut); err != nil {
			return nil, err
		}
	}

	return &ResponseAPDU{Data: out, Status: resp.Status}, nil
}

func (c *Client) accumulate(out, data []byte, maxOut int) ([]byte, error) {
	if len(out)+len(data) > maxOut {
		c.log.Errorf("output buffer too small: wanted to write %d, max was %d", len(out)+len(data), maxOut)
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrResponseTooLarge, len(out)+len(data), maxOut)
	}
	return append(out, data...), nil
}

// NewGetResponseCommand builds the GET RESPONSE command used to drain "61 XX"
// replies. ISO 7816-4 requires it on the logical channel of the original
// command, never chained.
func NewGetResponseCommand(cla Class) *CommandAPDU {
	cla.IsChained = false
	ins, _ := NewInstruction(INS_GET_RESPONSE)
	return NewCommandAPDU(cla, ins, 0x00, 0x00, nil, MaxShortLe)
}

package tlv

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// LENGTH-PREFIXED NODES (PIV wire format):
//
// Every node is a single tag byte, a length field and the raw value:
//
//   [tag][len-form][value...]
//
// The length field size depends on the value length:
//   - 0..127     : 1 byte, literal length.            e.g. 53 05 ...
//   - 128..255   : 2 bytes, marker 0x81 + length.      e.g. 53 81 C8 ...
//   - 256..65535 : 3 bytes, marker 0x82 + 16-bit BE.   e.g. 53 82 01 2C ...
//
// This is the BER definite length form restricted to single byte tags and 16-bit
// lengths, which is all the PIV command set ever produces.

// MaxValueLength is the largest value a node can carry.
const MaxValueLength = 0xFFFF

const (
	lengthMarker1 = 0x81
	lengthMarker2 = 0x82
)

var (
	// ErrShortBuffer is returned when the input holds fewer bytes than the
	// header or the declared value length requires.
	ErrShortBuffer = errors.New("tlv: buffer too short")

	// ErrMalformed is returned for length fields that use an unsupported form.
	ErrMalformed = errors.New("tlv: malformed length field")

	// ErrUnexpectedTag is returned by ParseTag when the node carries another tag.
	ErrUnexpectedTag = errors.New("tlv: unexpected tag")

	// ErrTooLarge is returned when a value exceeds MaxValueLength.
	ErrTooLarge = errors.New("tlv: value too large")
)

// Node is one decoded tag/value pair. Value aliases the parsed buffer.
type Node struct {
	Tag   byte
	Value []byte
}

// Bytes encodes the node.
func (n Node) Bytes() ([]byte, error) {
	return Encode(n.Tag, n.Value)
}

// LengthSize returns the number of bytes used by the length field of a value
// of n bytes.
func LengthSize(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n <= 0xFF:
		return 2
	default:
		return 3
	}
}

// EncodedSize returns the total size of a node carrying n value bytes.
func EncodedSize(n int) int {
	return 1 + LengthSize(n) + n
}

// Encode writes a single node.
func Encode(tag byte, value []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(make([]byte, 0, EncodedSize(len(value))))
	AppendValue(b, tag, value)
	return b.Bytes()
}

// AppendValue writes a node holding value to b. Oversized values set the
// builder error, which surfaces from b.Bytes().
func AppendValue(b *cryptobyte.Builder, tag byte, value []byte) {
	AppendHeader(b, tag, len(value))
	b.AddBytes(value)
}

// AppendHeader writes the tag and length field of a node whose n value bytes
// the caller appends next.
func AppendHeader(b *cryptobyte.Builder, tag byte, n int) {
	if n > MaxValueLength {
		b.SetError(fmt.Errorf("%w: tag %02X holds %d bytes (max %d)", ErrTooLarge, tag, n, MaxValueLength))
		return
	}

	b.AddUint8(tag)
	switch LengthSize(n) {
	case 1:
		b.AddUint8(uint8(n))
	case 2:
		b.AddUint8(lengthMarker1)
		b.AddUint8(uint8(n))
	default:
		b.AddUint8(lengthMarker2)
		b.AddUint16(uint16(n))
	}
}

// Append writes a constructed node whose value is produced by f.
// The value is built first so the length form can be chosen from its size.
func Append(b *cryptobyte.Builder, tag byte, f cryptobyte.BuilderContinuation) {
	child := cryptobyte.NewBuilder(nil)
	f(child)

	value, err := child.Bytes()
	if err != nil {
		b.SetError(err)
		return
	}
	AppendValue(b, tag, value)
}

// Parse decodes the node at the start of data and returns it together with
// the unconsumed tail.
func Parse(data []byte) (Node, []byte, error) {
	s := cryptobyte.String(data)

	var tag, first uint8
	if !s.ReadUint8(&tag) || !s.ReadUint8(&first) {
		return Node{}, nil, fmt.Errorf("%w: header needs 2 bytes, have %d", ErrShortBuffer, len(data))
	}

	var length int
	switch {
	case first < 0x80:
		length = int(first)
	case first == lengthMarker1:
		var l uint8
		if !s.ReadUint8(&l) {
			return Node{}, nil, fmt.Errorf("%w: tag %02X truncated in length field", ErrShortBuffer, tag)
		}
		length = int(l)
	case first == lengthMarker2:
		var l uint16
		if !s.ReadUint16(&l) {
			return Node{}, nil, fmt.Errorf("%w: tag %02X truncated in length field", ErrShortBuffer, tag)
		}
		length = int(l)
	default:
		return Node{}, nil, fmt.Errorf("%w: tag %02X uses length byte %02X", ErrMalformed, tag, first)
	}

	var value []byte
	if !s.ReadBytes(&value, length) {
		return Node{}, nil, fmt.Errorf("%w: tag %02X declares %d bytes, %d available", ErrShortBuffer, tag, length, len(s))
	}

	return Node{Tag: tag, Value: value}, []byte(s), nil
}

// ParseTag is Parse followed by a tag check.
func ParseTag(data []byte, tag byte) ([]byte, []byte, error) {
	n, rest, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	if n.Tag != tag {
		return nil, nil, fmt.Errorf("%w: got %02X, want %02X", ErrUnexpectedTag, n.Tag, tag)
	}
	return n.Value, rest, nil
}

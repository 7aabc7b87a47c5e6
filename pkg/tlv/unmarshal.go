// Package tlv implements the tag-length-value encodings spoken by PIV cards.
//
// Two layers live here:
//   - codec.go: the strict length-prefixed node codec used to build command
//     payloads and to unwrap responses on the wire.
//   - unmarshal.go / describe.go: BER-TLV mapping of card data objects (Application
//     Property Template, certificate objects) into Go structures using struct tags.
package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
	"golang.org/x/crypto/cryptobyte"
)

// MAPPING:
// A struct field receives the BER-TLV object whose tag matches its tlv tag:
//   - []byte (or a named byte slice)  the raw value, re-encoded when constructed.
//   - struct or *struct               the children of a constructed object.
//   - slice of any of the above       one element per occurrence of the tag.
// A []bertlv.TLV field tagged tlv:",unknown" collects the objects no other
// field claimed. Unexported fields and fields without a tag are ignored.

// Unmarshal decodes BER-TLV data into the struct pointed to by target.
func Unmarshal(data []byte, target any) error {
	packets, err := decodeBER(data)
	if err != nil {
		return err
	}
	return unmarshalPackets(packets, target)
}

// UnmarshalTemplate is Unmarshal for data wrapped in a mandatory constructed
// template (e.g. '61' for the PIV Application Property Template). The fields
// of target are mapped from the children of that template.
func UnmarshalTemplate(data []byte, template string, target any) error {
	packets, err := decodeBER(data)
	if err != nil {
		return err
	}
	if len(packets) == 0 || !strings.EqualFold(packets[0].Tag, template) {
		return fmt.Errorf("%w: want template %s", ErrUnexpectedTag, strings.ToUpper(template))
	}
	return unmarshalPackets(packets[0].TLVs, target)
}

func decodeBER(data []byte) ([]bertlv.TLV, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if err := checkBER(data); err != nil {
		return nil, err
	}
	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: ber-tlv: %w", ErrMalformed, err)
	}
	return packets, nil
}

// checkBER walks data before bertlv decodes it. Length fields are limited to
// the forms of codec.go (at most 81 LL or 82 HH LL) and every value must fit
// in its parent, constructed objects included.
func checkBER(data []byte) error {
	s := cryptobyte.String(data)
	for !s.Empty() {
		var first byte
		s.ReadUint8(&first)

		if first&0x1F == 0x1F {
			for {
				var b byte
				if !s.ReadUint8(&b) {
					return fmt.Errorf("%w: truncated tag %02X", ErrMalformed, first)
				}
				if b&0x80 == 0 {
					break
				}
			}
		}

		var (
			marker byte
			n      int
			ok     bool
		)
		if !s.ReadUint8(&marker) {
			return fmt.Errorf("%w: missing length after tag %02X", ErrMalformed, first)
		}
		switch {
		case marker < 0x80:
			n, ok = int(marker), true
		case marker == lengthMarker1:
			var l uint8
			ok = s.ReadUint8(&l)
			n = int(l)
		case marker == lengthMarker2:
			var l uint16
			ok = s.ReadUint16(&l)
			n = int(l)
		default:
			return fmt.Errorf("%w: length marker %02X", ErrMalformed, marker)
		}
		if !ok {
			return fmt.Errorf("%w: truncated length after tag %02X", ErrMalformed, first)
		}

		var value []byte
		if !s.ReadBytes(&value, n) {
			return fmt.Errorf("%w: tag %02X declares %d bytes, %d left", ErrMalformed, first, n, len(s))
		}
		if first&0x20 != 0 {
			if err := checkBER(value); err != nil {
				return err
			}
		}
	}
	return nil
}

func unmarshalPackets(packets []bertlv.TLV, target any) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("tlv: unmarshal target must be a non-nil struct pointer, got %T", target)
	}
	return fillStruct(packets, v.Elem())
}

func fillStruct(packets []bertlv.TLV, v reflect.Value) error {
	var (
		fields  = make(map[string]reflect.Value)
		unknown reflect.Value
	)
	for _, f := range reflect.VisibleFields(v.Type()) {
		if !f.IsExported() || len(f.Index) > 1 {
			continue
		}
		tag, opt, _ := strings.Cut(f.Tag.Get("tlv"), ",")
		switch {
		case opt == "unknown" && f.Type == tlvSliceType:
			unknown = v.FieldByIndex(f.Index)
		case tag != "":
			fields[strings.ToUpper(tag)] = v.FieldByIndex(f.Index)
		}
	}

	var leftovers []bertlv.TLV
	for _, p := range packets {
		field, ok := fields[strings.ToUpper(p.Tag)]
		if !ok {
			leftovers = append(leftovers, p)
			continue
		}
		if err := setField(field, p); err != nil {
			return fmt.Errorf("tag %s: %w", p.Tag, err)
		}
	}

	if unknown.IsValid() && len(leftovers) > 0 {
		unknown.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

func setField(field reflect.Value, p bertlv.TLV) error {
	t := field.Type()
	switch {
	case isBytes(t):
		raw, err := rawValue(p)
		if err != nil {
			return err
		}
		field.SetBytes(raw)
		return nil

	case t.Kind() == reflect.Slice:
		elem := reflect.New(t.Elem()).Elem()
		if err := setField(elem, p); err != nil {
			return err
		}
		field.Set(reflect.Append(field, elem))
		return nil

	case t.Kind() == reflect.Struct:
		children, err := childrenOf(p)
		if err != nil {
			return err
		}
		return fillStruct(children, field)

	case t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct:
		children, err := childrenOf(p)
		if err != nil {
			return err
		}
		if field.IsNil() {
			field.Set(reflect.New(t.Elem()))
		}
		return fillStruct(children, field.Elem())
	}

	return fmt.Errorf("tlv: cannot decode into %s", t)
}

// rawValue returns the value bytes of p. bertlv keeps only the children of a
// constructed object, so those are encoded back.
func rawValue(p bertlv.TLV) ([]byte, error) {
	if len(p.TLVs) == 0 {
		return p.Value, nil
	}
	raw, err := bertlv.Encode(p.TLVs)
	if err != nil {
		return nil, fmt.Errorf("%w: ber-tlv: %w", ErrMalformed, err)
	}
	return raw, nil
}

func childrenOf(p bertlv.TLV) ([]bertlv.TLV, error) {
	if len(p.TLVs) > 0 {
		return p.TLVs, nil
	}
	return decodeBER(p.Value)
}

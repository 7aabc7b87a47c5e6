package tlv

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/moov-io/bertlv"
)

// REPORTS:
// Decoded card objects are dumped one field per line, driven by struct tags:
//   - tlv:"4F"    the BER-TLV tag shown next to the field name.
//   - fmt:"ascii" the bytes followed by their printable rendering.
//   - fmt:"int"   the bytes followed by their big-endian integer value.
// A byte slice type implementing fmt.Stringer is followed by its String().
// Nested templates are walked with a dotted prefix, repeated tags get an
// index, and unknown tags captured in a []bertlv.TLV field come last.
// Empty fields are skipped.

var (
	tlvSliceType  = reflect.TypeOf([]bertlv.TLV(nil))
	stringerIface = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

// WriteStructFields writes one line per populated field of s, a struct or a
// pointer to one. Lines are joined by newlines with no trailing newline, and
// the block is separated from earlier content of sb by a newline.
func WriteStructFields(sb *strings.Builder, prefix string, s any) {
	lines := structLines(prefix, reflect.ValueOf(s))
	if len(lines) == 0 {
		return
	}
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(strings.Join(lines, "\n"))
}

func structLines(prefix string, v reflect.Value) []string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var lines []string
	for _, f := range reflect.VisibleFields(v.Type()) {
		if !f.IsExported() || len(f.Index) > 1 {
			continue
		}
		field := v.FieldByIndex(f.Index)
		name := prefix + "." + f.Name

		switch {
		case f.Type == tlvSliceType:
			for _, t := range field.Interface().([]bertlv.TLV) {
				lines = append(lines, fmt.Sprintf("    - %s.Unknown Tag %s: %X", prefix, t.Tag, t.Value))
			}
		case isBytes(f.Type):
			if field.Len() > 0 {
				lines = append(lines, fieldLine(name, f.Tag, field))
			}
		case f.Type.Kind() == reflect.Slice && isBytes(f.Type.Elem()):
			for i := 0; i < field.Len(); i++ {
				if field.Index(i).Len() > 0 {
					lines = append(lines, fieldLine(fmt.Sprintf("%s[%d]", name, i), f.Tag, field.Index(i)))
				}
			}
		case f.Type.Kind() == reflect.Struct, f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct:
			lines = append(lines, structLines(name, field)...)
		}
	}
	return lines
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func fieldLine(name string, tag reflect.StructTag, v reflect.Value) string {
	if t := tag.Get("tlv"); t != "" && !strings.HasPrefix(t, ",") {
		name = fmt.Sprintf("%s (%s)", name, strings.Split(t, ",")[0])
	}
	return fmt.Sprintf("    - %s: %s", name, formatValue(v, tag.Get("fmt")))
}

func formatValue(v reflect.Value, format string) string {
	data := v.Bytes()

	if v.Type().Implements(stringerIface) {
		return fmt.Sprintf("%X (%s)", data, v.Interface().(fmt.Stringer))
	}

	switch format {
	case "ascii":
		return fmt.Sprintf("%X (%q)", data, MakeSafeASCII(data))
	case "int":
		var n uint64
		for _, b := range data {
			n = n<<8 | uint64(b)
		}
		return fmt.Sprintf("%X (Dec: %d)", data, n)
	default:
		return fmt.Sprintf("%X", data)
	}
}

// MakeSafeASCII replaces non printable bytes with '.'.
func MakeSafeASCII(data []byte) string {
	return strings.Map(func(r rune) rune {
		if r >= 32 && r <= 126 {
			return r
		}
		return '.'
	}, string(data))
}

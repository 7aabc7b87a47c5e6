package tlv

import (
	"bytes"
	"testing"
)

func TestHex(t *testing.T) {
	tests := []struct {
		name      string
		inputs    []string
		want      []byte
		wantPanic bool
	}{
		{
			name:   "Simple Join",
			inputs: []string{"00", "A4"},
			want:   []byte{0x00, 0xA4},
		},
		{
			name:   "With Spaces",
			inputs: []string{"00 A4", " 04 00 "},
			want:   []byte{0x00, 0xA4, 0x04, 0x00},
		},
		{
			name:   "Mixed Case",
			inputs: []string{"ca", "FE"},
			want:   []byte{0xCA, 0xFE},
		},
		{
			name:   "Colon Separated",
			inputs: []string{"5f:c1:05"},
			want:   []byte{0x5F, 0xC1, 0x05},
		},
		{
			name:      "Invalid Hex",
			inputs:    []string{"ZZ"},
			wantPanic: true,
		},
		{
			name:      "Odd Length",
			inputs:    []string{"123"},
			wantPanic: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				if (r != nil) != tt.wantPanic {
					t.Errorf("Hex() panic = %v, wantPanic %v", r, tt.wantPanic)
				}
			}()

			got := Hex(tt.inputs...)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Hex() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestParseHex(t *testing.T) {
	if _, err := ParseHex("0G"); err == nil {
		t.Error("ParseHex(0G) should fail")
	}

	got, err := ParseHex("5FC1", "05")
	if err != nil {
		t.Fatalf("ParseHex failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0x5F, 0xC1, 0x05}) {
		t.Errorf("ParseHex() = %X, want 5FC105", got)
	}
}

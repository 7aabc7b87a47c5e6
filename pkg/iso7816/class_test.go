package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewClass(t *testing.T) {
	tests := []struct {
		name    string
		cla     byte
		want    Class
		wantErr bool
	}{
		{
			name: "Channel 0",
			cla:  0x00,
			want: Class{Raw: 0x00},
		},
		{
			name: "Chained Fragment",
			cla:  0x10,
			want: Class{Raw: 0x10, IsChained: true},
		},
		{
			name: "Channel 3 With Secure Messaging",
			cla:  0b0000_1111,
			want: Class{Raw: 0x0F, SecureMessaging: true, Channel: 3},
		},
		{
			name: "Further Range Channel 4",
			cla:  0x40,
			want: Class{Raw: 0x40, Channel: 4},
		},
		{
			name: "Further Range Channel 19 Chained",
			cla:  0x5F,
			want: Class{Raw: 0x5F, IsChained: true, Channel: 19},
		},
		{
			name: "Proprietary",
			cla:  0x80,
			want: Class{Raw: 0x80, IsProprietary: true},
		},
		{
			name:    "Reserved FF",
			cla:     0xFF,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewClass(tt.cla)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewClass(%02X) error = %v, wantErr %v", tt.cla, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("NewClass(%02X) mismatch (-want +got):\n%s", tt.cla, diff)
			}
		})
	}
}

func TestClass_Encode(t *testing.T) {
	for _, cla := range []byte{0x00, 0x01, 0x03, 0x10, 0x13, 0x40, 0x4F, 0x50, 0x5F, 0x80, 0xA0} {
		c, err := NewClass(cla)
		if err != nil {
			t.Fatalf("NewClass(%02X): %v", cla, err)
		}
		got, err := c.Encode()
		if err != nil {
			t.Fatalf("Encode(%02X): %v", cla, err)
		}
		if got != cla {
			t.Errorf("round trip of %02X gave %02X", cla, got)
		}
	}
}

func TestClass_Encode_Chaining(t *testing.T) {
	c, _ := ChannelClass(2)
	c.IsChained = true

	got, err := c.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if got != 0x12 {
		t.Errorf("chained channel 2 class = %02X, want 12", got)
	}
}

func TestClass_Encode_Errors(t *testing.T) {
	sm, _ := NewClass(0x0C)
	if _, err := sm.Encode(); err == nil {
		t.Error("secure messaging class should not encode")
	}

	if _, err := ChannelClass(20); err == nil {
		t.Error("channel 20 should be rejected")
	}
}

func TestChannelClass(t *testing.T) {
	tests := []struct {
		channel uint8
		want    byte
	}{
		{0, 0x00},
		{3, 0x03},
		{4, 0x40},
		{19, 0x4F},
	}

	for _, tt := range tests {
		c, err := ChannelClass(tt.channel)
		if err != nil {
			t.Fatalf("ChannelClass(%d): %v", tt.channel, err)
		}
		if c.Raw != tt.want {
			t.Errorf("ChannelClass(%d).Raw = %02X, want %02X", tt.channel, c.Raw, tt.want)
		}
	}
}

func TestClass_Verbose(t *testing.T) {
	c, _ := NewClass(0x10)
	want := "CLA 10: channel 0, chaining more follow, secure messaging none"
	if got := c.Verbose(); got != want {
		t.Errorf("Verbose() = %q, want %q", got, want)
	}

	p, _ := NewClass(0x80)
	if got := p.Verbose(); got != "CLA 80: proprietary" {
		t.Errorf("Verbose() = %q", got)
	}
}

package iso7816

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gregLibert/piv-card/pkg/tlv"
)

func TestSelectByAID(t *testing.T) {
	tests := []struct {
		name    string
		channel uint8
		aid     []byte
		want    []byte
	}{
		{
			name: "PIV",
			aid:  tlv.Hex("A000000308"),
			want: tlv.Hex("00A40400 05 A000000308"),
		},
		{
			name: "Legacy Management Applet",
			aid:  tlv.Hex("A000000527200101"),
			want: tlv.Hex("00A40400 08 A000000527200101"),
		},
		{
			name:    "Channel 1",
			channel: 1,
			aid:     tlv.Hex("A000000308"),
			want:    tlv.Hex("01A40400 05 A000000308"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls, _ := ChannelClass(tt.channel)
			got, err := SelectByAID(cls, tt.aid).Bytes()
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("SELECT mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

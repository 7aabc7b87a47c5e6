package iso7816

import (
	"fmt"

	"github.com/gregLibert/piv-card/pkg/bits"
)

// CLASS BYTE (ISO/IEC 7816-4, 5.4.1):
//
//   b8     : 1 = proprietary class. The remaining bits are not decoded.
//   b7     : 0 = first interindustry range (channels 0-3)
//            1 = further interindustry range (channels 4-19)
//   b5     : command chaining, set on every fragment except the last.
//
//   First range   0 0 SM SM C x x  : secure messaging on b4-b3, channel on b2-b1.
//   Further range 0 1 SM C x x x x : secure messaging on b6, channel-4 on b4-b1.
//
// Chaining is the only bit this module ever toggles. Secure messaging is
// decoded for reporting but never produced.

// maxChannel is the highest logical channel addressable by an interindustry CLA.
const maxChannel = 19

// Class is a decoded CLA byte.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging bool
	Channel         uint8
}

// NewClass decodes cla. 0xFF is reserved by ISO 7816-3 for PPS and rejected.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("invalid CLA FF: reserved for PPS")
	}

	c := Class{Raw: cla}
	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)
	if bits.IsSet(cla, 7) {
		c.SecureMessaging = bits.IsSet(cla, 6)
		c.Channel = bits.GetRange(cla, 4, 1) + 4
	} else {
		c.SecureMessaging = bits.GetRange(cla, 4, 3) != 0
		c.Channel = bits.GetRange(cla, 2, 1)
	}
	return c, nil
}

// ChannelClass returns the plain interindustry class of a logical channel.
func ChannelClass(channel uint8) (Class, error) {
	if channel > maxChannel {
		return Class{}, fmt.Errorf("channel %d out of range (max %d)", channel, maxChannel)
	}
	c := Class{Channel: channel}
	raw, err := c.Encode()
	if err != nil {
		return Class{}, err
	}
	c.Raw = raw
	return c, nil
}

// Encode returns the CLA byte. The chaining bit follows IsChained, so a
// fragment class is obtained by flipping that field on a copy.
func (c *Class) Encode() (byte, error) {
	if c.IsProprietary {
		return c.Raw, nil
	}
	if c.SecureMessaging {
		return 0, fmt.Errorf("secure messaging is not supported (CLA %02X)", c.Raw)
	}
	if c.Channel > maxChannel {
		return 0, fmt.Errorf("channel %d out of range (max %d)", c.Channel, maxChannel)
	}

	var cla byte
	if c.Channel < 4 {
		cla = c.Channel
	} else {
		cla = bits.Set(c.Channel-4, 7)
	}
	if c.IsChained {
		cla = bits.Set(cla, 5)
	}
	return cla, nil
}

// Verbose returns a one line description of the class.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("CLA %02X: proprietary", c.Raw)
	}

	chaining := "last or only"
	if c.IsChained {
		chaining = "more follow"
	}
	sm := "none"
	if c.SecureMessaging {
		sm = "present"
	}
	return fmt.Sprintf("CLA %02X: channel %d, chaining %s, secure messaging %s", c.Raw, c.Channel, chaining, sm)
}

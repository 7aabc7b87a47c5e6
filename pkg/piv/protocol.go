package piv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"fmt"

	"github.com/gregLibert/piv-card/pkg/iso7816"
)

// PROTOCOL DESCRIPTOR:
// Everything a PIV card needs to be addressed (application identifiers,
// vendor instruction codes, key references, BER-TLV tags and size ceilings)
// is grouped in a single Protocol value. It is built once and shared by
// pointer; nothing in this package mutates it.
//
// NIST SP 800-73-4 defines the standard part. The YubiKey extends it with
// proprietary instructions in the 0xF8-0xFF range and with a legacy
// management applet used to read the serial on firmware older than 5.0.

// Protocol describes the command set of a PIV card.
type Protocol struct {
	// AID selects the PIV application.
	AID []byte
	// LegacyAID selects the management applet of pre 5.0 YubiKeys.
	LegacyAID []byte

	InsVerify           iso7816.InsCode
	InsChangeReference  iso7816.InsCode
	InsResetRetry       iso7816.InsCode
	InsAuthenticate     iso7816.InsCode
	InsGetData          iso7816.InsCode
	InsPutData          iso7816.InsCode
	InsGetVersion       iso7816.InsCode
	InsGetSerial        iso7816.InsCode
	InsLegacySerial     iso7816.InsCode
	InsSetManagementKey iso7816.InsCode
	InsSetPINRetries    iso7816.InsCode
	InsReset            iso7816.InsCode
	InsAttest           iso7816.InsCode

	// Key references (P2 of VERIFY / CHANGE REFERENCE DATA).
	KeyPIN        byte
	KeyPUK        byte
	KeyManagement byte

	// Data object addressing (GET DATA / PUT DATA).
	TagObjectID   byte // 5C
	TagObjectData byte // 53

	// Dynamic authentication template (GENERAL AUTHENTICATE).
	TagDynamicAuth    byte // 7C
	TagWitness        byte // 80
	TagResponse       byte // 82
	TagChallenge      byte // 81
	TagExponentiation byte // 85

	// TemplateProperties wraps the SELECT response (Application Property Template).
	TemplateProperties string

	// PINMax is the padded length of a PIN or PUK.
	PINMax int
	// PINPadding fills the unused part of a padded PIN.
	PINPadding byte
	// ObjectMax bounds the raw content of a data object.
	ObjectMax int
	// BufferMax bounds an encoded data object, addressing included.
	BufferMax int
	// AuthenticateMax bounds the response of GENERAL AUTHENTICATE.
	AuthenticateMax int
	// ReplyMax bounds the response of the remaining commands.
	ReplyMax int
}

// YubiKeyProtocol returns the descriptor of the YubiKey PIV applet.
func YubiKeyProtocol() *Protocol {
	return &Protocol{
		AID:       []byte{0xA0, 0x00, 0x00, 0x03, 0x08},
		LegacyAID: []byte{0xA0, 0x00, 0x00, 0x05, 0x27, 0x20, 0x01, 0x01},

		InsVerify:           iso7816.INS_VERIFY,
		InsChangeReference:  iso7816.INS_CHANGE_REFERENCE_DATA,
		InsResetRetry:       iso7816.INS_RESET_RETRY_COUNTER,
		InsAuthenticate:     iso7816.INS_GENERAL_AUTHENTICATE_BER,
		InsGetData:          iso7816.INS_GET_DATA_BER,
		InsPutData:          iso7816.INS_PUT_DATA_BER,
		InsGetVersion:       0xFD,
		InsGetSerial:        0xF8,
		InsLegacySerial:     0x01,
		InsSetManagementKey: 0xFF,
		InsSetPINRetries:    0xFA,
		InsReset:            0xFB,
		InsAttest:           0xF9,

		KeyPIN:        0x80,
		KeyPUK:        0x81,
		KeyManagement: 0x9B,

		TagObjectID:   0x5C,
		TagObjectData: 0x53,

		TagDynamicAuth:    0x7C,
		TagWitness:        0x80,
		TagResponse:       0x82,
		TagChallenge:      0x81,
		TagExponentiation: 0x85,

		TemplateProperties: "61",

		PINMax:          8,
		PINPadding:      0xFF,
		ObjectMax:       3063,
		BufferMax:       3072,
		AuthenticateMax: 1024,
		ReplyMax:        0xFF,
	}
}

// Slot is a key reference of the PIV key store (P2 of GENERAL AUTHENTICATE).
type Slot byte

const (
	SlotAuthentication     Slot = 0x9A
	SlotSignature          Slot = 0x9C
	SlotKeyManagement      Slot = 0x9D
	SlotCardAuthentication Slot = 0x9E
	SlotAttestation        Slot = 0xF9
)

func (s Slot) String() string {
	switch s {
	case SlotAuthentication:
		return "9A (Authentication)"
	case SlotSignature:
		return "9C (Digital Signature)"
	case SlotKeyManagement:
		return "9D (Key Management)"
	case SlotCardAuthentication:
		return "9E (Card Authentication)"
	case SlotAttestation:
		return "F9 (Attestation)"
	default:
		return fmt.Sprintf("%02X", byte(s))
	}
}

// Algorithm identifies an asymmetric key algorithm (P1 of GENERAL AUTHENTICATE).
type Algorithm byte

const (
	AlgRSA1024 Algorithm = 0x06
	AlgRSA2048 Algorithm = 0x07
	AlgECCP256 Algorithm = 0x11
	AlgECCP384 Algorithm = 0x14
)

// KeySize returns the key length in bytes, or 0 for an unknown algorithm.
func (a Algorithm) KeySize() int {
	switch a {
	case AlgRSA1024:
		return 128
	case AlgRSA2048:
		return 256
	case AlgECCP256:
		return 32
	case AlgECCP384:
		return 48
	default:
		return 0
	}
}

// IsEC reports whether a is an elliptic curve algorithm.
func (a Algorithm) IsEC() bool {
	return a == AlgECCP256 || a == AlgECCP384
}

func (a Algorithm) String() string {
	switch a {
	case AlgRSA1024:
		return "RSA1024"
	case AlgRSA2048:
		return "RSA2048"
	case AlgECCP256:
		return "ECCP256"
	case AlgECCP384:
		return "ECCP384"
	default:
		return fmt.Sprintf("Algorithm(%02X)", byte(a))
	}
}

// ManagementKeyAlgorithm identifies the cipher of the card management key.
type ManagementKeyAlgorithm byte

const (
	Mgm3DES   ManagementKeyAlgorithm = 0x03
	MgmAES128 ManagementKeyAlgorithm = 0x08
	MgmAES192 ManagementKeyAlgorithm = 0x0A
	MgmAES256 ManagementKeyAlgorithm = 0x0C
)

// KeySize returns the key length in bytes, or 0 for an unknown algorithm.
func (m ManagementKeyAlgorithm) KeySize() int {
	switch m {
	case Mgm3DES, MgmAES192:
		return 24
	case MgmAES128:
		return 16
	case MgmAES256:
		return 32
	default:
		return 0
	}
}

// ManagementKey is a card management key and its cipher.
type ManagementKey struct {
	Algorithm ManagementKeyAlgorithm
	Key       []byte
}

// DefaultManagementKey returns the 3DES key cards ship with.
func DefaultManagementKey() ManagementKey {
	return ManagementKey{
		Algorithm: Mgm3DES,
		Key: []byte{
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
			0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		},
	}
}

// newCipher checks the key length and returns the block cipher of k.
func (k ManagementKey) newCipher() (cipher.Block, error) {
	size := k.Algorithm.KeySize()
	if size == 0 {
		return nil, fmt.Errorf("%w: management key algorithm %02X", ErrUnsupported, byte(k.Algorithm))
	}
	if len(k.Key) != size {
		return nil, sizeErrorf("management key holds %d bytes, want %d", len(k.Key), size)
	}

	if k.Algorithm == Mgm3DES {
		return des.NewTripleDESCipher(k.Key)
	}
	return aes.NewCipher(k.Key)
}

// Version is the firmware version reported by the card.
type Version struct {
	Major, Minor, Patch byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Serial is the device serial number.
type Serial uint32

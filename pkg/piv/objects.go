package piv

import (
	"bytes"
	"compress/gzip"
	"crypto/x509"
	"fmt"
	"io"
	"strings"

	"github.com/moov-io/bertlv"
	"golang.org/x/crypto/cryptobyte"

	"github.com/gregLibert/piv-card/pkg/tlv"
)

// DATA OBJECTS (SP 800-73-4 Part 1, section 3):
// Objects are addressed by a BER-TLV tag carried in a '5C' node:
//   - Discovery object: the single byte tag '7E'   -> 5C 01 7E
//   - Every other one : a three byte tag '5FC1xx'  -> 5C 03 5F C1 xx
// The content travels wrapped in a '53' node.

// ObjectID is the tag of a PIV data object.
type ObjectID uint32

const (
	ObjectDiscovery          ObjectID = 0x7E
	ObjectCardAuthentication ObjectID = 0x5FC101
	ObjectCHUID              ObjectID = 0x5FC102
	ObjectFingerprints       ObjectID = 0x5FC103
	ObjectAuthentication     ObjectID = 0x5FC105
	ObjectSecurity           ObjectID = 0x5FC106
	ObjectCapability         ObjectID = 0x5FC107
	ObjectFacialImage        ObjectID = 0x5FC108
	ObjectPrinted            ObjectID = 0x5FC109
	ObjectSignature          ObjectID = 0x5FC10A
	ObjectKeyManagement      ObjectID = 0x5FC10B
	ObjectKeyHistory         ObjectID = 0x5FC10C
	ObjectRetired1           ObjectID = 0x5FC10D

	// YubiKey specific.
	ObjectAdmin       ObjectID = 0x5FFF00
	ObjectAttestation ObjectID = 0x5FFF01
)

var objectNames = map[string]ObjectID{
	"discovery":   ObjectDiscovery,
	"chuid":       ObjectCHUID,
	"ccc":         ObjectCapability,
	"security":    ObjectSecurity,
	"printed":     ObjectPrinted,
	"keyhistory":  ObjectKeyHistory,
	"facial":      ObjectFacialImage,
	"fingerprint": ObjectFingerprints,
	"admin":       ObjectAdmin,
	"attestation": ObjectAttestation,
}

// ParseObjectID accepts a well known object name ("chuid", "discovery", ...)
// or the hexadecimal tag ("5FC102", "5f:c1:02").
func ParseObjectID(s string) (ObjectID, error) {
	if id, ok := objectNames[strings.ToLower(s)]; ok {
		return id, nil
	}

	raw, err := tlv.ParseHex(strings.TrimPrefix(strings.ToLower(s), "0x"))
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", s, err)
	}

	if len(raw) > 3 {
		return 0, sizeErrorf("object id %q is longer than 3 bytes", s)
	}
	var id ObjectID
	for _, b := range raw {
		id = id<<8 | ObjectID(b)
	}
	if _, err := id.Bytes(); err != nil {
		return 0, err
	}
	return id, nil
}

// Bytes returns the tag bytes of the object.
func (id ObjectID) Bytes() ([]byte, error) {
	switch {
	case id == ObjectDiscovery:
		return []byte{byte(id)}, nil
	case id >= 0x10000 && id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}, nil
	default:
		return nil, sizeErrorf("object id %X is neither 7E nor a 3 byte tag", uint32(id))
	}
}

func (id ObjectID) String() string {
	if id == ObjectDiscovery {
		return "7E"
	}
	return fmt.Sprintf("%06X", uint32(id))
}

// appendObjectID writes the addressing node of id.
func appendObjectID(b *cryptobyte.Builder, tag byte, id ObjectID) {
	raw, err := id.Bytes()
	if err != nil {
		b.SetError(err)
		return
	}
	tlv.AppendValue(b, tag, raw)
}

// CertificateObjectID returns the object holding the certificate of slot.
// Retired key slots 82..95 map to 5FC10D..5FC120.
func CertificateObjectID(slot Slot) (ObjectID, error) {
	switch {
	case slot == SlotAuthentication:
		return ObjectAuthentication, nil
	case slot == SlotSignature:
		return ObjectSignature, nil
	case slot == SlotKeyManagement:
		return ObjectKeyManagement, nil
	case slot == SlotCardAuthentication:
		return ObjectCardAuthentication, nil
	case slot == SlotAttestation:
		return ObjectAttestation, nil
	case slot >= 0x82 && slot <= 0x95:
		return ObjectRetired1 + ObjectID(slot-0x82), nil
	default:
		return 0, fmt.Errorf("%w: slot %s has no certificate object", ErrUnsupported, slot)
	}
}

// CERTIFICATE OBJECTS (SP 800-73-4 Part 1, Appendix A):
//   70 : Certificate (DER, gzip compressed when CertInfo says so)
//   71 : CertInfo. Bit 1 set means compressed.
//   FE : Error detection code, always empty.
// Tag 70 has the constructed bit set although it holds raw DER, so these
// objects are walked with the strict node codec instead of BER-TLV.

const (
	tagCertificate   = 0x70
	tagCertInfo      = 0x71
	tagErrorDetect   = 0xFE
	certInfoGzip     = 0x01
	maxInflatedBytes = 1 << 16
)

// CertificateObject is the content of a certificate data object.
type CertificateObject struct {
	Certificate []byte
	Info        byte
}

// ParseCertificateObject decodes the content of a certificate data object.
func ParseCertificateObject(data []byte) (*CertificateObject, error) {
	obj := &CertificateObject{}
	found := false

	for rest := data; len(rest) > 0; {
		node, tail, err := tlv.Parse(rest)
		if err != nil {
			return nil, classify(err)
		}
		rest = tail

		switch node.Tag {
		case tagCertificate:
			obj.Certificate = node.Value
			found = true
		case tagCertInfo:
			if len(node.Value) > 0 {
				obj.Info = node.Value[0]
			}
		}
	}

	if !found {
		return nil, parseErrorf("certificate object has no %02X node", tagCertificate)
	}
	return obj, nil
}

// Bytes encodes the certificate object.
func (o *CertificateObject) Bytes() ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	tlv.AppendValue(b, tagCertificate, o.Certificate)
	tlv.AppendValue(b, tagCertInfo, []byte{o.Info})
	tlv.AppendValue(b, tagErrorDetect, nil)

	out, err := b.Bytes()
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// X509 parses the certificate, inflating it first when compressed.
func (o *CertificateObject) X509() (*x509.Certificate, error) {
	der := o.Certificate
	if o.Info&certInfoGzip != 0 {
		zr, err := gzip.NewReader(bytes.NewReader(der))
		if err != nil {
			return nil, parseErrorf("compressed certificate: %v", err)
		}
		if der, err = io.ReadAll(io.LimitReader(zr, maxInflatedBytes)); err != nil {
			return nil, parseErrorf("compressed certificate: %v", err)
		}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, parseErrorf("certificate: %v", err)
	}
	return cert, nil
}

// ApplicationProperties is the Application Property Template ('61')
// returned when the PIV application is selected.
type ApplicationProperties struct {
	AID        []byte              `tlv:"4F"`
	Label      []byte              `tlv:"50" fmt:"ascii"`
	URL        []byte              `tlv:"5F50" fmt:"ascii"`
	Authority  AllocationAuthority `tlv:"79"`
	Algorithms AlgorithmSupport    `tlv:"AC"`
	Unknown    []bertlv.TLV        `tlv:",unknown"`
}

// AllocationAuthority is the Coexistent Tag Allocation Authority template.
type AllocationAuthority struct {
	AID []byte `tlv:"4F"`
}

// AlgorithmSupport is the Cryptographic Algorithms Supported template.
type AlgorithmSupport struct {
	Identifiers []AlgorithmID `tlv:"80"`
	OID         []byte        `tlv:"06"`
}

// AlgorithmID is one entry of AlgorithmSupport.
type AlgorithmID []byte

func (a AlgorithmID) String() string {
	if len(a) != 1 {
		return "Unknown"
	}
	return Algorithm(a[0]).String()
}

// parseApplicationProperties decodes a SELECT response. An empty response
// yields empty properties.
func parseApplicationProperties(data []byte, template string) (*ApplicationProperties, error) {
	props := &ApplicationProperties{}
	if len(data) == 0 {
		return props, nil
	}
	if err := tlv.UnmarshalTemplate(data, template, props); err != nil {
		return nil, classify(err)
	}
	return props, nil
}

// Describe generates a readable report of the properties.
func (p *ApplicationProperties) Describe() string {
	var sb strings.Builder
	sb.WriteString("=== PIV APPLICATION PROPERTIES ===")
	tlv.WriteStructFields(&sb, "Application", p)
	return sb.String()
}

package piv

import (
	"bytes"
	"compress/gzip"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gregLibert/piv-card/pkg/tlv"
)

func bytesHex(b []byte) string {
	return hex.EncodeToString(b)
}

func selfSignedCertificate(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "piv test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}

func parseCertificate(t *testing.T, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func TestObjectID_Bytes(t *testing.T) {
	tests := []struct {
		id      ObjectID
		want    []byte
		wantErr bool
	}{
		{id: ObjectDiscovery, want: tlv.Hex("7E")},
		{id: ObjectCHUID, want: tlv.Hex("5FC102")},
		{id: ObjectAttestation, want: tlv.Hex("5FFF01")},
		{id: 0x10000, want: tlv.Hex("010000")},
		{id: 0xFFFFFF, want: tlv.Hex("FFFFFF")},
		{id: 0x7F, wantErr: true},
		{id: 0xFFFF, wantErr: true},
		{id: 0x1000000, wantErr: true},
	}

	for _, tt := range tests {
		got, err := tt.id.Bytes()
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrSize, tt.id.String())
			continue
		}
		require.NoError(t, err, tt.id.String())
		assert.Equal(t, tt.want, got, tt.id.String())
	}
}

func TestParseObjectID(t *testing.T) {
	tests := []struct {
		in      string
		want    ObjectID
		wantErr bool
	}{
		{in: "chuid", want: ObjectCHUID},
		{in: "Discovery", want: ObjectDiscovery},
		{in: "5FC105", want: ObjectAuthentication},
		{in: "0x5fc10a", want: ObjectSignature},
		{in: "7e", want: ObjectDiscovery},
		{in: "5f:c1:02", want: ObjectCHUID},
		{in: "5FC1020304", wantErr: true},
		{in: "1234", wantErr: true},
		{in: "not-hex", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseObjectID(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestCertificateObjectID(t *testing.T) {
	tests := []struct {
		slot Slot
		want ObjectID
	}{
		{SlotAuthentication, ObjectAuthentication},
		{SlotSignature, ObjectSignature},
		{SlotKeyManagement, ObjectKeyManagement},
		{SlotCardAuthentication, ObjectCardAuthentication},
		{SlotAttestation, ObjectAttestation},
		{0x82, 0x5FC10D},
		{0x95, 0x5FC120},
	}

	for _, tt := range tests {
		got, err := CertificateObjectID(tt.slot)
		require.NoError(t, err, tt.slot.String())
		assert.Equal(t, tt.want, got, tt.slot.String())
	}

	_, err := CertificateObjectID(0x9B)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCertificateObject(t *testing.T) {
	der := selfSignedCertificate(t)

	t.Run("Round Trip", func(t *testing.T) {
		encoded, err := (&CertificateObject{Certificate: der}).Bytes()
		require.NoError(t, err)

		// 70 LL.. DER, 71 01 00, FE 00
		assert.Equal(t, tlv.Hex("71 01 00 FE 00"), encoded[len(encoded)-5:])

		obj, err := ParseCertificateObject(encoded)
		require.NoError(t, err)
		assert.Equal(t, der, obj.Certificate)
		assert.Zero(t, obj.Info)

		cert, err := obj.X509()
		require.NoError(t, err)
		assert.Equal(t, "piv test", cert.Subject.CommonName)
	})

	t.Run("Compressed", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, err := zw.Write(der)
		require.NoError(t, err)
		require.NoError(t, zw.Close())

		encoded, err := (&CertificateObject{Certificate: buf.Bytes(), Info: 0x01}).Bytes()
		require.NoError(t, err)

		obj, err := ParseCertificateObject(encoded)
		require.NoError(t, err)
		assert.Equal(t, byte(0x01), obj.Info)

		cert, err := obj.X509()
		require.NoError(t, err)
		assert.Equal(t, "piv test", cert.Subject.CommonName)
	})

	t.Run("Missing Certificate", func(t *testing.T) {
		_, err := ParseCertificateObject(tlv.Hex("71 01 00 FE 00"))
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := ParseCertificateObject(tlv.Hex("70 10 3082"))
		assert.ErrorIs(t, err, ErrSize)
	})

	t.Run("Garbage DER", func(t *testing.T) {
		obj := &CertificateObject{Certificate: tlv.Hex("300100")}
		_, err := obj.X509()
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("Garbage Gzip", func(t *testing.T) {
		obj := &CertificateObject{Certificate: tlv.Hex("300100"), Info: 0x01}
		_, err := obj.X509()
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestApplicationProperties(t *testing.T) {
	data := tlv.Hex(
		"61 21",
		"4F 06 000010000100",
		"50 03 504956",
		"79 07 4F 05 A000000308",
		"AC 09 80 01 11 80 01 14 06 01 00",
	)

	props, err := parseApplicationProperties(data, "61")
	require.NoError(t, err)

	assert.Equal(t, []byte("PIV"), props.Label)
	assert.Equal(t, []AlgorithmID{{0x11}, {0x14}}, props.Algorithms.Identifiers)

	report := props.Describe()
	for _, want := range []string{
		"=== PIV APPLICATION PROPERTIES ===",
		"    - Application.AID (4F): 000010000100",
		`    - Application.Label (50): 504956 ("PIV")`,
		"    - Application.Authority.AID (4F): A000000308",
		"    - Application.Algorithms.Identifiers[0] (80): 11 (ECCP256)",
		"    - Application.Algorithms.Identifiers[1] (80): 14 (ECCP384)",
		"    - Application.Algorithms.OID (06): 00",
	} {
		assert.True(t, strings.Contains(report, want), "report misses %q:\n%s", want, report)
	}
}

func TestApplicationProperties_Errors(t *testing.T) {
	props, err := parseApplicationProperties(nil, "61")
	require.NoError(t, err)
	assert.Empty(t, props.AID)

	for _, data := range []string{
		"6F 02 8400",
		"61 88 FFFFFFFFFFFFFFFF 9000",
		"61 83 000005 4F03000010",
		"61 06 AC 07 800111",
	} {
		assert.NotPanics(t, func() {
			_, err = parseApplicationProperties(tlv.Hex(data), "61")
		}, data)
		assert.ErrorIs(t, err, ErrParse, data)
	}
}

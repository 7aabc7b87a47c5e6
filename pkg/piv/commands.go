package piv

import (
	"bytes"
	"crypto/subtle"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"

	"github.com/gregLibert/piv-card/pkg/iso7816"
	"github.com/gregLibert/piv-card/pkg/tlv"
)

// SelectApplication selects the PIV application and decodes its
// Application Property Template.
func (tx *Transaction) SelectApplication() (*ApplicationProperties, error) {
	data, err := tx.selectAID("select application", tx.protocol.AID)
	if err != nil {
		return nil, err
	}
	return parseApplicationProperties(data, tx.protocol.TemplateProperties)
}

func (tx *Transaction) selectAID(op string, aid []byte) ([]byte, error) {
	cls, _ := iso7816.NewClass(0x00)

	resp, err := tx.transfer(iso7816.SelectByAID(cls, aid), tx.protocol.BufferMax)
	if err != nil {
		return nil, err
	}
	if Classify(resp.Status).Kind != OutcomeSuccess {
		return nil, tx.fail(op, resp.Status)
	}
	return resp.Data, nil
}

// Version reads the firmware version.
func (tx *Transaction) Version() (Version, error) {
	resp, err := tx.simple(tx.protocol.InsGetVersion, 0x00, 0x00, tx.protocol.ReplyMax)
	if err != nil {
		return Version{}, err
	}
	if Classify(resp.Status).Kind != OutcomeSuccess {
		return Version{}, tx.fail("get version", resp.Status)
	}
	if len(resp.Data) < 3 {
		return Version{}, sizeErrorf("version reply holds %d bytes, want 3", len(resp.Data))
	}
	return Version{Major: resp.Data[0], Minor: resp.Data[1], Patch: resp.Data[2]}, nil
}

// Serial reads the device serial number. Firmware before 5.0 only exposes
// it through the management applet: the PIV application is selected again
// before returning.
func (tx *Transaction) Serial(v Version) (Serial, error) {
	p := tx.protocol

	var data []byte
	if v.Major < 5 {
		if _, err := tx.selectAID("select legacy application", p.LegacyAID); err != nil {
			return 0, err
		}

		resp, err := tx.simple(p.InsLegacySerial, 0x10, 0x00, p.ReplyMax)
		if err != nil {
			return 0, err
		}
		if Classify(resp.Status).Kind != OutcomeSuccess {
			return 0, tx.fail("get serial", resp.Status)
		}
		data = resp.Data

		if _, err := tx.selectAID("select application", p.AID); err != nil {
			return 0, err
		}
	} else {
		resp, err := tx.simple(p.InsGetSerial, 0x00, 0x00, p.ReplyMax)
		if err != nil {
			return 0, err
		}
		if Classify(resp.Status).Kind != OutcomeSuccess {
			return 0, tx.fail("get serial", resp.Status)
		}
		data = resp.Data
	}

	if len(data) < 4 {
		return 0, sizeErrorf("serial reply holds %d bytes, want 4", len(data))
	}
	return Serial(binary.BigEndian.Uint32(data)), nil
}

// VerifyPIN presents pin to the card. An empty pin sends no data field and
// only queries the retry counter, which then surfaces as a *WrongPINError
// unless the PIN is already verified.
func (tx *Transaction) VerifyPIN(pin []byte) error {
	p := tx.protocol
	if len(pin) > p.PINMax {
		return sizeErrorf("pin holds %d bytes, max %d", len(pin), p.PINMax)
	}

	if len(pin) == 0 {
		return tx.verify(nil)
	}
	return withSecret(p.PINMax, func(buf []byte) error {
		padPIN(buf, pin, p.PINPadding)
		return tx.verify(buf)
	})
}

func (tx *Transaction) verify(data []byte) error {
	cmd, err := tx.command(tx.protocol.InsVerify, 0x00, tx.protocol.KeyPIN, data)
	if err != nil {
		return err
	}
	cmd.Sensitive = len(data) > 0

	resp, err := tx.transfer(cmd, tx.protocol.ReplyMax)
	if err != nil {
		return err
	}

	switch o := Classify(resp.Status); o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeAuthBlocked:
		return &WrongPINError{Tries: 0}
	case OutcomeVerifyFailed:
		return &WrongPINError{Tries: o.Count}
	default:
		return tx.fail("verify pin", resp.Status)
	}
}

// Retries returns the PIN tries left, or 0 when the PIN is already verified
// in this session.
func (tx *Transaction) Retries() (int, error) {
	err := tx.VerifyPIN(nil)

	var wrong *WrongPINError
	switch {
	case err == nil:
		return 0, nil
	case errors.As(err, &wrong):
		return wrong.Tries, nil
	default:
		return 0, err
	}
}

// ChangePIN replaces the PIN.
func (tx *Transaction) ChangePIN(current, next []byte) error {
	return tx.changeReference("change pin", tx.protocol.InsChangeReference, tx.protocol.KeyPIN, current, next)
}

// ChangePUK replaces the PUK.
func (tx *Transaction) ChangePUK(current, next []byte) error {
	return tx.changeReference("change puk", tx.protocol.InsChangeReference, tx.protocol.KeyPUK, current, next)
}

// UnblockPIN resets the PIN retry counter with the PUK and sets a new PIN.
func (tx *Transaction) UnblockPIN(puk, pin []byte) error {
	return tx.changeReference("unblock pin", tx.protocol.InsResetRetry, tx.protocol.KeyPIN, puk, pin)
}

func (tx *Transaction) changeReference(op string, ins iso7816.InsCode, key byte, current, next []byte) error {
	p := tx.protocol
	if len(current) > p.PINMax || len(next) > p.PINMax {
		return sizeErrorf("%s: secrets hold %d and %d bytes, max %d", op, len(current), len(next), p.PINMax)
	}

	return withSecret(2*p.PINMax, func(buf []byte) error {
		padPIN(buf[:p.PINMax], current, p.PINPadding)
		padPIN(buf[p.PINMax:], next, p.PINPadding)

		cmd, err := tx.command(ins, 0x00, key, buf)
		if err != nil {
			return err
		}
		cmd.Sensitive = true

		resp, err := tx.transfer(cmd, p.ReplyMax)
		if err != nil {
			return err
		}

		switch o := Classify(resp.Status); o.Kind {
		case OutcomeSuccess:
			return nil
		case OutcomeAuthBlocked:
			return ErrPINLocked
		case OutcomeVerifyFailed:
			return &WrongPINError{Tries: o.Count}
		default:
			return tx.fail(op, resp.Status)
		}
	})
}

// SetManagementKey installs a new management key. With requireTouch the
// card asks for a touch each time the key is used.
func (tx *Transaction) SetManagementKey(key ManagementKey, requireTouch bool) error {
	p := tx.protocol

	if _, err := key.newCipher(); err != nil {
		return err
	}
	size := len(key.Key)

	p2 := byte(0xFF)
	if requireTouch {
		p2 = 0xFE
	}

	build := func(b *cryptobyte.Builder) {
		b.AddUint8(byte(key.Algorithm))
		b.AddUint8(p.KeyManagement)
		b.AddUint8(byte(size))
		b.AddBytes(key.Key)
	}

	return withSecretPayload(3+size, build, func(payload []byte) error {
		cmd, err := tx.command(p.InsSetManagementKey, 0xFF, p2, payload)
		if err != nil {
			return err
		}
		cmd.Sensitive = true

		resp, err := tx.transfer(cmd, p.ReplyMax)
		if err != nil {
			return err
		}
		if Classify(resp.Status).Kind != OutcomeSuccess {
			return tx.fail("set management key", resp.Status)
		}
		return nil
	})
}

// AuthenticateManagementKey proves knowledge of the management key to the
// card, and checks the card knows it too. Administrative commands (PUT DATA,
// SET PIN RETRIES) need it earlier in the same transaction.
//
//	>> 7C 02 80 00                   witness request
//	<< 7C L 80 n E(witness)
//	>> 7C L 80 n witness 81 n chal   decrypted witness, host challenge
//	<< 7C L 82 n E(chal)
//
// n is the cipher block size: 8 for 3DES, 16 for AES.
func (tx *Transaction) AuthenticateManagementKey(key ManagementKey) error {
	p := tx.protocol

	block, err := key.newCipher()
	if err != nil {
		return err
	}
	n := block.BlockSize()

	request, err := tlv.Encode(p.TagDynamicAuth, []byte{p.TagWitness, 0x00})
	if err != nil {
		return classify(err)
	}
	encrypted, err := tx.managementStep("request witness", key.Algorithm, request, p.TagWitness, n)
	if err != nil {
		return err
	}

	return withSecret(3*n, func(buf []byte) error {
		witness, challenge, expected := buf[:n], buf[n:2*n], buf[2*n:]

		block.Decrypt(witness, encrypted)
		if _, err := io.ReadFull(tx.rand, challenge); err != nil {
			return fmt.Errorf("piv: host challenge: %w", err)
		}
		block.Encrypt(expected, challenge)

		inner := 2 * tlv.EncodedSize(n)
		build := func(b *cryptobyte.Builder) {
			tlv.AppendHeader(b, p.TagDynamicAuth, inner)
			tlv.AppendValue(b, p.TagWitness, witness)
			tlv.AppendValue(b, p.TagChallenge, challenge)
		}

		return withSecretPayload(tlv.EncodedSize(inner), build, func(payload []byte) error {
			answer, err := tx.managementStep("authenticate management key", key.Algorithm, payload, p.TagResponse, n)
			if err != nil {
				return err
			}
			if subtle.ConstantTimeCompare(answer, expected) != 1 {
				tx.log.Errorf("authenticate management key: card answer does not match the challenge")
				return fmt.Errorf("%w: card failed the management key challenge", ErrAuthentication)
			}
			return nil
		})
	})
}

// managementStep sends one GENERAL AUTHENTICATE of the management key
// exchange and returns the n byte value of tag want.
func (tx *Transaction) managementStep(op string, alg ManagementKeyAlgorithm, payload []byte, want byte, n int) ([]byte, error) {
	p := tx.protocol

	cmd, err := tx.command(p.InsAuthenticate, byte(alg), p.KeyManagement, payload)
	if err != nil {
		return nil, err
	}
	cmd.Sensitive = true

	resp, err := tx.transfer(cmd, p.ReplyMax)
	if err != nil {
		return nil, err
	}

	switch Classify(resp.Status).Kind {
	case OutcomeSuccess:
	case OutcomeSecurityNotSatisfied, OutcomeAuthBlocked:
		tx.log.Errorf("%s: rejected with %s", op, resp.Status.Verbose())
		return nil, ErrAuthentication
	default:
		return nil, tx.fail(op, resp.Status)
	}

	outer, _, err := tlv.ParseTag(resp.Data, p.TagDynamicAuth)
	if err != nil {
		return nil, classify(err)
	}
	value, _, err := tlv.ParseTag(outer, want)
	if err != nil {
		return nil, classify(err)
	}
	if len(value) != n {
		return nil, sizeErrorf("%s: card value holds %d bytes, want %d", op, len(value), n)
	}
	return value, nil
}

// Sign signs digest with the private key in slot. RSA input must be the
// padded block of the key size. EC input is truncated by the caller to the
// curve size at most.
func (tx *Transaction) Sign(slot Slot, alg Algorithm, digest []byte) ([]byte, error) {
	return tx.authenticate(slot, alg, digest, false)
}

// Decipher runs the private key operation of slot on data: RSA decryption
// of a key sized block, or ECDH with an uncompressed peer point.
func (tx *Transaction) Decipher(slot Slot, alg Algorithm, data []byte) ([]byte, error) {
	return tx.authenticate(slot, alg, data, true)
}

// GENERAL AUTHENTICATE (SP 800-73-4 Part 2, 3.2.4):
//
//	7C L
//	   82 00        Response placeholder
//	   81 L data    Challenge (sign, RSA decipher)
//	or 85 L data    Exponentiation (EC decipher)
//
// The card answers 7C L 82 L <signature or shared secret>.
func (tx *Transaction) authenticate(slot Slot, alg Algorithm, input []byte, decipher bool) ([]byte, error) {
	p := tx.protocol

	keySize := alg.KeySize()
	switch {
	case keySize == 0:
		return nil, fmt.Errorf("%w: algorithm %s", ErrUnsupported, alg)
	case !alg.IsEC() && len(input) != keySize:
		return nil, sizeErrorf("%s input holds %d bytes, want %d", alg, len(input), keySize)
	case alg.IsEC() && !decipher && len(input) > keySize:
		return nil, sizeErrorf("%s digest holds %d bytes, max %d", alg, len(input), keySize)
	case alg.IsEC() && decipher && len(input) != 2*keySize+1:
		return nil, sizeErrorf("%s point holds %d bytes, want %d", alg, len(input), 2*keySize+1)
	}

	dataTag := p.TagChallenge
	if alg.IsEC() && decipher {
		dataTag = p.TagExponentiation
	}

	inner := tlv.EncodedSize(0) + tlv.EncodedSize(len(input))
	build := func(b *cryptobyte.Builder) {
		tlv.AppendHeader(b, p.TagDynamicAuth, inner)
		tlv.AppendValue(b, p.TagResponse, nil)
		tlv.AppendValue(b, dataTag, input)
	}

	var out []byte
	err := withSecretPayload(tlv.EncodedSize(inner), build, func(payload []byte) error {
		cmd, err := tx.command(p.InsAuthenticate, byte(alg), byte(slot), payload)
		if err != nil {
			return err
		}
		cmd.Sensitive = true

		resp, err := tx.transfer(cmd, p.AuthenticateMax)
		if err != nil {
			return err
		}

		switch Classify(resp.Status).Kind {
		case OutcomeSuccess:
		case OutcomeSecurityNotSatisfied:
			tx.log.Errorf("authenticate with slot %s: security status not satisfied", slot)
			return ErrAuthentication
		default:
			return tx.fail("authenticate", resp.Status)
		}

		outer, _, err := tlv.ParseTag(resp.Data, p.TagDynamicAuth)
		if err != nil {
			return classify(err)
		}
		value, _, err := tlv.ParseTag(outer, p.TagResponse)
		if err != nil {
			return classify(err)
		}
		out = bytes.Clone(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchObject reads the content of a data object.
func (tx *Transaction) FetchObject(id ObjectID) ([]byte, error) {
	p := tx.protocol

	b := cryptobyte.NewBuilder(nil)
	appendObjectID(b, p.TagObjectID, id)
	payload, err := b.Bytes()
	if err != nil {
		return nil, err
	}

	cmd, err := tx.command(p.InsGetData, 0x3F, 0xFF, payload)
	if err != nil {
		return nil, err
	}

	resp, err := tx.transfer(cmd, p.BufferMax)
	if err != nil {
		return nil, err
	}

	switch Classify(resp.Status).Kind {
	case OutcomeSuccess:
	case OutcomeNotFound:
		return nil, fmt.Errorf("%w: object %s", ErrNotFound, id)
	default:
		return nil, tx.fail("fetch object", resp.Status)
	}

	node, rest, err := tlv.Parse(resp.Data)
	if err != nil {
		return nil, classify(err)
	}
	if len(rest) > 0 {
		tx.log.Errorf("object %s: total length is %d but indicated length is %d", id, len(resp.Data), len(node.Value))
		return nil, sizeErrorf("object %s carries %d trailing bytes", id, len(rest))
	}
	return node.Value, nil
}

// SaveObject replaces the content of a data object.
func (tx *Transaction) SaveObject(id ObjectID, data []byte) error {
	p := tx.protocol
	if len(data) > p.ObjectMax {
		return sizeErrorf("object holds %d bytes, max %d", len(data), p.ObjectMax)
	}

	b := cryptobyte.NewBuilder(make([]byte, 0, p.BufferMax))
	appendObjectID(b, p.TagObjectID, id)
	tlv.AppendValue(b, p.TagObjectData, data)
	payload, err := b.Bytes()
	if err != nil {
		return classify(err)
	}
	if len(payload) > p.BufferMax {
		return sizeErrorf("encoded object holds %d bytes, max %d", len(payload), p.BufferMax)
	}

	cmd, err := tx.command(p.InsPutData, 0x3F, 0xFF, payload)
	if err != nil {
		return err
	}

	resp, err := tx.transfer(cmd, p.ReplyMax)
	if err != nil {
		return err
	}

	switch Classify(resp.Status).Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeSecurityNotSatisfied:
		return ErrAuthentication
	default:
		return tx.fail("save object", resp.Status)
	}
}

// Certificate reads and parses the certificate stored for slot.
func (tx *Transaction) Certificate(slot Slot) (*x509.Certificate, error) {
	id, err := CertificateObjectID(slot)
	if err != nil {
		return nil, err
	}

	data, err := tx.FetchObject(id)
	if err != nil {
		return nil, err
	}

	obj, err := ParseCertificateObject(data)
	if err != nil {
		return nil, err
	}
	return obj.X509()
}

// SetCertificate stores cert, uncompressed, in the certificate object of slot.
func (tx *Transaction) SetCertificate(slot Slot, cert *x509.Certificate) error {
	id, err := CertificateObjectID(slot)
	if err != nil {
		return err
	}

	data, err := (&CertificateObject{Certificate: cert.Raw}).Bytes()
	if err != nil {
		return err
	}
	return tx.SaveObject(id, data)
}

// Attest returns the attestation certificate of the key in slot, signed by
// the attestation key of the card.
func (tx *Transaction) Attest(slot Slot) (*x509.Certificate, error) {
	resp, err := tx.simple(tx.protocol.InsAttest, byte(slot), 0x00, tx.protocol.BufferMax)
	if err != nil {
		return nil, err
	}

	switch Classify(resp.Status).Kind {
	case OutcomeSuccess:
	case OutcomeNotFound:
		return nil, fmt.Errorf("%w: no key in slot %s", ErrNotFound, slot)
	default:
		return nil, tx.fail("attest", resp.Status)
	}

	cert, err := x509.ParseCertificate(resp.Data)
	if err != nil {
		return nil, parseErrorf("attestation certificate: %v", err)
	}
	return cert, nil
}

// SetPINRetries sets the PIN and PUK retry counters. The card requires the
// management key and the PIN to be verified, and resets both secrets to
// their defaults.
func (tx *Transaction) SetPINRetries(pinTries, pukTries byte) error {
	resp, err := tx.simple(tx.protocol.InsSetPINRetries, pinTries, pukTries, tx.protocol.ReplyMax)
	if err != nil {
		return err
	}

	switch Classify(resp.Status).Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeSecurityNotSatisfied:
		return ErrAuthentication
	default:
		return tx.fail("set pin retries", resp.Status)
	}
}

// Reset wipes the PIV application. The card refuses unless both the PIN and
// the PUK are blocked.
func (tx *Transaction) Reset() error {
	resp, err := tx.simple(tx.protocol.InsReset, 0x00, 0x00, tx.protocol.ReplyMax)
	if err != nil {
		return err
	}
	if Classify(resp.Status).Kind != OutcomeSuccess {
		return tx.fail("reset", resp.Status)
	}
	return nil
}

// simple sends a command without data field.
func (tx *Transaction) simple(ins iso7816.InsCode, p1, p2 byte, maxOut int) (*iso7816.ResponseAPDU, error) {
	cmd, err := tx.command(ins, p1, p2, nil)
	if err != nil {
		return nil, err
	}
	return tx.transfer(cmd, maxOut)
}

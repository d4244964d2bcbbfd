// Package webauthnsig normalizes WebAuthn P-256 signature and key material
// into the fixed-width forms Soroban smart-wallet contracts expect.
package webauthnsig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// RawSignatureLen is the canonical r||s length (32 bytes each).
const RawSignatureLen = 64

// PublicKeyLen is the uncompressed SEC1 point length: 0x04 || X(32) || Y(32).
const PublicKeyLen = 65

// p256N is the order of the P-256 base point; p256HalfN gates low-S form.
var (
	p256N     *big.Int
	p256HalfN *big.Int
)

func init() {
	p256N = elliptic.P256().Params().N
	p256HalfN = new(big.Int).Rsh(p256N, 1)
}

type ecdsaSignature struct {
	R, S *big.Int
}

// NormalizeSignature accepts an ECDSA signature either ASN.1 DER-encoded
// (typically 70-72 bytes, as produced by WebAuthn authenticators) or already
// raw 64 bytes, and returns the canonical raw form: r||s, each 32 bytes
// left-padded, with s in low-S form.
func NormalizeSignature(sig []byte) ([]byte, error) {
	r, s, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	return EmitRaw(r, s), nil
}

// ParseSignature decodes DER or raw-64 input into (r, s). Values are
// validated against the curve order.
func ParseSignature(sig []byte) (*big.Int, *big.Int, error) {
	var r, s *big.Int
	switch {
	case len(sig) == RawSignatureLen:
		r = new(big.Int).SetBytes(sig[:32])
		s = new(big.Int).SetBytes(sig[32:])
	case len(sig) > 2 && sig[0] == 0x30:
		var parsed ecdsaSignature
		rest, err := asn1.Unmarshal(sig, &parsed)
		if err != nil {
			return nil, nil, fmt.Errorf("webauthnsig: malformed DER signature: %w", err)
		}
		if len(rest) != 0 {
			return nil, nil, fmt.Errorf("webauthnsig: trailing bytes after DER signature")
		}
		r, s = parsed.R, parsed.S
	default:
		return nil, nil, fmt.Errorf("webauthnsig: signature must be raw 64 bytes or ASN.1 DER, got %d bytes", len(sig))
	}

	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, fmt.Errorf("webauthnsig: signature scalars must be positive")
	}
	if r.Cmp(p256N) >= 0 || s.Cmp(p256N) >= 0 {
		return nil, nil, fmt.Errorf("webauthnsig: signature scalar exceeds curve order")
	}
	return r, s, nil
}

// EmitRaw produces the canonical raw r||s encoding with low-S applied.
func EmitRaw(r, s *big.Int) []byte {
	if s.Cmp(p256HalfN) > 0 {
		s = new(big.Int).Sub(p256N, s)
	}
	out := make([]byte, RawSignatureLen)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

// ExtractP256PublicKey returns the 65-byte uncompressed point from either a
// DER SPKI (SubjectPublicKeyInfo) wrapper or an already-raw 65-byte point.
func ExtractP256PublicKey(material []byte) ([]byte, error) {
	if len(material) == PublicKeyLen && material[0] == 0x04 {
		return material, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(material)
	if err != nil {
		return nil, fmt.Errorf("webauthnsig: parsing SPKI: %w", err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("webauthnsig: SPKI does not contain an ECDSA key")
	}
	if pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("webauthnsig: expected P-256, got %s", pub.Curve.Params().Name)
	}

	out := make([]byte, PublicKeyLen)
	out[0] = 0x04
	pub.X.FillBytes(out[1:33])
	pub.Y.FillBytes(out[33:65])
	return out, nil
}

// KeysEqual compares two uncompressed points in constant shape (length then
// bytewise). Used by the passkey consistency pre-flight.
func KeysEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

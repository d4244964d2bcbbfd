package webauthnsig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func derEncode(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	der, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
	require.NoError(t, err)
	return der
}

func TestNormalizeSignatureFromDER(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("payload"))
	der, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)

	raw, err := NormalizeSignature(der)
	require.NoError(t, err)
	assert.Len(t, raw, RawSignatureLen)

	s := new(big.Int).SetBytes(raw[32:])
	assert.True(t, s.Cmp(p256HalfN) <= 0, "s must be low-S")
}

func TestNormalizeSignatureRawPassthrough(t *testing.T) {
	r := big.NewInt(12345)
	s := big.NewInt(67890)
	raw := EmitRaw(r, s)

	out, err := NormalizeSignature(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestNormalizeSignatureHighSFlipped(t *testing.T) {
	r := big.NewInt(1)
	highS := new(big.Int).Sub(p256N, big.NewInt(7))
	der := derEncode(t, r, highS)

	raw, err := NormalizeSignature(der)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(7), new(big.Int).SetBytes(raw[32:]))
}

func TestParseSignatureRejects(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x01, 0x02},
		derEncode(t, big.NewInt(0), big.NewInt(1)),
		derEncode(t, big.NewInt(1), new(big.Int).Set(p256N)),
	}
	for i, sig := range cases {
		_, _, err := ParseSignature(sig)
		assert.Error(t, err, "case %d", i)
	}
}

func TestDERRawRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	scalar := gen.Int64Range(1, 1<<62).Map(func(n int64) *big.Int {
		return big.NewInt(n)
	})

	properties.Property("DER and raw inputs normalize identically", prop.ForAll(
		func(r, s *big.Int) bool {
			der, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
			if err != nil {
				return false
			}
			fromDER, err := NormalizeSignature(der)
			if err != nil {
				return false
			}
			raw := make([]byte, RawSignatureLen)
			r.FillBytes(raw[:32])
			s.FillBytes(raw[32:])
			fromRaw, err := NormalizeSignature(raw)
			if err != nil {
				return false
			}
			return KeysEqual(fromDER, fromRaw)
		},
		scalar, scalar,
	))

	properties.TestingRun(t)
}

func TestExtractP256PublicKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	fromSPKI, err := ExtractP256PublicKey(spki)
	require.NoError(t, err)
	assert.Len(t, fromSPKI, PublicKeyLen)
	assert.Equal(t, byte(0x04), fromSPKI[0])

	fromRaw, err := ExtractP256PublicKey(fromSPKI)
	require.NoError(t, err)
	assert.True(t, KeysEqual(fromSPKI, fromRaw))
}

func TestExtractP256PublicKeyRejectsGarbage(t *testing.T) {
	_, err := ExtractP256PublicKey([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestKeysEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	assert.True(t, KeysEqual(a, []byte{1, 2, 3}))
	assert.False(t, KeysEqual(a, []byte{1, 2, 4}))
	assert.False(t, KeysEqual(a, []byte{1, 2}))
}

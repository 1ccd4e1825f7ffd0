package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonaspfi/ledgernode/crypto"
)

func TestGenerateSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	data := []byte("abc123")
	sig, err := crypto.Sign(priv, data)
	require.NoError(t, err)
	require.True(t, crypto.Verify(pub.PEM(), sig, data))
}

func TestVerifyRejectsTamperedData(t *testing.T) {
	priv, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	sig, err := crypto.Sign(priv, []byte("original"))
	require.NoError(t, err)
	require.False(t, crypto.Verify(pub.PEM(), sig, []byte("tampered")))
}

func TestVerifyNeverPanicsOnGarbage(t *testing.T) {
	require.False(t, crypto.Verify([]byte("not a pem"), "nothex", []byte("data")))
	require.False(t, crypto.Verify([]byte("-----BEGIN PUBLIC KEY-----\nbroken\n-----END PUBLIC KEY-----"), "ab", []byte("data")))

	_, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)
	require.False(t, crypto.Verify(pub.PEM(), "zz", []byte("data"))) // invalid hex
}

func TestPEMRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeypair()
	require.NoError(t, err)

	priv2, err := crypto.PrivateKeyFromPEM(priv.PEM())
	require.NoError(t, err)
	pub2, err := crypto.PublicKeyFromPEM(pub.PEM())
	require.NoError(t, err)

	data := []byte("round trip")
	sig, err := crypto.Sign(priv2, data)
	require.NoError(t, err)
	require.True(t, crypto.Verify(pub2.PEM(), sig, data))
}

func TestHashIsDeterministic(t *testing.T) {
	require.Equal(t, crypto.Hash([]byte("same input")), crypto.Hash([]byte("same input")))
	require.NotEqual(t, crypto.Hash([]byte("a")), crypto.Hash([]byte("b")))
}

package crypto

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeypairDeterministic(t *testing.T) {
	a := DeriveKeypair("credential-aaa", "user-123")
	b := DeriveKeypair("credential-aaa", "user-123")
	require.Equal(t, a.PublicKeyHex(), b.PublicKeyHex())
	require.Equal(t, a.SeedHex(), b.SeedHex())

	c := DeriveKeypair("credential-bbb", "user-123")
	require.NotEqual(t, a.PublicKeyHex(), c.PublicKeyHex())

	d := DeriveKeypair("credential-aaa", "user-456")
	require.NotEqual(t, a.PublicKeyHex(), d.PublicKeyHex())
}

func TestKeypairSeedRoundTrip(t *testing.T) {
	orig := DeriveKeypair("cred", "user")
	restored, err := KeypairFromSeed(orig.SeedHex())
	require.NoError(t, err)
	require.Equal(t, orig.PublicKeyHex(), restored.PublicKeyHex())

	_, err = KeypairFromSeed("not-hex")
	require.Error(t, err)
	_, err = KeypairFromSeed("abcd")
	require.Error(t, err, "short seed must be rejected")
}

func TestKeypairSignVerify(t *testing.T) {
	kp := DeriveKeypair("cred", "user")
	digest := sha256.Sum256([]byte("envelope"))

	sig, err := kp.Sign(digest[:])
	require.NoError(t, err)
	require.Len(t, sig, 128, "64-byte signature hex encodes to 128 chars")
	require.True(t, kp.Verify(digest[:], sig))

	other := sha256.Sum256([]byte("tampered"))
	require.False(t, kp.Verify(other[:], sig))

	_, err = kp.Sign([]byte("short"))
	require.Error(t, err, "only 32-byte digests are signable")
}

func TestEncryptDecryptSeed(t *testing.T) {
	kp := DeriveKeypair("cred", "user")

	blob, err := EncryptSeed(kp.SeedHex(), "correct horse")
	require.NoError(t, err)

	seedHex, err := DecryptSeed(blob, "correct horse")
	require.NoError(t, err)
	require.Equal(t, kp.SeedHex(), seedHex)

	_, err = DecryptSeed(blob, "wrong passphrase")
	require.Error(t, err)

	_, err = EncryptSeed(kp.SeedHex(), "")
	require.Error(t, err)
	_, err = EncryptSeed("zzzz", "pw")
	require.Error(t, err)
}

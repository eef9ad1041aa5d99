// Package crypto provides deterministic keypair derivation, transaction
// digest signing, and at-rest seed encryption for perpdesk sessions.
package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Keypair is the ed25519 signing identity derived from a passkey
// credential. The 32-byte seed, not the expanded private key, is what
// gets persisted.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// DeriveKeypair deterministically derives the ledger keypair for a
// credential: seed = SHA-256(credentialID || userID). The same passkey
// always yields the same keypair, so nothing wallet-like is ever stored
// on the authenticator.
func DeriveKeypair(credentialID, userID string) Keypair {
	seed := sha256.Sum256([]byte(credentialID + userID))
	priv := ed25519.NewKeyFromSeed(seed[:])
	return Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}
}

// KeypairFromSeed reconstructs a Keypair from a hex-encoded 32-byte
// seed, as stored in the session blob.
func KeypairFromSeed(seedHex string) (Keypair, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return Keypair{}, fmt.Errorf("crypto: invalid seed hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("crypto: expected %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// SeedHex returns the hex-encoded 32-byte seed.
func (k Keypair) SeedHex() string {
	return hex.EncodeToString(k.priv.Seed())
}

// PublicKeyHex returns the hex-encoded 32-byte public key.
func (k Keypair) PublicKeyHex() string {
	return hex.EncodeToString(k.pub)
}

// Address returns the on-ledger account address for this keypair.
func (k Keypair) Address() string {
	return k.PublicKeyHex()
}

// Sign signs a 32-byte transaction digest and returns the hex-encoded
// 64-byte signature.
func (k Keypair) Sign(digest []byte) (string, error) {
	if len(digest) != sha256.Size {
		return "", fmt.Errorf("crypto: expected %d-byte digest, got %d bytes", sha256.Size, len(digest))
	}
	return hex.EncodeToString(ed25519.Sign(k.priv, digest)), nil
}

// Verify reports whether sigHex is a valid signature of digest by this
// keypair.
func (k Keypair) Verify(digest []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(k.pub, digest, sig)
}

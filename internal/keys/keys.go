// Package keys generates portguard static identities and protects private
// key material at rest with a passphrase.
//
// The passphrase scheme here is deliberately lightweight: it obfuscates a
// private key against casual disclosure (shoulder-surfing a config file,
// an accidental git commit) but is not a hardening boundary against a
// determined attacker who can brute-force offline. There is no KDF and no
// per-key salt or nonce, so identical passphrases always produce identical
// ciphertext for identical keys.
package keys

import (
	"fmt"

	"github.com/flynn/noise"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/portguard/portguard/internal/noiseik"
)

// KeypassLen is the fixed length a passphrase is padded or truncated to
// before being used directly as a ChaCha20-Poly1305 key.
const KeypassLen = chacha20poly1305.KeySize

// Generate produces a fresh X25519 static keypair for a client or server
// identity.
func Generate() (noise.DHKey, error) {
	return noiseik.GenerateKeypair()
}

// PublicFromPrivate derives the X25519 public key for a raw 32-byte scalar,
// for displaying a keypair's public half without needing the original
// generation call (list-key).
func PublicFromPrivate(priv []byte) ([32]byte, error) {
	var pub [32]byte
	if len(priv) != curve25519.ScalarSize {
		return pub, fmt.Errorf("keys: private key must be %d bytes, got %d", curve25519.ScalarSize, len(priv))
	}
	out, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return pub, fmt.Errorf("keys: derive public key: %w", err)
	}
	copy(pub[:], out)
	return pub, nil
}

// padPassphrase reduces an arbitrary-length passphrase to exactly
// KeypassLen bytes: truncated if longer, zero-padded if shorter.
func padPassphrase(passphrase string) [KeypassLen]byte {
	var key [KeypassLen]byte
	copy(key[:], passphrase)
	return key
}

// Encrypt seals priv (expected to be a raw 32-byte X25519 private key)
// under passphrase, returning a 48-byte ciphertext (32-byte payload plus
// the 16-byte Poly1305 tag). The nonce is fixed at all-zeros and nothing
// here prevents a passphrase from being used for more than one Seal call,
// so the same AEAD key and nonce can repeat; this is the at-rest
// obfuscation described in the package comment, not strong encryption.
func Encrypt(priv []byte, passphrase string) ([]byte, error) {
	key := padPassphrase(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("keys: build aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	return aead.Seal(nil, nonce, priv, nil), nil
}

// Decrypt reverses Encrypt. It fails with an authentication error if
// passphrase does not match the one Encrypt was called with.
func Decrypt(ciphertext []byte, passphrase string) ([]byte, error) {
	key := padPassphrase(passphrase)
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("keys: build aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("keys: wrong passphrase or corrupt key: %w", err)
	}
	return plaintext, nil
}

package pace

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// KeyPair holds the card-side ephemeral key pair as raw bytes so backends
// with different curve representations can share the engine.
type KeyPair struct {
	Private []byte
	Public  []byte
}

// KeyAgreement generates the card's ephemeral key pair and derives the
// shared secret with the terminal. The engine state machines never touch
// curve arithmetic directly, so a different backend can be substituted
// without changing protocol behavior.
type KeyAgreement interface {
	// GenerateKeyPair creates a fresh ephemeral key pair for one session.
	GenerateKeyPair() (KeyPair, error)

	// SharedSecret derives the shared secret from the card's key pair and
	// the terminal's public key bytes.
	SharedSecret(card KeyPair, terminalPublic []byte) ([]byte, error)
}

// SimulatedKeyAgreement is the default backend. It generates a real P-256
// key pair but derives the shared secret by hashing the concatenated public
// keys instead of performing a curve multiplication. The resulting values
// are deterministic for a given key pair exchange, which reader test suites
// rely on; it is not a substitute for real ECDH.
type SimulatedKeyAgreement struct{}

func (SimulatedKeyAgreement) GenerateKeyPair() (KeyPair, error) {
	return generateP256KeyPair()
}

func (SimulatedKeyAgreement) SharedSecret(card KeyPair, terminalPublic []byte) ([]byte, error) {
	if len(card.Public) == 0 {
		return nil, fmt.Errorf("pace: card public key is missing")
	}
	if len(terminalPublic) == 0 {
		return nil, fmt.Errorf("pace: terminal public key is missing")
	}

	digest := sha256.New()
	digest.Write(card.Public)
	digest.Write(terminalPublic)
	return digest.Sum(nil), nil
}

// ECDHKeyAgreement performs real elliptic-curve Diffie-Hellman on P-256.
// It requires the terminal to send a valid uncompressed P-256 point.
type ECDHKeyAgreement struct{}

func (ECDHKeyAgreement) GenerateKeyPair() (KeyPair, error) {
	return generateP256KeyPair()
}

func (ECDHKeyAgreement) SharedSecret(card KeyPair, terminalPublic []byte) ([]byte, error) {
	curve := ecdh.P256()

	private, err := curve.NewPrivateKey(card.Private)
	if err != nil {
		return nil, fmt.Errorf("pace: invalid card private key: %w", err)
	}
	public, err := curve.NewPublicKey(terminalPublic)
	if err != nil {
		return nil, fmt.Errorf("pace: invalid terminal public key: %w", err)
	}

	secret, err := private.ECDH(public)
	if err != nil {
		return nil, fmt.Errorf("pace: key agreement failed: %w", err)
	}
	return secret, nil
}

func generateP256KeyPair() (KeyPair, error) {
	private, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("pace: failed to generate ephemeral key pair: %w", err)
	}
	return KeyPair{
		Private: private.Bytes(),
		Public:  private.PublicKey().Bytes(),
	}, nil
}

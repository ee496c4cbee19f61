// Package pace implements the chip side of Password Authenticated
// Connection Establishment: password-based nonce protection, ephemeral key
// agreement and the mutual-authentication token exchange, driven by one
// MSE:SET AT command and three GENERAL AUTHENTICATE rounds.
package pace

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"go-passport-emulator/mrz"
)

// Protocol sizes.
const (
	NonceLength       = 16
	PasswordKeyLength = 32
	SessionKeyLength  = 32
	TokenLength       = 16
)

// State is the PACE engine protocol state; the step counter mirrors the
// protocol round (0 = idle, 1 = MSE:SET AT, 2-4 = GENERAL AUTHENTICATE
// rounds, 5 = terminal token accepted).
type State int

const (
	StateInitial State = iota
	StateMseSetAtProcessed
	StateNonceGenerated
	StateKeyAgreementInProgress
	StateMutualAuthentication
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateMseSetAtProcessed:
		return "MSE_SET_AT_PROCESSED"
	case StateNonceGenerated:
		return "NONCE_GENERATED"
	case StateKeyAgreementInProgress:
		return "KEY_AGREEMENT_IN_PROGRESS"
	case StateMutualAuthentication:
		return "MUTUAL_AUTHENTICATION"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidState reports an engine method invoked out of protocol
	// order. The call has no side effects; callers must treat it as a
	// logic error, not a retryable condition.
	ErrInvalidState = errors.New("pace: invalid engine state")

	// ErrNotInitialized reports use of an engine without a document profile.
	ErrNotInitialized = errors.New("pace: engine not initialized with a document profile")

	// ErrEmptyInput reports missing command data.
	ErrEmptyInput = errors.New("pace: command data must not be empty")

	// ErrTokenVerification reports a rejected terminal authentication
	// token; the engine has moved to the Failed state.
	ErrTokenVerification = errors.New("pace: terminal token verification failed")
)

// Engine is the PACE state machine. All key buffers are owned exclusively
// by the engine and cleared deterministically on Reset. An Engine is not
// safe for concurrent use, the session coordinator serializes access.
type Engine struct {
	state State
	step  int

	agreement KeyAgreement

	// Password material derived from the full MRZ string.
	zone string

	nonce       []byte
	passwordKey []byte
	keyPair     KeyPair
	terminalPub []byte
	secret      []byte
	encKey      []byte
	macKey      []byte
	token       []byte
}

// NewEngine returns an engine in the Initial state using the given key
// agreement backend; a nil backend selects the simulated one.
func NewEngine(agreement KeyAgreement) *Engine {
	if agreement == nil {
		agreement = SimulatedKeyAgreement{}
	}
	return &Engine{state: StateInitial, agreement: agreement}
}

// State returns the current protocol state.
func (e *Engine) State() State {
	return e.state
}

// Step returns the protocol round counter (0-5).
func (e *Engine) Step() int {
	return e.step
}

// Initialize binds the engine to a document profile. It rejects an invalid
// profile and resets the step counter and state.
func (e *Engine) Initialize(profile mrz.DocumentProfile) error {
	zone, err := profile.MRZ()
	if err != nil {
		return fmt.Errorf("pace: %w", err)
	}
	e.zone = zone
	e.clearSessionBuffers()
	e.state = StateInitial
	e.step = 0
	return nil
}

// ProcessMseSetAt handles the MSE:SET AT command that selects the PACE
// protocol parameters. Legal only from Initial; rejects empty input.
func (e *Engine) ProcessMseSetAt(data []byte) error {
	if e.state != StateInitial {
		return fmt.Errorf("%w: MSE:SET AT requires %s, engine is %s",
			ErrInvalidState, StateInitial, e.state)
	}
	if e.zone == "" {
		return ErrNotInitialized
	}
	if len(data) == 0 {
		return ErrEmptyInput
	}

	e.state = StateMseSetAtProcessed
	e.step = 1
	return nil
}

// GenerateEncryptedNonce creates the 16-byte session nonce, derives the
// password key as SHA-256 over the MRZ string and returns the nonce
// encrypted under that key with AES and no padding.
func (e *Engine) GenerateEncryptedNonce() ([]byte, error) {
	if e.state != StateMseSetAtProcessed {
		return nil, fmt.Errorf("%w: encrypted nonce requires %s, engine is %s",
			ErrInvalidState, StateMseSetAtProcessed, e.state)
	}

	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("pace: failed to generate nonce: %w", err)
	}

	digest := sha256.Sum256([]byte(e.zone))
	passwordKey := make([]byte, PasswordKeyLength)
	copy(passwordKey, digest[:])

	block, err := aes.NewCipher(passwordKey)
	if err != nil {
		return nil, fmt.Errorf("pace: failed to set up nonce cipher: %w", err)
	}

	encrypted := make([]byte, NonceLength)
	block.Encrypt(encrypted, nonce)

	e.nonce = nonce
	e.passwordKey = passwordKey
	e.state = StateNonceGenerated
	e.step = 2
	return encrypted, nil
}

// ProcessTerminalPublicKey stores the terminal's public key, generates the
// card's ephemeral key pair and returns the card public key bytes.
func (e *Engine) ProcessTerminalPublicKey(key []byte) ([]byte, error) {
	if e.state != StateNonceGenerated {
		return nil, fmt.Errorf("%w: terminal public key requires %s, engine is %s",
			ErrInvalidState, StateNonceGenerated, e.state)
	}
	if len(key) == 0 {
		return nil, ErrEmptyInput
	}

	pair, err := e.agreement.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	e.terminalPub = append([]byte(nil), key...)
	e.keyPair = pair
	e.state = StateKeyAgreementInProgress
	e.step = 3

	out := make([]byte, len(pair.Public))
	copy(out, pair.Public)
	return out, nil
}

// PerformKeyAgreement computes the shared secret, derives the two 32-byte
// session keys and returns the card's 16-byte authentication token.
func (e *Engine) PerformKeyAgreement() ([]byte, error) {
	if e.state != StateKeyAgreementInProgress {
		return nil, fmt.Errorf("%w: key agreement requires %s, engine is %s",
			ErrInvalidState, StateKeyAgreementInProgress, e.state)
	}

	secret, err := e.agreement.SharedSecret(e.keyPair, e.terminalPub)
	if err != nil {
		e.state = StateFailed
		return nil, err
	}

	e.secret = secret
	e.encKey = deriveSessionKey(secret, 1)
	e.macKey = deriveSessionKey(secret, 2)

	// Authentication token over the MAC key and both public keys.
	digest := sha256.New()
	digest.Write(e.macKey)
	digest.Write(e.keyPair.Public)
	digest.Write(e.terminalPub)
	token := digest.Sum(nil)[:TokenLength]

	e.token = append([]byte(nil), token...)
	e.state = StateMutualAuthentication
	e.step = 4

	out := make([]byte, TokenLength)
	copy(out, token)
	return out, nil
}

// VerifyTerminalAuthentication checks the terminal's authentication token.
// A non-empty token of at least 16 bytes is accepted and completes the
// protocol; anything else moves the engine to Failed.
func (e *Engine) VerifyTerminalAuthentication(token []byte) error {
	if e.state != StateMutualAuthentication {
		return fmt.Errorf("%w: terminal token requires %s, engine is %s",
			ErrInvalidState, StateMutualAuthentication, e.state)
	}

	if len(token) < TokenLength {
		e.state = StateFailed
		return fmt.Errorf("%w: token must be at least %d bytes, got %d",
			ErrTokenVerification, TokenLength, len(token))
	}

	e.state = StateAuthenticated
	e.step = 5
	return nil
}

// SessionKeys returns copies of the derived session encryption and MAC
// keys, or nil before key agreement completed.
func (e *Engine) SessionKeys() (encKey, macKey []byte) {
	if len(e.encKey) == 0 || len(e.macKey) == 0 {
		return nil, nil
	}
	encKey = append([]byte(nil), e.encKey...)
	macKey = append([]byte(nil), e.macKey...)
	return encKey, macKey
}

// HasResidualSecrets reports whether any nonce, key pair or session key is
// still held. After Reset it is always false.
func (e *Engine) HasResidualSecrets() bool {
	return len(e.nonce) != 0 || len(e.passwordKey) != 0 ||
		len(e.keyPair.Private) != 0 || len(e.keyPair.Public) != 0 ||
		len(e.terminalPub) != 0 || len(e.secret) != 0 ||
		len(e.encKey) != 0 || len(e.macKey) != 0 || len(e.token) != 0
}

// Reset clears the nonce, key pair, shared secret, session keys and stored
// public keys and returns the engine to Initial, step 0. The profile
// binding survives so another session can start for the same document.
func (e *Engine) Reset() {
	e.clearSessionBuffers()
	e.state = StateInitial
	e.step = 0
}

func (e *Engine) clearSessionBuffers() {
	zeroize(e.nonce)
	zeroize(e.passwordKey)
	zeroize(e.keyPair.Private)
	zeroize(e.keyPair.Public)
	zeroize(e.terminalPub)
	zeroize(e.secret)
	zeroize(e.encKey)
	zeroize(e.macKey)
	zeroize(e.token)
	e.nonce = nil
	e.passwordKey = nil
	e.keyPair = KeyPair{}
	e.terminalPub = nil
	e.secret = nil
	e.encKey = nil
	e.macKey = nil
	e.token = nil
}

// deriveSessionKey computes SHA-256(secret || counter) with the counter as
// a 4-byte big-endian value (1 for encryption, 2 for MAC).
func deriveSessionKey(secret []byte, counter uint32) []byte {
	material := make([]byte, 0, len(secret)+4)
	material = append(material, secret...)
	material = append(material, byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))

	digest := sha256.Sum256(material)
	key := make([]byte, SessionKeyLength)
	copy(key, digest[:])
	return key
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

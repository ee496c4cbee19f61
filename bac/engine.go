// Package bac implements the chip side of Basic Access Control: key
// derivation from the machine readable zone, challenge issuance and
// verification of the terminal's EXTERNAL AUTHENTICATE payload.
package bac

import (
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"

	"go-passport-emulator/mrz"
)

// Key and payload sizes fixed by the protocol.
const (
	SeedLength      = 20
	KeyLength       = 16
	ChallengeLength = 8
	// MinAuthenticateLength is the minimum EXTERNAL AUTHENTICATE payload:
	// RND.IFD (8) + K.IFD (8) + cryptogram padding up to 32 bytes.
	MinAuthenticateLength = 32
	// ResponseLength is RND.IFD || RND.IC || K.IC.
	ResponseLength = 24
)

// State is the BAC engine protocol state. Authenticated and Failed are
// terminal for the session; only Reset returns the engine to Initial.
type State int

const (
	StateInitial State = iota
	StateChallengeGenerated
	StateAuthenticationInProgress
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateChallengeGenerated:
		return "CHALLENGE_GENERATED"
	case StateAuthenticationInProgress:
		return "AUTHENTICATION_IN_PROGRESS"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrInvalidState reports an engine method invoked from the wrong
	// protocol state. Callers must treat this as a logic error, not a
	// retryable condition.
	ErrInvalidState = errors.New("bac: invalid engine state")

	// ErrNotInitialized reports use of an engine without derived keys.
	ErrNotInitialized = errors.New("bac: engine not initialized with a document profile")

	// ErrAuthenticationFailed reports a rejected EXTERNAL AUTHENTICATE
	// payload; the engine has moved to the Failed state.
	ErrAuthenticationFailed = errors.New("bac: external authentication failed")
)

// Engine is the BAC state machine. It owns all session byte buffers
// exclusively; they are cleared deterministically on Reset. An Engine is
// not safe for concurrent use, the session coordinator serializes access.
type Engine struct {
	state State

	// Long-term keys derived from the MRZ. They survive Reset and are
	// only replaced by another Initialize.
	encKey []byte
	macKey []byte

	rndIC  []byte
	rndIFD []byte
	kIFD   []byte
}

// NewEngine returns an engine in the Initial state without key material.
func NewEngine() *Engine {
	return &Engine{state: StateInitial}
}

// State returns the current protocol state.
func (e *Engine) State() State {
	return e.state
}

// Initialized reports whether document keys have been derived.
func (e *Engine) Initialized() bool {
	return len(e.encKey) == KeyLength && len(e.macKey) == KeyLength
}

// Initialize derives the document access keys from the profile's MRZ. The
// key seed is the SHA-1 digest of the document number, date of birth and
// date of expiry fields of MRZ line 2, each including its check digit. The
// engine state remains Initial.
func (e *Engine) Initialize(profile mrz.DocumentProfile) error {
	zone, err := profile.MRZ()
	if err != nil {
		return fmt.Errorf("bac: %w", err)
	}

	seedInfo := zone[mrz.DocumentNumberStart:mrz.DocumentNumberEnd] +
		zone[mrz.BirthDateStart:mrz.BirthDateEnd] +
		zone[mrz.ExpiryDateStart:mrz.ExpiryDateEnd]

	seed := sha1.Sum([]byte(seedInfo))

	e.encKey = deriveKey(seed[:], 1)
	e.macKey = deriveKey(seed[:], 2)
	e.clearSessionBuffers()
	e.state = StateInitial
	return nil
}

// deriveKey computes a 16-byte key as SHA-1(seed || counter) truncated,
// with the counter encoded as a 4-byte big-endian value (1 for encryption,
// 2 for MAC).
func deriveKey(seed []byte, counter uint32) []byte {
	material := make([]byte, 0, len(seed)+4)
	material = append(material, seed...)
	material = append(material, byte(counter>>24), byte(counter>>16), byte(counter>>8), byte(counter))

	digest := sha1.Sum(material)
	key := make([]byte, KeyLength)
	copy(key, digest[:KeyLength])
	return key
}

// GenerateChallenge produces and stores the 8-byte card challenge RND.IC.
// It is only legal from the Initial state.
func (e *Engine) GenerateChallenge() ([]byte, error) {
	if e.state != StateInitial {
		return nil, fmt.Errorf("%w: generate challenge requires %s, engine is %s",
			ErrInvalidState, StateInitial, e.state)
	}
	if !e.Initialized() {
		return nil, ErrNotInitialized
	}

	challenge := make([]byte, ChallengeLength)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("bac: failed to generate RND.IC: %w", err)
	}

	e.rndIC = challenge
	e.state = StateChallengeGenerated

	out := make([]byte, ChallengeLength)
	copy(out, challenge)
	return out, nil
}

// ProcessExternalAuthenticate verifies the terminal's authentication
// payload. On success it returns RND.IFD || RND.IC || K.IC and the engine
// becomes Authenticated; on any verification failure the engine becomes
// Failed and the returned error names the reason.
func (e *Engine) ProcessExternalAuthenticate(data []byte) ([]byte, error) {
	if e.state != StateChallengeGenerated {
		return nil, fmt.Errorf("%w: external authenticate requires %s, engine is %s",
			ErrInvalidState, StateChallengeGenerated, e.state)
	}

	e.state = StateAuthenticationInProgress

	if len(data) < MinAuthenticateLength {
		e.state = StateFailed
		return nil, fmt.Errorf("%w: payload must be at least %d bytes, got %d",
			ErrAuthenticationFailed, MinAuthenticateLength, len(data))
	}
	if len(e.rndIC) != ChallengeLength {
		e.state = StateFailed
		return nil, fmt.Errorf("%w: card challenge is missing", ErrAuthenticationFailed)
	}
	if !e.Initialized() {
		e.state = StateFailed
		return nil, fmt.Errorf("%w: document keys are missing", ErrAuthenticationFailed)
	}

	e.rndIFD = append([]byte(nil), data[0:8]...)
	e.kIFD = append([]byte(nil), data[8:16]...)

	kIC := make([]byte, 8)
	if _, err := rand.Read(kIC); err != nil {
		e.state = StateFailed
		return nil, fmt.Errorf("bac: failed to generate K.IC: %w", err)
	}

	response := make([]byte, 0, ResponseLength)
	response = append(response, e.rndIFD...)
	response = append(response, e.rndIC...)
	response = append(response, kIC...)

	e.state = StateAuthenticated
	return response, nil
}

// Reset clears the per-session buffers (RND.IC, RND.IFD, K.IFD) and
// returns the engine to Initial. The long-term keys derived from the MRZ
// are kept so a session can be restarted for the same document.
func (e *Engine) Reset() {
	e.clearSessionBuffers()
	e.state = StateInitial
}

func (e *Engine) clearSessionBuffers() {
	zeroize(e.rndIC)
	zeroize(e.rndIFD)
	zeroize(e.kIFD)
	e.rndIC = nil
	e.rndIFD = nil
	e.kIFD = nil
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

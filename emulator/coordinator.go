// Package emulator coordinates one emulated passport chip session: it
// routes parsed command APDUs to the BAC and PACE engines, tracks the
// session lifecycle and reports it as events.
package emulator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go-passport-emulator/apdu"
	"go-passport-emulator/bac"
	"go-passport-emulator/mrz"
	"go-passport-emulator/pace"
)

// SessionState is the coordinator lifecycle state for one card connection.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateSelected
	StateBacRunning
	StatePaceRunning
	StateAuthenticated
	StateClosed
	StateError
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateSelected:
		return "SELECTED"
	case StateBacRunning:
		return "BAC_RUNNING"
	case StatePaceRunning:
		return "PACE_RUNNING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// efComStub is the fixed EF.COM-style content served by READ BINARY after
// authentication; data groups are outside the emulator's scope.
var efComStub = []byte{
	0x60, 0x14,
	0x5F, 0x01, 0x04, '0', '1', '0', '7',
	0x5F, 0x36, 0x06, '0', '4', '0', '0', '0', '0',
	0x5C, 0x02, 0x61, 0x75,
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithKeyAgreement selects the PACE key agreement backend.
func WithKeyAgreement(agreement pace.KeyAgreement) Option {
	return func(c *Coordinator) {
		c.keyAgreement = agreement
	}
}

// Coordinator owns the active protocol session for one emulated device.
// All command processing is serialized behind a single mutex; mutable
// session state is never shared across sessions.
type Coordinator struct {
	mu sync.Mutex

	state        SessionState
	profile      mrz.DocumentProfile
	bacEngine    *bac.Engine
	paceEngine   *pace.Engine
	keyAgreement pace.KeyAgreement
	sink         EventSink
}

// NewCoordinator validates the profile, initializes both protocol engines
// and returns a session in the Uninitialized state. A nil sink discards
// events.
func NewCoordinator(profile mrz.DocumentProfile, sink EventSink, opts ...Option) (*Coordinator, error) {
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("emulator: invalid document profile: %w", err)
	}

	c := &Coordinator{
		state:   StateUninitialized,
		profile: profile,
		sink:    sink,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.bacEngine = bac.NewEngine()
	if err := c.bacEngine.Initialize(profile); err != nil {
		return nil, err
	}
	c.paceEngine = pace.NewEngine(c.keyAgreement)
	if err := c.paceEngine.Initialize(profile); err != nil {
		return nil, err
	}

	return c, nil
}

// State returns the current session state.
func (c *Coordinator) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProcessCommand parses one raw command APDU, dispatches it and returns
// the full response bytes ending in a status word. It never panics; an
// unexpected internal error forces the session to Error and answers with
// an error status word.
func (c *Coordinator) ProcessCommand(raw []byte) (response []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			c.state = StateError
			c.emit(EventError, "internal error while processing command", map[string]string{
				"panic": fmt.Sprint(r),
			})
			response = apdu.StatusResponse(apdu.SWUnknown)
		}
	}()

	cmd := apdu.Parse(raw)

	switch cmd.Kind {
	case apdu.KindInvalid, apdu.KindUnsupported:
		return apdu.StatusResponse(cmd.SW)

	case apdu.KindSelect:
		return c.handleSelect(cmd)

	case apdu.KindGetChallenge:
		return c.handleGetChallenge()

	case apdu.KindExternalAuthenticate:
		return c.handleExternalAuthenticate(cmd)

	case apdu.KindMseSetAT:
		return c.handleMseSetAt(cmd)

	case apdu.KindGeneralAuthenticate:
		return c.handleGeneralAuthenticate(cmd)

	case apdu.KindInternalAuthenticate:
		return c.requireAuthenticated(func() []byte {
			// Active authentication is out of scope; answer with the
			// card challenge stub so readers can complete their flow.
			return c.respond(make([]byte, 8))
		})

	case apdu.KindReadBinary:
		return c.requireAuthenticated(func() []byte {
			return c.respond(efComStub)
		})

	default:
		return apdu.StatusResponse(apdu.SWInstructionNotSupported)
	}
}

func (c *Coordinator) handleSelect(cmd apdu.Command) []byte {
	if !cmd.Valid {
		// Unknown application; the session state is untouched.
		return apdu.StatusResponse(cmd.SW)
	}

	previous := c.state
	c.bacEngine.Reset()
	c.paceEngine.Reset()
	c.state = StateSelected

	if previous == StateUninitialized || previous == StateClosed {
		c.emit(EventConnectionEstablished, "passport application selected", map[string]string{
			"aid": hex.EncodeToString(cmd.Data),
		})
	}
	return apdu.StatusResponse(apdu.SWSuccess)
}

func (c *Coordinator) handleGetChallenge() []byte {
	if c.state == StateSelected {
		c.state = StateBacRunning
		c.emit(EventBacRequest, "BAC authentication requested", nil)
	}
	if c.state != StateBacRunning {
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}

	challenge, err := c.bacEngine.GenerateChallenge()
	if err != nil {
		return c.protocolFailure("GET CHALLENGE rejected", err)
	}
	return c.respond(challenge)
}

func (c *Coordinator) handleExternalAuthenticate(cmd apdu.Command) []byte {
	if c.state != StateBacRunning {
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}

	response, err := c.bacEngine.ProcessExternalAuthenticate(cmd.Data)
	if err != nil {
		if errors.Is(err, bac.ErrAuthenticationFailed) {
			c.state = StateError
			c.emit(EventAuthFailure, "BAC authentication failed", map[string]string{
				"reason": err.Error(),
			})
			return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
		}
		return c.protocolFailure("EXTERNAL AUTHENTICATE rejected", err)
	}

	c.state = StateAuthenticated
	c.emit(EventAuthSuccess, "BAC authentication succeeded", map[string]string{
		"protocol": "BAC",
	})
	return c.respond(response)
}

func (c *Coordinator) handleMseSetAt(cmd apdu.Command) []byte {
	if c.state != StateSelected && c.state != StatePaceRunning {
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}

	// The engine validates before the session commits to PACE, so a
	// rejected payload leaves no pace-request in the event log.
	if err := c.paceEngine.ProcessMseSetAt(cmd.Data); err != nil {
		if errors.Is(err, pace.ErrEmptyInput) {
			return apdu.StatusResponse(apdu.SWWrongLength)
		}
		return c.protocolFailure("MSE:SET AT rejected", err)
	}

	if c.state == StateSelected {
		c.state = StatePaceRunning
		c.emit(EventPaceRequest, "PACE authentication requested", nil)
	}
	return apdu.StatusResponse(apdu.SWSuccess)
}

func (c *Coordinator) handleGeneralAuthenticate(cmd apdu.Command) []byte {
	if c.state != StatePaceRunning {
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}

	switch c.paceEngine.State() {
	case pace.StateMseSetAtProcessed:
		encryptedNonce, err := c.paceEngine.GenerateEncryptedNonce()
		if err != nil {
			return c.protocolFailure("PACE nonce generation rejected", err)
		}
		return c.respond(encryptedNonce)

	case pace.StateNonceGenerated:
		cardPublic, err := c.paceEngine.ProcessTerminalPublicKey(cmd.Data)
		if err != nil {
			if errors.Is(err, pace.ErrEmptyInput) {
				return apdu.StatusResponse(apdu.SWWrongLength)
			}
			return c.protocolFailure("PACE key exchange rejected", err)
		}
		return c.respond(cardPublic)

	case pace.StateKeyAgreementInProgress:
		token, err := c.paceEngine.PerformKeyAgreement()
		if err == nil {
			err = c.paceEngine.VerifyTerminalAuthentication(cmd.Data)
		}
		if err != nil {
			c.state = StateError
			c.emit(EventAuthFailure, "PACE authentication failed", map[string]string{
				"reason": err.Error(),
			})
			return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
		}

		c.state = StateAuthenticated
		c.emit(EventAuthSuccess, "PACE authentication succeeded", map[string]string{
			"protocol": "PACE",
		})
		return c.respond(token)

	default:
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}
}

// Deactivate resets both engines, clears all key material and closes the
// session. It is safe to call at any time, including mid-authentication,
// and is idempotent.
func (c *Coordinator) Deactivate(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	c.bacEngine.Reset()
	c.paceEngine.Reset()
	c.state = StateClosed

	if reason == "" {
		reason = "deactivated"
	}
	c.emit(EventConnectionLost, "connection lost", map[string]string{
		"reason": reason,
	})
}

func (c *Coordinator) requireAuthenticated(handler func() []byte) []byte {
	if c.state != StateAuthenticated {
		return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
	}
	return handler()
}

// protocolFailure reports a command the engines refused for sequencing
// reasons; the session itself stays usable.
func (c *Coordinator) protocolFailure(message string, err error) []byte {
	c.emit(EventError, message, map[string]string{
		"reason": err.Error(),
	})
	return apdu.StatusResponse(apdu.SWSecurityStatusNotSatisfied)
}

func (c *Coordinator) respond(data []byte) []byte {
	response, err := apdu.Response(data, apdu.SWSuccess)
	if err != nil {
		c.state = StateError
		c.emit(EventError, "failed to frame response", map[string]string{
			"reason": err.Error(),
		})
		return apdu.StatusResponse(apdu.SWUnknown)
	}
	return response
}

func (c *Coordinator) emit(kind EventKind, message string, details map[string]string) {
	if c.sink == nil {
		return
	}
	c.sink.Emit(Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Message:   message,
		Details:   details,
	})
}

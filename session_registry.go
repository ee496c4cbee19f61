package main

import (
	"fmt"
	"sync"

	"go-passport-emulator/emulator"
	"go-passport-emulator/mrz"
	"go-passport-emulator/pace"

	"github.com/google/uuid"
)

// Session couples one emulated chip with the event buffer its
// coordinator reports into.
type Session struct {
	Coordinator *emulator.Coordinator
	Events      *emulator.EventBuffer
}

// SessionRegistry tracks all live emulation sessions by id.
// Safe for concurrent use.
type SessionRegistry struct {
	mutex    sync.Mutex
	sessions map[string]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// CreateSession builds a coordinator for the profile and registers it
// under a fresh session id.
func (r *SessionRegistry) CreateSession(profile mrz.DocumentProfile, agreement pace.KeyAgreement) (string, error) {
	events := emulator.NewEventBuffer(emulator.DefaultEventCap)

	var opts []emulator.Option
	if agreement != nil {
		opts = append(opts, emulator.WithKeyAgreement(agreement))
	}

	coordinator, err := emulator.NewCoordinator(profile, events, opts...)
	if err != nil {
		return "", err
	}

	sessionId := uuid.New().String()

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sessions[sessionId] = &Session{
		Coordinator: coordinator,
		Events:      events,
	}
	return sessionId, nil
}

func (r *SessionRegistry) Lookup(sessionId string) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if session, ok := r.sessions[sessionId]; ok {
		return session, nil
	}
	return nil, fmt.Errorf("failed to find session for %s", sessionId)
}

// Deactivate closes the session's coordinator. The session stays in the
// registry so its event log remains queryable; deactivating an already
// closed session is a no-op.
func (r *SessionRegistry) Deactivate(sessionId string, reason string) error {
	session, err := r.Lookup(sessionId)
	if err != nil {
		return err
	}
	session.Coordinator.Deactivate(reason)
	return nil
}

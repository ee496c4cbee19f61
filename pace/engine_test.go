package pace

import (
	"testing"
	"time"

	"go-passport-emulator/mrz"

	"github.com/stretchr/testify/require"
)

func testProfile() mrz.DocumentProfile {
	return mrz.DocumentProfile{
		DocumentNumber: "L898902C3",
		FirstName:      "Anna",
		LastName:       "Eriksson",
		Nationality:    "NLD",
		IssuingCountry: "NLD",
		DateOfBirth:    time.Date(1974, time.August, 12, 0, 0, 0, 0, time.UTC),
		DateOfExpiry:   time.Now().AddDate(4, 0, 0),
		Gender:         "F",
	}
}

func initializedEngine(t *testing.T) *Engine {
	t.Helper()
	engine := NewEngine(nil)
	require.NoError(t, engine.Initialize(testProfile()))
	return engine
}

// runUntil drives the engine through the protocol up to (excluding) the
// named state and returns the terminal public key that was used.
func runUntil(t *testing.T, engine *Engine, target State) []byte {
	t.Helper()
	terminalPub := make([]byte, 65)
	for i := range terminalPub {
		terminalPub[i] = byte(i + 1)
	}

	if target == StateMseSetAtProcessed {
		return terminalPub
	}
	require.NoError(t, engine.ProcessMseSetAt([]byte{0x80, 0x0A}))
	if target == StateNonceGenerated {
		return terminalPub
	}
	_, err := engine.GenerateEncryptedNonce()
	require.NoError(t, err)
	if target == StateKeyAgreementInProgress {
		return terminalPub
	}
	_, err = engine.ProcessTerminalPublicKey(terminalPub)
	require.NoError(t, err)
	if target == StateMutualAuthentication {
		return terminalPub
	}
	_, err = engine.PerformKeyAgreement()
	require.NoError(t, err)
	return terminalPub
}

func TestInitialize(t *testing.T) {
	t.Run("valid profile resets state and step", func(t *testing.T) {
		engine := initializedEngine(t)
		require.Equal(t, StateInitial, engine.State())
		require.Equal(t, 0, engine.Step())
	})

	t.Run("invalid profile is rejected", func(t *testing.T) {
		profile := testProfile()
		profile.Gender = "Q"
		engine := NewEngine(nil)
		require.Error(t, engine.Initialize(profile))
	})
}

func TestProtocolSequence(t *testing.T) {
	engine := initializedEngine(t)

	require.NoError(t, engine.ProcessMseSetAt([]byte{0x80, 0x0A}))
	require.Equal(t, StateMseSetAtProcessed, engine.State())
	require.Equal(t, 1, engine.Step())

	encryptedNonce, err := engine.GenerateEncryptedNonce()
	require.NoError(t, err)
	require.Len(t, encryptedNonce, NonceLength)
	require.Equal(t, StateNonceGenerated, engine.State())
	require.Equal(t, 2, engine.Step())
	require.NotEqual(t, engine.nonce, encryptedNonce)

	terminalPub := make([]byte, 65)
	cardPub, err := engine.ProcessTerminalPublicKey(terminalPub)
	require.NoError(t, err)
	require.NotEmpty(t, cardPub)
	require.Equal(t, StateKeyAgreementInProgress, engine.State())
	require.Equal(t, 3, engine.Step())

	token, err := engine.PerformKeyAgreement()
	require.NoError(t, err)
	require.Len(t, token, TokenLength)
	require.Equal(t, StateMutualAuthentication, engine.State())
	require.Equal(t, 4, engine.Step())

	encKey, macKey := engine.SessionKeys()
	require.Len(t, encKey, SessionKeyLength)
	require.Len(t, macKey, SessionKeyLength)
	require.NotEqual(t, encKey, macKey)

	require.NoError(t, engine.VerifyTerminalAuthentication(make([]byte, TokenLength)))
	require.Equal(t, StateAuthenticated, engine.State())
	require.Equal(t, 5, engine.Step())
}

func TestOutOfOrderCallsFailWithoutSideEffects(t *testing.T) {
	t.Run("MSE:SET AT twice", func(t *testing.T) {
		engine := initializedEngine(t)
		require.NoError(t, engine.ProcessMseSetAt([]byte{0x01}))
		err := engine.ProcessMseSetAt([]byte{0x01})
		require.ErrorIs(t, err, ErrInvalidState)
		require.Equal(t, StateMseSetAtProcessed, engine.State())
		require.Equal(t, 1, engine.Step())
	})

	t.Run("nonce before MSE:SET AT", func(t *testing.T) {
		engine := initializedEngine(t)
		_, err := engine.GenerateEncryptedNonce()
		require.ErrorIs(t, err, ErrInvalidState)
		require.False(t, engine.HasResidualSecrets())
	})

	t.Run("key agreement before terminal key", func(t *testing.T) {
		engine := initializedEngine(t)
		runUntil(t, engine, StateKeyAgreementInProgress)
		_, err := engine.PerformKeyAgreement()
		require.ErrorIs(t, err, ErrInvalidState)
		require.Equal(t, StateNonceGenerated, engine.State())
		encKey, macKey := engine.SessionKeys()
		require.Nil(t, encKey)
		require.Nil(t, macKey)
	})

	t.Run("token verification before key agreement", func(t *testing.T) {
		engine := initializedEngine(t)
		err := engine.VerifyTerminalAuthentication(make([]byte, TokenLength))
		require.ErrorIs(t, err, ErrInvalidState)
		require.Equal(t, StateInitial, engine.State())
	})

	t.Run("error message names the violated state", func(t *testing.T) {
		engine := initializedEngine(t)
		_, err := engine.GenerateEncryptedNonce()
		require.ErrorContains(t, err, StateMseSetAtProcessed.String())
		require.ErrorContains(t, err, StateInitial.String())
	})
}

func TestInputValidation(t *testing.T) {
	t.Run("empty MSE:SET AT data", func(t *testing.T) {
		engine := initializedEngine(t)
		require.ErrorIs(t, engine.ProcessMseSetAt(nil), ErrEmptyInput)
		require.Equal(t, StateInitial, engine.State())
	})

	t.Run("uninitialized engine", func(t *testing.T) {
		engine := NewEngine(nil)
		require.ErrorIs(t, engine.ProcessMseSetAt([]byte{0x01}), ErrNotInitialized)
	})

	t.Run("empty terminal public key", func(t *testing.T) {
		engine := initializedEngine(t)
		runUntil(t, engine, StateKeyAgreementInProgress)
		_, err := engine.ProcessTerminalPublicKey(nil)
		require.ErrorIs(t, err, ErrEmptyInput)
		require.Equal(t, StateNonceGenerated, engine.State())
	})

	t.Run("short terminal token moves engine to Failed", func(t *testing.T) {
		engine := initializedEngine(t)
		runUntil(t, engine, StateAuthenticated)
		err := engine.VerifyTerminalAuthentication([]byte{0x01, 0x02})
		require.ErrorIs(t, err, ErrTokenVerification)
		require.Equal(t, StateFailed, engine.State())
	})
}

func TestSimulatedSecretIsDeterministic(t *testing.T) {
	backend := SimulatedKeyAgreement{}
	card := KeyPair{Private: []byte{0x01}, Public: []byte{0x02, 0x03}}
	terminal := []byte{0x04, 0x05}

	first, err := backend.SharedSecret(card, terminal)
	require.NoError(t, err)
	second, err := backend.SharedSecret(card, terminal)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Len(t, first, 32)
}

func TestECDHKeyAgreement(t *testing.T) {
	backend := ECDHKeyAgreement{}

	card, err := backend.GenerateKeyPair()
	require.NoError(t, err)
	terminal, err := backend.GenerateKeyPair()
	require.NoError(t, err)

	cardSecret, err := backend.SharedSecret(card, terminal.Public)
	require.NoError(t, err)
	terminalSecret, err := backend.SharedSecret(terminal, card.Public)
	require.NoError(t, err)
	require.Equal(t, cardSecret, terminalSecret)

	t.Run("rejects malformed terminal point", func(t *testing.T) {
		_, err := backend.SharedSecret(card, []byte{0x01, 0x02})
		require.Error(t, err)
	})
}

func TestReset(t *testing.T) {
	engine := initializedEngine(t)
	runUntil(t, engine, StateAuthenticated)
	require.NoError(t, engine.VerifyTerminalAuthentication(make([]byte, TokenLength)))
	require.True(t, engine.HasResidualSecrets())

	engine.Reset()
	require.Equal(t, StateInitial, engine.State())
	require.Equal(t, 0, engine.Step())
	require.False(t, engine.HasResidualSecrets())
	encKey, macKey := engine.SessionKeys()
	require.Nil(t, encKey)
	require.Nil(t, macKey)

	// The profile binding survives, a new round can start immediately.
	require.NoError(t, engine.ProcessMseSetAt([]byte{0x01}))
}

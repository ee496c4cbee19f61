package main

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"testing"

	"go-passport-emulator/models"

	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	resp, body, health := getJSON[map[string]bool](t, testServerURL+"/api/health")
	mustStatus(t, resp, http.StatusOK, body)
	require.True(t, (*health)["ok"])
}

func TestRegisterProfile(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	t.Run("valid profile", func(t *testing.T) {
		resp, body, pr := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", testProfileRequest())
		mustStatus(t, resp, http.StatusOK, body)
		require.NotEmpty(t, pr.ProfileId)
		require.Len(t, pr.Mrz, 88)
		require.Contains(t, pr.Mrz, "ERIKSSON<<ANNA<MARIA")
	})

	t.Run("one-letter country code", func(t *testing.T) {
		request := testProfileRequest()
		request.Nationality = "D"
		request.IssuingCountry = "D"
		resp, body, pr := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", request)
		mustStatus(t, resp, http.StatusOK, body)
		require.Len(t, pr.Mrz, 88)
		require.Contains(t, pr.Mrz, "P<D<<")
	})

	t.Run("non-ASCII name", func(t *testing.T) {
		request := testProfileRequest()
		request.FirstName = "Żofia"
		resp, body, _ := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("invalid document number", func(t *testing.T) {
		request := testProfileRequest()
		request.DocumentNumber = "x!"
		resp, body, _ := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("unknown country", func(t *testing.T) {
		request := testProfileRequest()
		request.Nationality = "ZZZ"
		resp, body, _ := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("malformed date", func(t *testing.T) {
		request := testProfileRequest()
		request.DateOfBirth = "12-08-1974"
		resp, body, _ := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("GET rejected", func(t *testing.T) {
		resp, err := http.Get(testServerURL + "/api/register-profile")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestStartSession(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	t.Run("with stored profile", func(t *testing.T) {
		profileId := registerTestProfile(t)
		sessionId := startTestSession(t, profileId)
		require.NotEmpty(t, sessionId)
	})

	t.Run("with inline profile", func(t *testing.T) {
		profile := testProfileRequest()
		request := models.StartSessionRequest{Profile: &profile}
		resp, body, sr := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", request)
		mustStatus(t, resp, http.StatusOK, body)
		require.NotEmpty(t, sr.SessionId)
	})

	t.Run("with ecdh key agreement", func(t *testing.T) {
		profile := testProfileRequest()
		request := models.StartSessionRequest{Profile: &profile, KeyAgreement: "ecdh"}
		resp, body, sr := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", request)
		mustStatus(t, resp, http.StatusOK, body)
		require.NotEmpty(t, sr.SessionId)
	})

	t.Run("unknown profile id", func(t *testing.T) {
		request := models.StartSessionRequest{ProfileId: "does-not-exist"}
		resp, body, _ := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("missing profile and profile id", func(t *testing.T) {
		resp, body, _ := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", models.StartSessionRequest{})
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("unknown key agreement backend", func(t *testing.T) {
		profile := testProfileRequest()
		request := models.StartSessionRequest{Profile: &profile, KeyAgreement: "dh"}
		resp, body, _ := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})
}

func TestProcessCommandBacFlow(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	profileId := registerTestProfile(t)
	sessionId := startTestSession(t, profileId)

	selectResp := sendApdu(t, sessionId, selectApplicationApdu())
	require.Equal(t, "9000", selectResp.Sw)
	require.Equal(t, "SELECTED", selectResp.SessionState)

	challengeResp := sendApdu(t, sessionId, getChallengeApdu())
	require.Equal(t, "9000", challengeResp.Sw)
	require.Equal(t, "BAC_RUNNING", challengeResp.SessionState)

	challengeBytes, err := hex.DecodeString(challengeResp.ResponseHex)
	require.NoError(t, err)
	require.Len(t, challengeBytes, 10) // 8 challenge bytes + status word
	challenge := challengeBytes[:8]

	payload := make([]byte, 32)
	_, err = rand.Read(payload)
	require.NoError(t, err)
	copy(payload[8:16], challenge)

	authResp := sendApdu(t, sessionId, externalAuthenticateApdu(payload))
	require.Equal(t, "9000", authResp.Sw)
	require.Equal(t, "AUTHENTICATED", authResp.SessionState)

	t.Run("events reflect the flow", func(t *testing.T) {
		resp, body, events := getJSON[models.EventsResponse](t, testServerURL+"/api/events?session_id="+sessionId)
		mustStatus(t, resp, http.StatusOK, body)

		kinds := make([]string, 0, len(events.Events))
		for _, event := range events.Events {
			kinds = append(kinds, event.Kind)
		}
		require.Equal(t, []string{"connection-established", "bac-request", "auth-success"}, kinds)
	})

	t.Run("attestation available once authenticated", func(t *testing.T) {
		resp, body, attestation := getJSON[models.AttestationResponse](t, testServerURL+"/api/attestation?session_id="+sessionId)
		mustStatus(t, resp, http.StatusOK, body)
		require.Equal(t, "test-jwt", attestation.Jwt)
	})
}

func TestProcessCommandErrors(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	profileId := registerTestProfile(t)
	sessionId := startTestSession(t, profileId)

	t.Run("unknown session", func(t *testing.T) {
		request := models.CommandRequest{SessionId: "nope", ApduHex: "00a40400"}
		resp, body, _ := postJSON[models.CommandResponse](t, testServerURL+"/api/process-command", request)
		mustStatus(t, resp, http.StatusNotFound, body)
	})

	t.Run("invalid hex", func(t *testing.T) {
		request := models.CommandRequest{SessionId: sessionId, ApduHex: "zz"}
		resp, body, _ := postJSON[models.CommandResponse](t, testServerURL+"/api/process-command", request)
		mustStatus(t, resp, http.StatusBadRequest, body)
	})

	t.Run("truncated apdu gets a status word", func(t *testing.T) {
		cr := sendApdu(t, sessionId, []byte{0x00})
		require.Equal(t, "6700", cr.Sw)
	})

	t.Run("command before authentication", func(t *testing.T) {
		cr := sendApdu(t, sessionId, []byte{0x00, 0xB0, 0x00, 0x00, 0x10})
		require.Equal(t, "6982", cr.Sw)
	})
}

func TestAttestationRequiresAuthentication(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	profileId := registerTestProfile(t)
	sessionId := startTestSession(t, profileId)

	resp, body, _ := getJSON[models.AttestationResponse](t, testServerURL+"/api/attestation?session_id="+sessionId)
	mustStatus(t, resp, http.StatusConflict, body)
}

func TestDeactivateSession(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	profileId := registerTestProfile(t)
	sessionId := startTestSession(t, profileId)

	t.Run("deactivation closes the session", func(t *testing.T) {
		request := models.DeactivateRequest{SessionId: sessionId, Reason: "card removed"}
		resp, body, _ := postJSON[map[string]bool](t, testServerURL+"/api/deactivate", request)
		mustStatus(t, resp, http.StatusOK, body)

		cr := sendApdu(t, sessionId, selectApplicationApdu())
		require.Equal(t, "SELECTED", cr.SessionState) // select reopens a closed card
	})

	t.Run("deactivation is idempotent", func(t *testing.T) {
		request := models.DeactivateRequest{SessionId: sessionId, Reason: "card removed"}
		resp, body, _ := postJSON[map[string]bool](t, testServerURL+"/api/deactivate", request)
		mustStatus(t, resp, http.StatusOK, body)
	})

	t.Run("unknown session", func(t *testing.T) {
		request := models.DeactivateRequest{SessionId: "nope"}
		resp, body, _ := postJSON[map[string]bool](t, testServerURL+"/api/deactivate", request)
		mustStatus(t, resp, http.StatusNotFound, body)
	})
}

func TestEventsUnknownSession(t *testing.T) {
	startTestServer(t, NewInMemoryProfileStorage())

	resp, body, _ := getJSON[models.EventsResponse](t, testServerURL+"/api/events?session_id=nope")
	mustStatus(t, resp, http.StatusNotFound, body)
}

func TestProfileIdGeneration(t *testing.T) {
	profileId := GenerateProfileId()
	require.Len(t, profileId, 32)
}

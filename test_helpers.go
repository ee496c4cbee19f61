package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"go-passport-emulator/models"

	"github.com/stretchr/testify/require"
)

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

const testServerURL = "http://localhost:8081"

func startTestServer(t *testing.T, storage ProfileStorage) *Server {
	t.Helper()

	testState := &ServerState{
		profileStorage:     storage,
		registry:           NewSessionRegistry(),
		attestationCreator: fakeAttestationCreator{jwt: "test-jwt"},
	}

	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testServerURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return srv
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func getJSON[T any](t *testing.T, url string) (*http.Response, []byte, *T) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// Request builders

func testProfileRequest() models.RegisterProfileRequest {
	return models.RegisterProfileRequest{
		DocumentNumber: "L898902C3",
		FirstName:      "ANNA MARIA",
		LastName:       "ERIKSSON",
		Nationality:    "NLD",
		IssuingCountry: "NLD",
		DateOfBirth:    "1974-08-12",
		DateOfExpiry:   "2032-04-15",
		Gender:         "F",
	}
}

// bootstrap helpers

func registerTestProfile(t *testing.T) string {
	t.Helper()
	resp, body, pr := postJSON[models.RegisterProfileResponse](t, testServerURL+"/api/register-profile", testProfileRequest())
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, pr.ProfileId)
	require.Len(t, pr.Mrz, 88)
	return pr.ProfileId
}

func startTestSession(t *testing.T, profileId string) string {
	t.Helper()
	resp, body, sr := postJSON[models.StartSessionResponse](t, testServerURL+"/api/start-session", models.StartSessionRequest{ProfileId: profileId})
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	return sr.SessionId
}

func sendApdu(t *testing.T, sessionId string, apdu []byte) *models.CommandResponse {
	t.Helper()
	request := models.CommandRequest{
		SessionId: sessionId,
		ApduHex:   hex.EncodeToString(apdu),
	}
	resp, body, cr := postJSON[models.CommandResponse](t, testServerURL+"/api/process-command", request)
	mustStatus(t, resp, http.StatusOK, body)
	return cr
}

// APDU builders for the emulated applet.

func selectApplicationApdu() []byte {
	aid := []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}
	apdu := []byte{0x00, 0xA4, 0x04, 0x0C, byte(len(aid))}
	return append(apdu, aid...)
}

func getChallengeApdu() []byte {
	return []byte{0x00, 0x84, 0x00, 0x00, 0x08}
}

func externalAuthenticateApdu(payload []byte) []byte {
	apdu := []byte{0x00, 0x82, 0x00, 0x00, byte(len(payload))}
	return append(apdu, payload...)
}

// test doubles

type fakeAttestationCreator struct{ jwt string }

func (f fakeAttestationCreator) CreateSessionAttestation(_ string, _ string) (string, error) {
	return f.jwt, nil
}

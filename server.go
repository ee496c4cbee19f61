package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-passport-emulator/emulator"
	"go-passport-emulator/models"
	"go-passport-emulator/mrz"
	"go-passport-emulator/pace"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_PROFILE_INVALID = "invalid profile"
const ERR_PROFILE_STORE = "failed to store profile"
const ERR_PROFILE_RETRIEVAL = "failed to get profile from storage"
const ERR_SESSION_CREATE = "failed to create session"
const ERR_SESSION_UNKNOWN = "unknown session"
const ERR_APDU_DECODE = "failed to decode apdu hex"
const ERR_JWT_CREATION = "failed to create jwt"
const ERR_NOT_AUTHENTICATED = "session is not authenticated"

const DATE_FORMAT_CYMD = "2006-01-02"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	profileStorage     ProfileStorage
	registry           *SessionRegistry
	attestationCreator AttestationCreator
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/register-profile", func(w http.ResponseWriter, r *http.Request) {
		handleRegisterProfile(state, w, r)
	})
	router.HandleFunc("/api/start-session", func(w http.ResponseWriter, r *http.Request) {
		handleStartSession(state, w, r)
	})
	router.HandleFunc("/api/process-command", func(w http.ResponseWriter, r *http.Request) {
		handleProcessCommand(state, w, r)
	})
	router.HandleFunc("/api/deactivate", func(w http.ResponseWriter, r *http.Request) {
		handleDeactivate(state, w, r)
	})
	router.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		handleEvents(state, w, r)
	}).Methods(http.MethodGet)
	router.HandleFunc("/api/attestation", func(w http.ResponseWriter, r *http.Request) {
		handleAttestation(state, w, r)
	}).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")

	corsMiddleware := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: corsMiddleware(router),
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

func handleRegisterProfile(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to register a document profile")

	var request models.RegisterProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode profile request", err)
		return
	}

	profile, err := profileFromRequest(request)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_PROFILE_INVALID, ERR_PROFILE_INVALID, err)
		return
	}

	machineReadableZone, err := profile.MRZ()
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_PROFILE_INVALID, ERR_PROFILE_INVALID, err)
		return
	}

	profileId := GenerateProfileId()
	if profileId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate profile ID", fmt.Errorf("failed to generate profile ID"))
		return
	}

	slog.Debug("Storing profile", "profile_id", profileId)
	if err := state.profileStorage.StoreProfile(profileId, profile); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_PROFILE_STORE, err)
		return
	}

	response := models.RegisterProfileResponse{
		ProfileId: profileId,
		Mrz:       machineReadableZone,
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Profile registered successfully", "profile_id", profileId)
}

func handleStartSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start an emulation session")

	var request models.StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode session request", err)
		return
	}

	profile, err := resolveSessionProfile(state, request)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_PROFILE_INVALID, ERR_PROFILE_RETRIEVAL, err)
		return
	}

	agreement, err := keyAgreementFor(request.KeyAgreement)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "unknown key agreement backend", err)
		return
	}

	sessionId, err := state.registry.CreateSession(profile, agreement)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, ERR_PROFILE_INVALID, ERR_SESSION_CREATE, err)
		return
	}

	response := models.StartSessionResponse{SessionId: sessionId}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Session started successfully", "session_id", sessionId)
}

func handleProcessCommand(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.CommandRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode command request", err)
		return
	}

	session, err := state.registry.Lookup(request.SessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_UNKNOWN, ERR_SESSION_UNKNOWN, err)
		return
	}

	raw, err := hex.DecodeString(request.ApduHex)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_APDU_DECODE, err)
		return
	}

	slog.Debug("Processing command", "session_id", request.SessionId, "apdu_length", len(raw))
	responseBytes := session.Coordinator.ProcessCommand(raw)

	// Status word is the final two bytes of every response APDU.
	sw := responseBytes[len(responseBytes)-2:]

	response := models.CommandResponse{
		ResponseHex:  hex.EncodeToString(responseBytes),
		Sw:           hex.EncodeToString(sw),
		SessionState: session.Coordinator.State().String(),
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Debug("Command processed", "session_id", request.SessionId, "sw", response.Sw, "session_state", response.SessionState)
}

func handleDeactivate(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to deactivate a session")

	var request models.DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode deactivate request", err)
		return
	}

	if err := state.registry.Deactivate(request.SessionId, request.Reason); err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_UNKNOWN, ERR_SESSION_UNKNOWN, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, map[string]bool{"ok": true}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Session deactivated", "session_id", request.SessionId, "reason", request.Reason)
}

func handleEvents(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := r.URL.Query().Get("session_id")

	session, err := state.registry.Lookup(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_UNKNOWN, ERR_SESSION_UNKNOWN, err)
		return
	}

	events := session.Events.Snapshot()
	records := make([]models.EventRecord, 0, len(events))
	for _, event := range events {
		records = append(records, models.EventRecord{
			Kind:      string(event.Kind),
			Timestamp: event.Timestamp.Format(time.RFC3339Nano),
			Message:   event.Message,
			Details:   event.Details,
		})
	}

	response := models.EventsResponse{
		SessionId: sessionId,
		Events:    records,
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
}

func handleAttestation(state *ServerState, w http.ResponseWriter, r *http.Request) {
	sessionId := r.URL.Query().Get("session_id")

	if state.attestationCreator == nil {
		respondWithErr(w, http.StatusNotImplemented, "attestation not configured", "attestation requested without a signing key", nil)
		return
	}

	session, err := state.registry.Lookup(sessionId)
	if err != nil {
		respondWithErr(w, http.StatusNotFound, ERR_SESSION_UNKNOWN, ERR_SESSION_UNKNOWN, err)
		return
	}

	if session.Coordinator.State() != emulator.StateAuthenticated {
		respondWithErr(w, http.StatusConflict, ERR_NOT_AUTHENTICATED, ERR_NOT_AUTHENTICATED, fmt.Errorf("session state is %s", session.Coordinator.State()))
		return
	}

	slog.Debug("Creating session attestation", "session_id", sessionId)
	jwt, err := state.attestationCreator.CreateSessionAttestation(sessionId, authenticatedProtocol(session.Events))
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ERR_JWT_CREATION, ERR_JWT_CREATION, err)
		return
	}

	response := models.AttestationResponse{Jwt: jwt}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Attestation issued", "session_id", sessionId)
}

// -----------------------------------------------------------------------------------

// profileFromRequest parses the transport-level profile into the validated
// domain profile.
func profileFromRequest(request models.RegisterProfileRequest) (mrz.DocumentProfile, error) {
	dateOfBirth, err := time.Parse(DATE_FORMAT_CYMD, request.DateOfBirth)
	if err != nil {
		return mrz.DocumentProfile{}, fmt.Errorf("invalid date of birth: %w", err)
	}
	dateOfExpiry, err := time.Parse(DATE_FORMAT_CYMD, request.DateOfExpiry)
	if err != nil {
		return mrz.DocumentProfile{}, fmt.Errorf("invalid date of expiry: %w", err)
	}

	profile := mrz.DocumentProfile{
		DocumentNumber: request.DocumentNumber,
		FirstName:      request.FirstName,
		LastName:       request.LastName,
		Nationality:    request.Nationality,
		IssuingCountry: request.IssuingCountry,
		DateOfBirth:    dateOfBirth,
		DateOfExpiry:   dateOfExpiry,
		Gender:         request.Gender,
	}

	if err := profile.Validate(); err != nil {
		return mrz.DocumentProfile{}, err
	}
	return profile, nil
}

func resolveSessionProfile(state *ServerState, request models.StartSessionRequest) (mrz.DocumentProfile, error) {
	if request.Profile != nil {
		return profileFromRequest(*request.Profile)
	}
	if request.ProfileId == "" {
		return mrz.DocumentProfile{}, fmt.Errorf("either profile or profile_id is required")
	}
	return state.profileStorage.RetrieveProfile(request.ProfileId)
}

func keyAgreementFor(name string) (pace.KeyAgreement, error) {
	switch name {
	case "", "simulated":
		return nil, nil
	case "ecdh":
		return pace.ECDHKeyAgreement{}, nil
	default:
		return nil, fmt.Errorf("unknown key agreement backend %q", name)
	}
}

// authenticatedProtocol reports which protocol authenticated the session,
// taken from the most recent auth-success event.
func authenticatedProtocol(events *emulator.EventBuffer) string {
	snapshot := events.Snapshot()
	for i := len(snapshot) - 1; i >= 0; i-- {
		if snapshot[i].Kind == emulator.EventAuthSuccess {
			return snapshot[i].Details["protocol"]
		}
	}
	return ""
}

func GenerateProfileId() string {
	profileId := make([]byte, 16)
	if _, err := rand.Read(profileId); err != nil {
		slog.Error("failed to generate profile ID", "error", err)
		return ""
	}
	hexId := fmt.Sprintf("%x", profileId)
	slog.Debug("Profile ID generated successfully", "profile_id", hexId)
	return hexId
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}

}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}

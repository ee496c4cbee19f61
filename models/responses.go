package models

type RegisterProfileResponse struct {
	ProfileId string `json:"profile_id"`
	Mrz       string `json:"mrz"`
}

type StartSessionResponse struct {
	SessionId string `json:"session_id"`
}

// CommandResponse carries the hex encoded response APDU, the trailing
// status word, and the session state the command left the card in.
type CommandResponse struct {
	ResponseHex  string `json:"response_hex"`
	Sw           string `json:"sw"`
	SessionState string `json:"session_state"`
}

type EventRecord struct {
	Kind      string            `json:"kind"`
	Timestamp string            `json:"timestamp"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

type EventsResponse struct {
	SessionId string        `json:"session_id"`
	Events    []EventRecord `json:"events"`
}

type AttestationResponse struct {
	Jwt string `json:"jwt"`
}

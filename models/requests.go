package models

// RegisterProfileRequest carries the document holder data for a new
// emulated passport profile. Dates use the YYYY-MM-DD format.
type RegisterProfileRequest struct {
	DocumentNumber string `json:"document_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Nationality    string `json:"nationality"`
	IssuingCountry string `json:"issuing_country"`
	DateOfBirth    string `json:"date_of_birth"`
	DateOfExpiry   string `json:"date_of_expiry"`
	Gender         string `json:"gender"`
}

// StartSessionRequest opens an emulation session, either for a stored
// profile or for a profile given inline.
type StartSessionRequest struct {
	ProfileId string                  `json:"profile_id,omitempty"`
	Profile   *RegisterProfileRequest `json:"profile,omitempty"`
	// KeyAgreement selects the PACE key agreement backend,
	// "simulated" (default) or "ecdh".
	KeyAgreement string `json:"key_agreement,omitempty"`
}

// CommandRequest carries one hex encoded command APDU for a session.
type CommandRequest struct {
	SessionId string `json:"session_id"`
	ApduHex   string `json:"apdu_hex"`
}

type DeactivateRequest struct {
	SessionId string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

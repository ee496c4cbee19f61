package main

import (
	"crypto/rsa"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type AttestationCreator interface {
	// CreateSessionAttestation signs a statement that the given session
	// completed the named protocol successfully.
	CreateSessionAttestation(sessionId string, protocol string) (jwt string, err error)
}

func NewJwtAttestationCreator(privateKeyPath string, issuerId string) (*JwtAttestationCreator, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)

	if err != nil {
		return nil, err
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)

	if err != nil {
		return nil, err
	}

	return &JwtAttestationCreator{
		issuerId:   issuerId,
		privateKey: privateKey,
	}, nil
}

type JwtAttestationCreator struct {
	privateKey *rsa.PrivateKey
	issuerId   string
}

// AttestationValidity is how long an issued attestation stays valid.
const AttestationValidity = time.Hour

func (ac *JwtAttestationCreator) CreateSessionAttestation(sessionId string, protocol string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":              ac.issuerId,
		"iat":              now.Unix(),
		"exp":              now.Add(AttestationValidity).Unix(),
		"session_id":       sessionId,
		"protocol":         protocol,
		"authenticated_at": now.Format(time.RFC3339),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(ac.privateKey)
}

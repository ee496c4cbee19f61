// Package apdu decodes the command APDUs an external reader sends to the
// emulated passport application and frames the responses. Parsing is pure
// and stateless; semantic validation beyond structure is left to the
// protocol engines.
package apdu

import (
	"bytes"
	"fmt"

	"github.com/skythen/apdu"
)

// PassportAID is the registered application identifier of the ICAO eMRTD
// (LDS1) application. SELECT must match it exactly.
var PassportAID = []byte{0xA0, 0x00, 0x00, 0x02, 0x47, 0x10, 0x01}

// ClassISO is the only supported CLA byte.
const ClassISO byte = 0x00

// Instruction bytes handled by the passport application (ISO 7816-4).
const (
	InsMseSetAT             byte = 0x22
	InsExternalAuthenticate byte = 0x82
	InsGetChallenge         byte = 0x84
	InsGeneralAuthenticate  byte = 0x86
	InsInternalAuthenticate byte = 0x88
	InsSelect               byte = 0xA4
	InsReadBinary           byte = 0xB0
)

// Kind enumerates the command types the router distinguishes.
type Kind int

const (
	KindInvalid Kind = iota
	KindUnsupported
	KindSelect
	KindGetChallenge
	KindExternalAuthenticate
	KindInternalAuthenticate
	KindMseSetAT
	KindGeneralAuthenticate
	KindReadBinary
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "INVALID"
	case KindUnsupported:
		return "UNSUPPORTED"
	case KindSelect:
		return "SELECT"
	case KindGetChallenge:
		return "GET_CHALLENGE"
	case KindExternalAuthenticate:
		return "EXTERNAL_AUTHENTICATE"
	case KindInternalAuthenticate:
		return "INTERNAL_AUTHENTICATE"
	case KindMseSetAT:
		return "MSE_SET_AT"
	case KindGeneralAuthenticate:
		return "GENERAL_AUTHENTICATE"
	case KindReadBinary:
		return "READ_BINARY"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Command is the typed result of parsing a raw command APDU. For invalid
// commands SW carries the status word the application must answer with;
// Data carries the command payload (for a failed SELECT, the requested AID
// is still echoed for diagnostics).
type Command struct {
	Kind  Kind
	Valid bool
	Data  []byte
	SW    StatusWord
}

// Parse decodes raw command bytes into a Command. It is deterministic and
// independent of any session state: identical input always yields an
// identical result.
func Parse(raw []byte) Command {
	if len(raw) == 0 {
		return Command{Kind: KindInvalid, SW: SWWrongLength}
	}

	capdu, err := apdu.ParseCapdu(raw)
	if err != nil {
		// Header or declared data length structurally inconsistent.
		return Command{Kind: KindInvalid, SW: SWWrongLength}
	}

	if capdu.Cla != ClassISO {
		return Command{Kind: KindInvalid, SW: SWClassNotSupported}
	}

	switch capdu.Ins {
	case InsSelect:
		if !bytes.Equal(capdu.Data, PassportAID) {
			return Command{Kind: KindSelect, Data: capdu.Data, SW: SWFileNotFound}
		}
		return Command{Kind: KindSelect, Valid: true, Data: capdu.Data}

	case InsGetChallenge:
		if len(capdu.Data) != 0 {
			return Command{Kind: KindInvalid, SW: SWWrongLength}
		}
		return Command{Kind: KindGetChallenge, Valid: true}

	case InsExternalAuthenticate:
		return Command{Kind: KindExternalAuthenticate, Valid: true, Data: capdu.Data}

	case InsInternalAuthenticate:
		return Command{Kind: KindInternalAuthenticate, Valid: true, Data: capdu.Data}

	case InsMseSetAT:
		return Command{Kind: KindMseSetAT, Valid: true, Data: capdu.Data}

	case InsGeneralAuthenticate:
		return Command{Kind: KindGeneralAuthenticate, Valid: true, Data: capdu.Data}

	case InsReadBinary:
		return Command{Kind: KindReadBinary, Valid: true, Data: capdu.Data}

	default:
		return Command{Kind: KindUnsupported, SW: SWInstructionNotSupported}
	}
}

// Response frames payload data and a status word into response APDU bytes.
func Response(data []byte, sw StatusWord) ([]byte, error) {
	rapdu := apdu.Rapdu{Data: data, SW1: sw.SW1(), SW2: sw.SW2()}

	response, err := rapdu.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to encode response APDU: %w", err)
	}
	return response, nil
}

// StatusResponse frames a bare status word with no payload.
func StatusResponse(sw StatusWord) []byte {
	return []byte{sw.SW1(), sw.SW2()}
}

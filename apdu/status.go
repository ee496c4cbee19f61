package apdu

import "fmt"

// StatusWord is the two-byte status trailer (SW1-SW2) that ends every
// response APDU, as defined in ISO/IEC 7816-4.
type StatusWord uint16

// Status words used by the emulated passport application.
const (
	SWSuccess                    StatusWord = 0x9000
	SWWrongLength                StatusWord = 0x6700
	SWSecurityStatusNotSatisfied StatusWord = 0x6982
	SWConditionsNotSatisfied     StatusWord = 0x6985
	SWFileNotFound               StatusWord = 0x6A82
	SWInstructionNotSupported    StatusWord = 0x6D00
	SWClassNotSupported          StatusWord = 0x6E00
	SWUnknown                    StatusWord = 0x6F00
)

// NewStatusWord creates a StatusWord from its two bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

// SW1 returns the high byte of the status word.
func (sw StatusWord) SW1() byte {
	return byte(sw >> 8)
}

// SW2 returns the low byte of the status word.
func (sw StatusWord) SW2() byte {
	return byte(sw)
}

// IsSuccess reports whether the status word indicates successful processing.
func (sw StatusWord) IsSuccess() bool {
	return sw == SWSuccess
}

func (sw StatusWord) String() string {
	switch sw {
	case SWSuccess:
		return "success"
	case SWWrongLength:
		return "wrong length"
	case SWSecurityStatusNotSatisfied:
		return "security status not satisfied"
	case SWConditionsNotSatisfied:
		return "conditions of use not satisfied"
	case SWFileNotFound:
		return "file or application not found"
	case SWInstructionNotSupported:
		return "instruction not supported"
	case SWClassNotSupported:
		return "class not supported"
	case SWUnknown:
		return "unknown error"
	default:
		return fmt.Sprintf("status %04X", uint16(sw))
	}
}

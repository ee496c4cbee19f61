package mrz

import (
	"fmt"
	"strings"
)

// TD3 layout constants. An MRZ is the concatenation of two 44-character
// lines; the offsets below address the full 88-character string.
const (
	LineLength = 44
	Length     = 2 * LineLength

	Filler = '<'

	// Line 2 fields used as BAC key seed material, addressed on the full
	// 88-character MRZ: document number + check digit, date of birth +
	// check digit, date of expiry + check digit.
	DocumentNumberStart = LineLength
	DocumentNumberEnd   = LineLength + 10
	BirthDateStart      = LineLength + 13
	BirthDateEnd        = LineLength + 20
	ExpiryDateStart     = LineLength + 21
	ExpiryDateEnd       = LineLength + 28
)

// checkDigitWeights cycle over the characters of the input.
var checkDigitWeights = [3]int{7, 3, 1}

// CheckDigit computes the MRZ check digit over s: a weighted sum mod 10 with
// cyclic weights 7, 3, 1, where digits contribute their value, letters A-Z
// contribute code-'A'+10 and the filler character contributes 0. The
// function is pure; the same input always yields the same digit.
func CheckDigit(s string) (int, error) {
	sum := 0
	for i := 0; i < len(s); i++ {
		var value int
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			value = int(c - '0')
		case c >= 'A' && c <= 'Z':
			value = int(c-'A') + 10
		case c == Filler:
			value = 0
		default:
			return 0, fmt.Errorf("character %q is not valid in an MRZ field", s[i])
		}
		sum += value * checkDigitWeights[i%3]
	}
	return sum % 10, nil
}

// MRZ derives the 88-character TD3 machine readable zone from the profile.
// It fails on an invalid profile and never returns a partial result.
func (p DocumentProfile) MRZ() (string, error) {
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("cannot derive MRZ from invalid profile: %w", err)
	}

	// Country codes shorter than 3 characters ("D") are filled to the
	// fixed field width, rendered as "D<<".
	line1 := "P" + string(Filler) + pad(p.IssuingCountry, 3) + nameField(p.LastName, p.FirstName)
	line1 = pad(line1, LineLength)

	documentNumber := pad(p.DocumentNumber, 9)
	birthDate := FormatDate(p.DateOfBirth)
	expiryDate := FormatDate(p.DateOfExpiry)
	personalNumber := pad("", 14)

	documentNumberCD, err := CheckDigit(documentNumber)
	if err != nil {
		return "", err
	}
	birthDateCD, err := CheckDigit(birthDate)
	if err != nil {
		return "", err
	}
	expiryDateCD, err := CheckDigit(expiryDate)
	if err != nil {
		return "", err
	}
	personalNumberCD, err := CheckDigit(personalNumber)
	if err != nil {
		return "", err
	}

	line2 := fmt.Sprintf("%s%d%s%s%d%s%s%d%s%d",
		documentNumber, documentNumberCD,
		pad(p.Nationality, 3),
		birthDate, birthDateCD,
		p.Gender,
		expiryDate, expiryDateCD,
		personalNumber, personalNumberCD,
	)

	// Composite check digit over document number, birth date and expiry
	// date fields including their check digits, plus the personal number
	// field.
	composite := line2[0:10] + line2[13:20] + line2[21:43]
	compositeCD, err := CheckDigit(composite)
	if err != nil {
		return "", err
	}
	line2 += fmt.Sprintf("%d", compositeCD)

	return line1 + line2, nil
}

// Lines splits a full MRZ into its two 44-character lines.
func Lines(zone string) (string, string, error) {
	if len(zone) != Length {
		return "", "", fmt.Errorf("MRZ must be %d characters, got %d", Length, len(zone))
	}
	return zone[:LineLength], zone[LineLength:], nil
}

// nameField renders "PRIMARY<<SECONDARY" with spaces and hyphens replaced by
// fillers, truncated to the 39-character name field.
func nameField(lastName, firstName string) string {
	field := transliterate(lastName) + "<<" + transliterate(firstName)
	if len(field) > LineLength-5 {
		field = field[:LineLength-5]
	}
	return field
}

func transliterate(name string) string {
	name = strings.ToUpper(name)
	name = strings.ReplaceAll(name, " ", string(Filler))
	name = strings.ReplaceAll(name, "-", string(Filler))
	return name
}

func pad(s string, length int) string {
	if len(s) >= length {
		return s[:length]
	}
	return s + strings.Repeat(string(Filler), length-len(s))
}

package mrz

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxNameLength is the upper bound for first and last name, matching the
// 39-character name field of a TD3 machine readable zone.
const MaxNameLength = 39

// MaxHumanAge bounds how far in the past a date of birth may lie.
const MaxHumanAge = 130

var documentNumberPattern = regexp.MustCompile(`^[A-Z0-9]{6,9}$`)

// namePattern restricts names to characters the MRZ character set can
// carry: letters separated by single spaces or hyphens. Accented names
// must be transliterated by the caller before registration.
var namePattern = regexp.MustCompile(`^[A-Za-z]+([ -][A-Za-z]+)*$`)

var validGenderMarkers = map[string]struct{}{
	"M": {},
	"F": {},
	"X": {},
	"<": {},
}

// DocumentProfile holds the document attributes a passport chip is
// personalized with. A profile must pass Validate before it can be used to
// derive an MRZ or start an emulated session.
type DocumentProfile struct {
	DocumentNumber string    `json:"document_number"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Nationality    string    `json:"nationality"`
	IssuingCountry string    `json:"issuing_country"`
	DateOfBirth    time.Time `json:"date_of_birth"`
	DateOfExpiry   time.Time `json:"date_of_expiry"`
	Gender         string    `json:"gender"`
}

// Validate checks every field of the profile. It returns the first problem
// found; a profile that validates cleanly is guaranteed to produce a
// well-formed TD3 MRZ.
func (p DocumentProfile) Validate() error {
	if !documentNumberPattern.MatchString(p.DocumentNumber) {
		return fmt.Errorf("document number %q must be 6-9 upper-case alphanumeric characters", p.DocumentNumber)
	}

	if !namePattern.MatchString(p.FirstName) {
		return fmt.Errorf("first name %q must be letters separated by single spaces or hyphens", p.FirstName)
	}
	if len(p.FirstName) > MaxNameLength {
		return fmt.Errorf("first name exceeds %d characters", MaxNameLength)
	}
	if !namePattern.MatchString(p.LastName) {
		return fmt.Errorf("last name %q must be letters separated by single spaces or hyphens", p.LastName)
	}
	if len(p.LastName) > MaxNameLength {
		return fmt.Errorf("last name exceeds %d characters", MaxNameLength)
	}

	if !IsCountryCode(p.IssuingCountry) {
		return fmt.Errorf("issuing country %q is not a known ISO 3166-1 alpha-3 code", p.IssuingCountry)
	}
	if !IsCountryCode(p.Nationality) {
		return fmt.Errorf("nationality %q is not a known ISO 3166-1 alpha-3 code", p.Nationality)
	}

	now := time.Now()
	if p.DateOfBirth.IsZero() || !p.DateOfBirth.Before(now) {
		return fmt.Errorf("date of birth must lie in the past")
	}
	if p.DateOfBirth.Before(now.AddDate(-MaxHumanAge, 0, 0)) {
		return fmt.Errorf("date of birth lies more than %d years in the past", MaxHumanAge)
	}
	if p.DateOfExpiry.IsZero() || !p.DateOfExpiry.After(now) {
		return fmt.Errorf("date of expiry must lie in the future")
	}
	if !p.DateOfExpiry.After(p.DateOfBirth) {
		return fmt.Errorf("date of expiry must be after date of birth")
	}

	if _, ok := validGenderMarkers[p.Gender]; !ok {
		return fmt.Errorf("gender marker %q must be one of M, F, X or <", p.Gender)
	}

	return nil
}

// FormatDate renders a date in the YYMMDD form used by the MRZ.
func FormatDate(t time.Time) string {
	return t.Format("060102")
}

// ParseDateTime parses a date in yymmdd format.
func ParseDateTime(dateStr string) (time.Time, error) {
	if len(dateStr) != 6 {
		return time.Time{}, fmt.Errorf("invalid date format: %s", dateStr)
	}
	layout := "060102" // "06" for year, "01" for month, "02" for day

	parsedDate, err := time.Parse(layout, dateStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date: %w", err)
	}
	return parsedDate, nil
}

// IsCountryCode reports whether code is part of the fixed set of accepted
// issuing-state and nationality codes.
func IsCountryCode(code string) bool {
	_, ok := countryCodes[strings.ToUpper(code)]
	return ok
}

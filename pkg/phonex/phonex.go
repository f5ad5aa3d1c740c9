// Package phonex canonicalizes phone numbers shared through chat clients.
//
// The canonical form is the international number as bare digits, without a
// leading plus: "+98 912 345 6789" and "09123456789" both become
// "989123456789" when the default country code is 98.
package phonex

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultCountryCode replaces the national trunk prefix when none is configured.
const DefaultCountryCode = "98"

var (
	ErrEmpty       = errors.New("phonex: empty phone number")
	ErrImplausible = errors.New("phonex: implausible phone number")
)

// Normalize strips everything but digits and replaces a leading national trunk
// zero with countryCode. Numbers already in international form pass through
// with their non-digit characters removed. Non-ASCII decimal digits (Persian,
// Arabic-Indic) are folded to ASCII first.
func Normalize(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	digits := Digits(raw)
	if strings.HasPrefix(digits, "00") {
		// International call prefix, e.g. 0098...
		return digits[2:]
	}
	if strings.HasPrefix(digits, "0") {
		return countryCode + digits[1:]
	}
	return digits
}

// Canonical normalizes raw and checks that the result is a plausible
// international number for its country.
func Canonical(raw, countryCode string) (string, error) {
	phone := Normalize(raw, countryCode)
	if phone == "" {
		return "", ErrEmpty
	}
	if !Plausible(phone) {
		return "", ErrImplausible
	}
	return phone, nil
}

// Plausible reports whether a canonical number has a known country code and a
// possible length for that country. It does not check number allocation.
func Plausible(canonical string) bool {
	num, err := phonenumbers.Parse("+"+canonical, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsPossibleNumber(num)
}

// Digits returns only the decimal digits of s, folded to ASCII.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if d, ok := asciiDigit(r); ok {
			b.WriteByte(d)
		}
	}
	return b.String()
}

// FoldDigits replaces non-ASCII decimal digits with their ASCII equivalents and
// leaves every other rune untouched.
func FoldDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if d, ok := asciiDigit(r); ok {
			return rune(d)
		}
		return r
	}, s)
}

func asciiDigit(r rune) (byte, bool) {
	switch {
	case r >= '0' && r <= '9':
		return byte(r), true
	case r >= '۰' && r <= '۹': // extended Arabic-Indic (Persian)
		return byte('0' + r - '۰'), true
	case r >= '٠' && r <= '٩': // Arabic-Indic
		return byte('0' + r - '٠'), true
	default:
		return 0, false
	}
}

package cryptox

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/pquerna/otp"
)

// Bounds for numeric one-time codes. The upper bound keeps 10^length inside
// an int32, which is what otp.Digits formats.
const (
	MinCodeLength = 1
	MaxCodeLength = 9
)

// GenerateNumericCode returns a code of exactly length decimal digits drawn
// uniformly from [0, 10^length) using crypto/rand. Leading zeros are kept.
func GenerateNumericCode(length int) (string, error) {
	if length < MinCodeLength || length > MaxCodeLength {
		return "", fmt.Errorf("code length must be between %d and %d, got %d", MinCodeLength, MaxCodeLength, length)
	}

	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		return "", fmt.Errorf("failed to generate random code: %w", err)
	}

	return otp.Digits(length).Format(int32(n.Int64())), nil
}

// IsNumericCode reports whether s is exactly length ASCII digits.
func IsNumericCode(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

package utils

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const sessionIDDigits = 9

var sessionIDSpan = big.NewInt(900_000_000)

// GenerateSessionID returns a random 9-digit session ID without a leading
// zero.
func GenerateSessionID() (string, error) {
	n, err := rand.Int(rand.Reader, sessionIDSpan)
	if err != nil {
		return "", err
	}
	return n.Add(n, big.NewInt(100_000_000)).String(), nil
}

// FormatSessionID groups digits in threes: "123456789" -> "123 456 789".
func FormatSessionID(id string) string {
	id = NormalizeSessionID(id)
	var b strings.Builder
	for i, r := range id {
		if i > 0 && i%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NormalizeSessionID strips all whitespace typed or pasted by a user.
func NormalizeSessionID(id string) string {
	return strings.Join(strings.Fields(id), "")
}

func IsSessionID(id string) bool {
	if len(id) != sessionIDDigits {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func GenerateEndpointID() string {
	return uuid.NewString()
}

func GenerateRequestID() string {
	return "req_" + uuid.NewString()
}

package util

import (
	"crypto/rand"
	"encoding/hex"
)

const stateTokenBytes = 32

// GenerateStateToken returns a random hex token used as the single-use
// anti-CSRF state for provider logins.
func GenerateStateToken() (string, error) {
	bytes := make([]byte, stateTokenBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// MaskCode hides the tail of a pairing code for log output.
func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}

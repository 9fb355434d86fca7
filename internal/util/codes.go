package util

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// pairingCodeChars excludes O, I, 0 and 1 to avoid read-aloud mistakes.
const pairingCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateCode returns a pairing code in XXXX-XXXX form. The code
// carries no identity or ordering information; uniqueness among active
// requests is enforced at the store on insert.
func GenerateCode() string {
	chars := []byte(pairingCodeChars)
	part1 := make([]byte, 4)
	part2 := make([]byte, 4)

	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part1[i] = chars[n.Int64()]
	}
	for i := 0; i < 4; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		part2[i] = chars[n.Int64()]
	}

	return fmt.Sprintf("%s-%s", string(part1), string(part2))
}

// NewRequestID returns an opaque unique pairing request identifier.
func NewRequestID() string {
	return uuid.New().String()
}

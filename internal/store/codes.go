package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
)

// DemoCode is the reserved code of the always-available demo module. It is
// not a valid random code so it can never collide with an allocated one.
const DemoCode = "DEMOCODE1A"

// codeBytes random bytes yield a 10-character hex code, short enough to
// keep QR payloads small while making collisions negligible.
const codeBytes = 5

var codePattern = regexp.MustCompile(`^[0-9a-f]{10}$`)

// NewCode allocates a fresh random module code
func NewCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate module code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ValidateCode checks that code is either a well-formed random code or the
// demo sentinel
func ValidateCode(code string) error {
	if code == DemoCode {
		return nil
	}
	if !codePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCode, code)
	}
	return nil
}

package store

import (
	"fmt"
	"strings"
)

// SafeLabel normalizes a human-supplied label into a filesystem-safe name.
// Characters outside [A-Za-z0-9_.-] map to underscores, runs collapse to a
// single underscore, and leading/trailing separators are trimmed. Labels
// that normalize to nothing (or to dot-only names) are rejected, which also
// rules out "." and ".." traversal components.
func SafeLabel(label string) (string, error) {
	var b strings.Builder
	lastUnderscore := false

	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	safe := strings.Trim(b.String(), "._-")
	if safe == "" || strings.Trim(safe, ".") == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}

	return safe, nil
}

package session

import (
	"errors"
	"fmt"
)

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

const maxNameLen = 64

// ValidateName accepts 1 to 64 characters from [a-z0-9_-]. The name is
// used verbatim as a directory under sessions/.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > maxNameLen:
		return fmt.Errorf("%w: %d characters, at most %d allowed", ErrInvalidName, len(name), maxNameLen)
	}
	for i, r := range name {
		if !nameRune(r) {
			return fmt.Errorf("%w: %q has %q at offset %d, only [a-z0-9_-] allowed", ErrInvalidName, name, r, i)
		}
	}
	return nil
}

func nameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-'
}

package room

import (
	"encoding/json"
	"fmt"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength is the maximum room identifier length in characters.
const MaxIDLength = 100

// ValidateID checks a room identifier before it is used as a table key.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidIdentifier)
	}
	if n := utf8.RuneCountInString(id); n > MaxIDLength {
		return fmt.Errorf("%w: %d characters (max %d)", ErrInvalidIdentifier, n, MaxIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: contains control character %U", ErrInvalidIdentifier, r)
		}
	}
	return nil
}

// ParseID decodes a room identifier from a raw JSON value. Anything other than
// a JSON string (numbers, objects, null, missing) is ErrInvalidIdentifier.
func ParseID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: missing", ErrInvalidIdentifier)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("%w: expected a string", ErrInvalidIdentifier)
	}
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

package utils

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString is a feed value that may arrive as a JSON string, number, bool or
// null. Objects and arrays decode as absent instead of failing the payload.
type FlexString struct {
	Value string
	Valid bool
}

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*f = FlexString{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*f = FlexString{Value: s, Valid: true}
	case '{', '[':
		return nil
	default:
		// numbers and booleans keep their literal text
		*f = FlexString{Value: string(b), Valid: true}
	}
	return nil
}

func (f FlexString) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// Str builds a valid FlexString.
func Str(s string) FlexString {
	return FlexString{Value: s, Valid: true}
}

// Trimmed returns the trimmed value, or "" when absent.
func (f FlexString) Trimmed() string {
	if !f.Valid {
		return ""
	}
	return strings.TrimSpace(f.Value)
}

func GetStringOrEmpty(s *string) string {
	if s != nil {
		return *s
	}
	return ""
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

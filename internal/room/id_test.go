package room

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidateID(t *testing.T) {
	cases := []struct {
		name string
		id   string
		ok   bool
	}{
		{name: "simple", id: "r1", ok: true},
		{name: "unicode", id: "회의실-1", ok: true},
		{name: "max length", id: strings.Repeat("a", MaxIDLength), ok: true},
		{name: "max length multibyte", id: strings.Repeat("방", MaxIDLength), ok: true},
		{name: "empty", id: ""},
		{name: "too long", id: strings.Repeat("a", MaxIDLength+1)},
		{name: "control character", id: "room\n1"},
		{name: "invalid utf8", id: "room\xff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateID(tc.id)
			if tc.ok && err != nil {
				t.Fatalf("ValidateID(%q)=%v, want nil", tc.id, err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidIdentifier) {
				t.Fatalf("ValidateID(%q)=%v, want ErrInvalidIdentifier", tc.id, err)
			}
		})
	}
}

func TestParseID_RejectsNonStrings(t *testing.T) {
	for _, raw := range []string{``, `null`, `42`, `{"id":"r1"}`, `["r1"]`, `""`} {
		if _, err := ParseID(json.RawMessage(raw)); !errors.Is(err, ErrInvalidIdentifier) {
			t.Fatalf("ParseID(%s)=%v, want ErrInvalidIdentifier", raw, err)
		}
	}

	id, err := ParseID(json.RawMessage(`"r1"`))
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if id != "r1" {
		t.Fatalf("id=%q, want %q", id, "r1")
	}
}

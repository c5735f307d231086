package token

import "github.com/google/uuid"

// New returns a fresh random (version 4) UUID in its canonical string form.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like a token issued by New.
func Valid(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}

	return id.Version() == 4 && id.String() == s
}

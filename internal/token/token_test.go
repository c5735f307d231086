package token

import (
	"strings"
	"testing"
)

func TestNew_Unique(t *testing.T) {
	const n = 10000

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		tok := New()
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token after %d iterations: %s", i, tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestValid(t *testing.T) {
	tok := New()
	if !Valid(tok) {
		t.Fatalf("expected %q to be valid", tok)
	}

	cases := []string{
		"",
		"not-a-token",
		strings.ToUpper(tok),
		"{" + tok + "}",
		"6ba7b810-9dad-11d1-80b4-00c04fd430c8", // version 1
	}
	for _, c := range cases {
		if Valid(c) {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
}

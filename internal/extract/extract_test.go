package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmail(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{"plus and subdomain", "contact: Jane.Doe+test@sub.example.co <end>", "Jane.Doe+test@sub.example.co", true},
		{"angle brackets", "Reach me at <bob@example.org>.", "bob@example.org", true},
		{"square brackets", "[carol@example.io]", "carol@example.io", true},
		{"parentheses and quotes", `("dave@example.net")`, "dave@example.net", true},
		{"first match wins", "a@one.com then b@two.com", "a@one.com", true},
		{"markdown mailto", "[mail](mailto:erin@example.dev)", "erin@example.dev", true},
		{"no at sign", "nothing to see here", "", false},
		{"missing tld", "user@localhost", "", false},
		{"one letter tld", "user@example.c", "", false},
		{"empty", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Email(tc.input)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEmailStripsBracketCharacters(t *testing.T) {
	t.Parallel()

	got, ok := Email("<<alice@example.com>>")
	assert.True(t, ok)
	assert.Equal(t, "alice@example.com", got)
	assert.False(t, strings.ContainsAny(got, trimSet))
}

// Fuzz test for Email.
func FuzzEmail(f *testing.F) {
	seeds := []string{
		"contact: Jane.Doe+test@sub.example.co <end>",
		"no email",
		"@@@...",
		"\x00\xff@a.bc",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, in string) {
		got, ok := Email(in)
		if !ok {
			if got != "" {
				t.Errorf("Email(%q) returned %q without a match", in, got)
			}
			return
		}
		if !strings.Contains(got, "@") {
			t.Errorf("Email(%q) = %q; missing @", in, got)
		}
		if strings.ContainsAny(got, trimSet) {
			t.Errorf("Email(%q) = %q; bracket characters not stripped", in, got)
		}
	})
}

package normalize

import (
	"errors"
	"testing"
)

// ===== EMAIL TESTS =====

func TestEmail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lower-cases and trims", "  John.Doe@Example.COM ", "john.doe@example.com"},
		{"gmail drops dots", "j.o.h.n@gmail.com", "john@gmail.com"},
		{"gmail drops plus suffix", "john+jobs@gmail.com", "john@gmail.com"},
		{"gmail drops both", "J.Ohn+x.y@GMAIL.com", "john@gmail.com"},
		{"other domains keep plus", "john+jobs@yandex.ru", "john+jobs@yandex.ru"},
		{"googlemail is not gmail", "j.ohn@googlemail.com", "j.ohn@googlemail.com"},
		{"no at sign", "NotAnEmail", "notanemail"},
		{"unicode is lower-cased", "ÉMILE@Example.com", "émile@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Email(tt.in); got != tt.want {
				t.Errorf("Email(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"octo@example.com", true},
		{"a.b+c@sub.example.org", true},
		{"octo@localhost", false},
		{"octo@", false},
		{"@example.com", false},
		{"Octo <octo@example.com>", false},
		{"octo@example.", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ValidEmail(tt.in); got != tt.want {
				t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// ===== PHONE TESTS =====

func TestPhone(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"leading 8", "89991234567", "+79991234567", false},
		{"leading +7", "+79991234567", "+79991234567", false},
		{"leading 7", "79991234567", "+79991234567", false},
		{"ten digits", "9991234567", "+79991234567", false},
		{"formatted", "+7 (999) 123-45-67", "+79991234567", false},
		{"too short", "123", "", true},
		{"eleven digits wrong prefix", "19991234567", "", true},
		{"twelve digits", "799912345678", "", true},
		{"all zero local", "80000000000", "", true},
		{"all zero ten digits", "0000000000", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Phone(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPhone) {
					t.Fatalf("Phone(%q) error = %v, want ErrInvalidPhone", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Phone(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Phone(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		// "e" + combining acute composes to a single rune under NFC.
		{"composes accents", "  Ame\u0301lie ", "Am\u00e9lie"},
		{"collapses inner runs", "Anna \t  Maria\n", "Anna Maria"},
		{"only whitespace", " \t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Name(tt.raw); got != tt.want {
				t.Errorf("Name(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

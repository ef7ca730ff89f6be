package scene

import "testing"

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Main Gate", "main-gate"},
		{"Main Gate!!", "main-gate"},
		{"  A--B  ", "a-b"},
		{"Library & Reading Room", "library-reading-room"},
		{"Block 7 (North)", "block-7-north"},
		{"Café", "caf"},
		{"---", ""},
		{"", ""},
		{"already-a-slug", "already-a-slug"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSlugify_Idempotent(t *testing.T) {
	for _, in := range []string{"Main Gate!!", "  x  y  z ", "Hall_of_Fame", "42 Things"} {
		once := Slugify(in)
		if twice := Slugify(once); twice != once {
			t.Errorf("Slugify not idempotent for %q: %q then %q", in, once, twice)
		}
		if once != "" && !ValidSlug(once) {
			t.Errorf("Slugify(%q) = %q is not a valid slug", in, once)
		}
	}
}

func TestValidSlug(t *testing.T) {
	valid := []string{"a", "main-gate", "block-7"}
	invalid := []string{"", "-a", "a-", "a--b", "Main", "a b", "a_b"}

	for _, s := range valid {
		if !ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidSlug(s) {
			t.Errorf("ValidSlug(%q) = true, want false", s)
		}
	}
}

package scene

import (
	"regexp"
	"strings"
)

// slugPattern matches an already-valid slug.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Slugify derives a URL slug from a title: lowercase ASCII letters and
// digits, every other run of characters collapsed to a single hyphen,
// leading and trailing hyphens stripped. Slugify is idempotent.
func Slugify(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	pendingHyphen := false
	for _, r := range strings.ToLower(title) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	return b.String()
}

// ValidSlug reports whether s is already in slug form.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

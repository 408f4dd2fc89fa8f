package phone

import "strings"

// Normalize strips formatting from a phone number, keeping digits only.
// WhatsApp ids are plain digit strings with country code and no leading "+".
// Returns "" when nothing usable remains.
func Normalize(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

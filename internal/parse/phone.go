package parse

import "strings"

// NormalizePhone turns a stored phone number into the international form
// the modem dials. Non-digits are dropped; a number starting with neither
// countryCode nor trunkPrefix gets countryCode prepended, and a leading
// trunkPrefix is replaced by countryCode. It never fails and is idempotent.
func NormalizePhone(raw, countryCode, trunkPrefix string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if !strings.HasPrefix(digits, countryCode) && (trunkPrefix == "" || !strings.HasPrefix(digits, trunkPrefix)) {
		digits = countryCode + digits
	}
	if trunkPrefix != "" && strings.HasPrefix(digits, trunkPrefix) {
		digits = countryCode + strings.TrimPrefix(digits, trunkPrefix)
	}
	return "+" + digits
}

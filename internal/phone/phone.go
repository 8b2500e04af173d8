// Package phone validates WhatsApp-capable phone numbers.
package phone

import (
	"regexp"
	"strings"
)

// e164 matches the E.164 format: +, a non-zero country-code digit, then 1-14
// further digits.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Validate reports whether phone is a well-formed E.164 number.
func Validate(phone string) bool {
	return e164.MatchString(phone)
}

// Variants returns the lookup candidates for a webhook sender: the raw value
// and the +-prefixed form. Webhook payloads carry the number without the
// leading + while CRM records usually store it with one.
func Variants(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "+") {
		return []string{raw, strings.TrimPrefix(raw, "+")}
	}
	return []string{raw, "+" + raw}
}

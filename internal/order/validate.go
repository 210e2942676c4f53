package order

import (
	"strings"

	"gallerio/internal/domain"
)

// PhoneDigits is the length of a complete mobile-money number.
const PhoneDigits = 10

// Validation messages shown next to the phone field.
const (
	msgTooLong      = "Phone number must be exactly 10 digits."
	msgMTNPrefix    = "MTN numbers must start with 078 or 079."
	msgAirtelPrefix = "Airtel numbers must start with 072 or 073."
	msgNoMethod     = "Choose a payment method first."
)

var prefixes = map[domain.PaymentMethod][]string{
	domain.PaymentMTN:    {"078", "079"},
	domain.PaymentAirtel: {"072", "073"},
}

// CleanPhone keeps only the ASCII digits of input.
func CleanPhone(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePhone checks already cleaned digits against the provider rules and returns the
// message to show, or "" when the input is acceptable so far. Input shorter than a prefix is
// accepted while it can still grow into one.
func ValidatePhone(method domain.PaymentMethod, digits string) string {
	if len(digits) > PhoneDigits {
		return msgTooLong
	}
	allowed, ok := prefixes[method]
	if !ok {
		return msgNoMethod
	}
	if digits == "" {
		return ""
	}
	for _, prefix := range allowed {
		if len(digits) < len(prefix) {
			if strings.HasPrefix(prefix, digits) {
				return ""
			}
			continue
		}
		if strings.HasPrefix(digits, prefix) {
			return ""
		}
	}
	if method == domain.PaymentAirtel {
		return msgAirtelPrefix
	}
	return msgMTNPrefix
}

// Submittable reports whether digits form a complete valid number for method.
func Submittable(method domain.PaymentMethod, digits string) bool {
	return len(digits) == PhoneDigits && ValidatePhone(method, digits) == ""
}

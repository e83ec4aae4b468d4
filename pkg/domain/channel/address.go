package channel

import "strings"

const (
	// UserSuffix is appended to normalized phone numbers.
	UserSuffix = "@c.us"
	// GroupSuffix marks group chat identifiers.
	GroupSuffix = "@g.us"
)

// NormalizeRecipient strips every non-digit from raw and appends UserSuffix.
// It is idempotent: NormalizeRecipient(NormalizeRecipient(x)) == NormalizeRecipient(x).
func NormalizeRecipient(raw string) string {
	return digitsOnly(raw) + UserSuffix
}

// ParseRecipient normalizes raw and rejects input without any digits.
func ParseRecipient(raw string) (string, error) {
	digits := digitsOnly(raw)
	if digits == "" {
		return "", ErrInvalidRecipient
	}
	return digits + UserSuffix, nil
}

// IsGroupChat reports whether a chat id refers to a group conversation.
func IsGroupChat(chatID string) bool {
	return strings.Contains(chatID, GroupSuffix)
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

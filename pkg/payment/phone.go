package payment

import (
	"errors"
	"strings"
)

var ErrInvalidPhone = errors.New("invalid phone number")

// NormalizePhone converts the common Kenyan formats (07XXXXXXXX, +2547XXXXXXXX, 2547XXXXXXXX,
// 7XXXXXXXX) into the canonical 254XXXXXXXXX form the gateway expects.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")

	switch {
	case strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case len(p) == 9:
		p = "254" + p
	}

	if len(p) != 12 || !strings.HasPrefix(p, "254") {
		return "", ErrInvalidPhone
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", ErrInvalidPhone
		}
	}
	return p, nil
}

// MaskPhone hides the middle digits for logs.
func MaskPhone(p string) string {
	if len(p) < 9 {
		return "***"
	}
	return p[:5] + strings.Repeat("*", len(p)-8) + p[len(p)-3:]
}

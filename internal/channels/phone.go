package channels

import (
	"strings"

	"policypulse/internal/types"
)

// NormalizePhone converts a raw phone number into E.164 form. Numbers that
// already carry a "+" prefix keep their country code; bare national numbers
// get the default country prefix (e.g. "+91"). Separators and surrounding
// whitespace are stripped. Returns an AppError with a validation code when
// no plausible number remains.
func NormalizePhone(raw string, defaultPrefix string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	hasPlus := strings.HasPrefix(cleaned, "+")

	var digits strings.Builder
	for _, c := range cleaned {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	num := digits.String()

	if len(num) < 7 || len(num) > 15 {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidPhone,
			"phone number must contain 7 to 15 digits",
			nil,
		).WithDetails(map[string]any{"digits": len(num)})
	}

	if hasPlus {
		return "+" + num, nil
	}

	// National numbers sometimes carry a leading trunk zero; the
	// international form drops it.
	num = strings.TrimPrefix(num, "0")
	if num == "" {
		return "", types.NewAppError(
			types.ErrCodeValidationInvalidPhone,
			"phone number is empty after normalization",
			nil,
		)
	}

	prefix := defaultPrefix
	if prefix == "" {
		prefix = "+91"
	}
	if !strings.HasPrefix(prefix, "+") {
		prefix = "+" + prefix
	}

	return prefix + num, nil
}

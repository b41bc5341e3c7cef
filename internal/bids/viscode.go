package bids

import (
	"fmt"
	"strconv"
	"strings"
)

// SessionFromVisitCode maps a study visit code to a BIDS session label.
//
//	bl, m0, m00 -> ses-M000
//	m18         -> ses-M018
//
// Any other code is an error.
func SessionFromVisitCode(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "bl" {
		return "ses-M000", nil
	}

	digits, ok := strings.CutPrefix(c, "m")
	if !ok || digits == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownVisitCode, code)
	}

	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: %q", ErrUnknownVisitCode, code)
		}
	}

	month, err := strconv.Atoi(digits)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnknownVisitCode, code)
	}

	return fmt.Sprintf("ses-M%03d", month), nil
}

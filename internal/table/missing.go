package table

import (
	"strconv"
	"strings"
)

// Missing is the missing-value token written to every emitted TSV.
const Missing = "n/a"

// naTokens are the cell spellings read as "not available", matching the
// defaults of common CSV tooling so exports from spreadsheets and R agree.
var naTokens = map[string]bool{
	"":          true,
	"#N/A":      true,
	"#N/A N/A":  true,
	"#NA":       true,
	"-1.#IND":   true,
	"-1.#QNAN":  true,
	"-NaN":      true,
	"-nan":      true,
	"1.#IND":    true,
	"1.#QNAN":   true,
	"<NA>":      true,
	"N/A":       true,
	"NA":        true,
	"NULL":      true,
	"NaN":       true,
	"None":      true,
	"n/a":       true,
	"nan":       true,
	"null":      true,
}

// IsNA reports whether s spells a not-available cell.
func IsNA(s string) bool {
	return naTokens[strings.TrimSpace(s)]
}

// IsMissing reports whether s is not available or equals the study-specific
// missing code, compared numerically so "-4" and "-4.0" agree.
func IsMissing(s, code string) bool {
	if IsNA(s) {
		return true
	}

	s = strings.TrimSpace(s)
	if s == code {
		return true
	}

	want, err := strconv.ParseFloat(code, 64)
	if err != nil {
		return false
	}

	got, err := strconv.ParseFloat(s, 64)

	return err == nil && got == want
}

// OrMissing returns s, or [Missing] if s is empty.
func OrMissing(s string) string {
	if s == "" {
		return Missing
	}

	return s
}

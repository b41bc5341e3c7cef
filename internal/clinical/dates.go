package clinical

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// examDateLayout is the MM/DD/YYYY form of AIBL exam dates.
const examDateLayout = "1/2/2006"

// acqTimeLayout is the BIDS scans.tsv acq_time form.
const acqTimeLayout = "2006-01-02T15:04:05"

var (
	birthYearOnly = regexp.MustCompile(`^/(\d{4})$`)
	yearAfter     = regexp.MustCompile(`/(\d{4})`)
)

// yearOfBirth extracts the four-digit year following a slash, or "".
func yearOfBirth(s string) string {
	m := yearAfter.FindStringSubmatch(s)
	if m == nil {
		return ""
	}

	return m[1]
}

// formatAcqTime converts an MM/DD/YYYY exam date to a local ISO 8601
// timestamp at midnight.
func formatAcqTime(s string) (string, error) {
	t, err := time.Parse(examDateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: acquisition date %q: %w", ErrInvalidDate, s, err)
	}

	return t.Format(acqTimeLayout), nil
}

// ageAtExam returns exam year minus birth year, with no month or day
// adjustment. birth is "/YYYY", exam is "MM/DD/YYYY". If either is empty the
// age is unresolved (ok=false); malformed values are errors.
func ageAtExam(birth, exam string) (int, bool, error) {
	if birth == "" || exam == "" {
		return 0, false, nil
	}

	m := birthYearOnly.FindStringSubmatch(birth)
	if m == nil {
		return 0, false, fmt.Errorf("%w: date of birth %q", ErrInvalidDate, birth)
	}

	born, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false, fmt.Errorf("%w: date of birth %q", ErrInvalidDate, birth)
	}

	examined, err := time.Parse(examDateLayout, exam)
	if err != nil {
		return 0, false, fmt.Errorf("%w: examination date %q: %w", ErrInvalidDate, exam, err)
	}

	return examined.Year() - born, true, nil
}

// Package bids holds the BIDS naming conventions used by the converter:
// subject and session labels, visit-code normalization, PET tracers and the
// on-disk layout of a converted dataset.
package bids

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Errors returned for identifiers that cannot be mapped.
var (
	ErrInvalidSubjectID  = errors.New("invalid BIDS subject id")
	ErrInvalidOriginalID = errors.New("invalid original study id")
	ErrUnknownVisitCode  = errors.New("unknown visit code")
	ErrUnknownTracer     = errors.New("unknown PET tracer")
	ErrUnsupportedStudy  = errors.New("unsupported study")
)

// Study names a source study.
type Study string

// StudyAIBL is the Australian Imaging, Biomarker & Lifestyle study.
const StudyAIBL Study = "AIBL"

// ParseStudy returns the study named s (case-insensitive).
func ParseStudy(s string) (Study, error) {
	if strings.EqualFold(s, string(StudyAIBL)) {
		return StudyAIBL, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedStudy, s)
}

// Prefix returns the BIDS subject label prefix for the study.
func (s Study) Prefix() string {
	return "sub-" + string(s)
}

var aiblSubject = regexp.MustCompile(`^sub-AIBL(\d+)$`)

// SubjectFromOriginal maps a study identifier (AIBL RID) to a BIDS subject
// label. Identifiers must be non-negative integers; they are read with
// [ParseRID], so "12.0" gives sub-AIBL12.
func (s Study) SubjectFromOriginal(original string) (string, error) {
	rid, ok := ParseRID(original)
	if !ok || rid < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidOriginalID, strings.TrimSpace(original))
	}

	return s.Prefix() + strconv.Itoa(rid), nil
}

// OriginalFromSubject maps a BIDS subject label back to the study's integer
// identifier.
func (s Study) OriginalFromSubject(subject string) (int, error) {
	m := aiblSubject.FindStringSubmatch(subject)
	if m == nil || s != StudyAIBL {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSubjectID, subject)
	}

	rid, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSubjectID, subject)
	}

	return rid, nil
}

// ParseRID parses a source-table row identifier. Values written by
// spreadsheets as "12.0" are accepted.
func ParseRID(s string) (int, bool) {
	s = strings.TrimSpace(s)

	if rid, err := strconv.Atoi(s); err == nil {
		return rid, true
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}

	return int(f), true
}

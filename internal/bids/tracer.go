package bids

import (
	"fmt"
	"regexp"
)

// Tracer is the BIDS label of a PET tracer.
type Tracer string

// Tracers known to the converter.
const (
	TracerPIB    Tracer = "11CPIB"
	TracerAV1451 Tracer = "18FAV1451"
	TracerAV45   Tracer = "18FAV45"
	TracerFBB    Tracer = "18FFBB"
	TracerFDG    Tracer = "18FFDG"
	TracerFMM    Tracer = "18FFMM"
)

var tracers = []Tracer{TracerPIB, TracerAV1451, TracerAV45, TracerFBB, TracerFDG, TracerFMM}

var trcEntity = regexp.MustCompile(`(?:^|_)trc-([A-Za-z0-9]+)`)

// ParseTracer returns the tracer labelled s.
func ParseTracer(s string) (Tracer, error) {
	for _, t := range tracers {
		if string(t) == s {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownTracer, s)
}

// TracerFromFilename reads the trc- entity of a BIDS PET filename.
func TracerFromFilename(name string) (Tracer, error) {
	m := trcEntity.FindStringSubmatch(name)
	if m == nil {
		return "", fmt.Errorf("%w: no trc- entity in %q", ErrUnknownTracer, name)
	}

	return ParseTracer(m[1])
}

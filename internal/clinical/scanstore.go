package clinical

import (
	"fmt"
	"slices"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/table"
)

// GroupMRI is the modality group shared by the anat, dwi and func scans.
const GroupMRI = "T1/DWI/fMRI/FMAP"

// ScanGroups are the modality groups seeded for every session.
var ScanGroups = []string{
	GroupMRI,
	string(bids.TracerPIB),
	string(bids.TracerAV45),
	string(bids.TracerFMM),
}

type scanKey struct {
	subject string
	session string
	group   string
}

type scanFields struct {
	keys   []string
	values map[string]string
}

// ScanStore holds scan metadata per subject, session and modality group.
//
// A field that holds a value other than n/a is never overwritten: the
// first mapping row that resolves it wins.
type ScanStore struct {
	subjects []string
	sessions map[string][]string
	slots    map[scanKey]*scanFields
}

// NewScanStore returns an empty store.
func NewScanStore() *ScanStore {
	return &ScanStore{
		sessions: make(map[string][]string),
		slots:    make(map[scanKey]*scanFields),
	}
}

// Seed registers a session of a subject with an empty field set for every
// group in [ScanGroups].
func (s *ScanStore) Seed(subject, session string) {
	if _, ok := s.sessions[subject]; !ok {
		s.subjects = append(s.subjects, subject)
	}

	if slices.Contains(s.sessions[subject], session) {
		return
	}

	s.sessions[subject] = append(s.sessions[subject], session)

	for _, group := range ScanGroups {
		s.slots[scanKey{subject, session, group}] = &scanFields{values: make(map[string]string)}
	}
}

// Subjects returns the seeded subjects in seeding order.
func (s *ScanStore) Subjects() []string {
	return slices.Clone(s.subjects)
}

// Sessions returns the seeded sessions of subject in seeding order.
func (s *ScanStore) Sessions(subject string) []string {
	return slices.Clone(s.sessions[subject])
}

// Set stores value under field unless the slot already holds a value other
// than n/a. It reports whether the value was stored.
func (s *ScanStore) Set(subject, session, group, field, value string) (bool, error) {
	if !slices.Contains(ScanGroups, group) {
		return false, fmt.Errorf("%w: %q", ErrUnknownModalityGroup, group)
	}

	slot, ok := s.slots[scanKey{subject, session, group}]
	if !ok {
		return false, fmt.Errorf("session %s/%s not seeded", subject, session)
	}

	current, exists := slot.values[field]
	if exists && current != table.Missing {
		return false, nil
	}

	if !exists {
		slot.keys = append(slot.keys, field)
	}

	slot.values[field] = value

	return true, nil
}

// Fields returns the field names of a slot in first-set order and a lookup
// for their values. An unknown slot has no fields.
func (s *ScanStore) Fields(subject, session, group string) ([]string, func(string) string) {
	slot, ok := s.slots[scanKey{subject, session, group}]
	if !ok {
		return nil, func(string) string { return "" }
	}

	return slices.Clone(slot.keys), func(field string) string { return slot.values[field] }
}

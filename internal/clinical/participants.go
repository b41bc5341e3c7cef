package clinical

import (
	"fmt"
	"slices"
	"strconv"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/mapping"
	"bidsmeta/internal/table"
)

// Participant is one row of participants.tsv.
type Participant struct {
	ID     string
	Fields map[string]string // empty or absent means missing
}

// participantSet accumulates participants keyed by source RID in order of
// first appearance.
type participantSet struct {
	columns []string
	order   []int
	byRID   map[int]map[string]string
}

// WriteParticipants builds and writes <bids>/participants.tsv.
func (c *Converter) WriteParticipants() error {
	rows, err := mapping.Load(c.FS, c.SpecsDir, mapping.Participants, c.Study)
	if err != nil {
		return err
	}

	participants, columns, err := buildParticipants(c.sources(), rows, c.Study)
	if err != nil {
		return err
	}

	if c.DeleteNonBIDSInfo {
		subjects, err := bids.Subjects(c.FS, c.BIDSDir)
		if err != nil {
			return err
		}

		participants = c.reconcileParticipants(participants, subjects)
	}

	tbl, err := participantTable(participants, columns)
	if err != nil {
		return err
	}

	if err := c.write(bids.ParticipantsPath(c.BIDSDir), tbl); err != nil {
		return err
	}

	c.Stats.ParticipantRows += tbl.Len()

	return nil
}

// buildParticipants joins the mapped demographic columns of every source by
// RID and normalizes them. It returns the participants and the output columns
// after participant_id.
func buildParticipants(src *Sources, rows []mapping.Row, study bids.Study) ([]Participant, []string, error) {
	set := participantSet{byRID: make(map[int]map[string]string)}

	for _, row := range rows {
		tbl, err := src.Load(row.Location)
		if err != nil {
			return nil, nil, err
		}

		if err := tbl.Require(columnRID, row.Source); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", row.Location, err)
		}

		if err := set.add(tbl, row); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", row.Location, err)
		}
	}

	if !slices.Contains(set.columns, fieldOriginalID) {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingField, fieldOriginalID)
	}

	out := make([]Participant, 0, len(set.order))

	for _, rid := range set.order {
		fields := set.byRID[rid]

		id, err := study.SubjectFromOriginal(fields[fieldOriginalID])
		if err != nil {
			return nil, nil, fmt.Errorf("participant with RID %d: %w", rid, err)
		}

		normalizeParticipant(fields)
		delete(fields, fieldOriginalID)

		out = append(out, Participant{ID: id, Fields: fields})
	}

	columns := slices.DeleteFunc(slices.Clone(set.columns), func(col string) bool {
		return col == fieldOriginalID || col == fieldParticipantID
	})

	return out, columns, nil
}

// add copies the mapped column of tbl into the set. A field mapped twice takes
// the values of the later mapping row. Within one source the first row of a
// subject wins.
func (s *participantSet) add(tbl *table.Table, row mapping.Row) error {
	if !slices.Contains(s.columns, row.Field) {
		s.columns = append(s.columns, row.Field)
	}

	for _, fields := range s.byRID {
		delete(fields, row.Field)
	}

	seen := make(map[int]bool)

	for i, n := 0, tbl.Len(); i < n; i++ {
		r := tbl.Row(i)

		rid, ok := bids.ParseRID(r.Get(columnRID))
		if !ok {
			return fmt.Errorf("%w: RID %q on row %d", bids.ErrInvalidOriginalID, r.Get(columnRID), i+1)
		}

		if seen[rid] {
			continue
		}

		seen[rid] = true

		fields, ok := s.byRID[rid]
		if !ok {
			fields = make(map[string]string)
			s.byRID[rid] = fields
			s.order = append(s.order, rid)
		}

		fields[row.Field] = r.Get(row.Source)
	}

	return nil
}

func normalizeParticipant(fields map[string]string) {
	if v, ok := fields[fieldDateOfBirth]; ok {
		fields[fieldDateOfBirth] = yearOfBirth(v)
	}

	if v, ok := fields[fieldSex]; ok {
		fields[fieldSex] = sexLabel(v)
	}

	for k, v := range fields {
		if table.IsMissing(v, MissingCode) {
			fields[k] = ""
		}
	}
}

func sexLabel(code string) string {
	f, err := strconv.ParseFloat(code, 64)
	if err != nil {
		return ""
	}

	switch f {
	case 1:
		return "M"
	case 2:
		return "F"
	default:
		return ""
	}
}

// reconcileParticipants restricts participants to the BIDS subjects, in BIDS
// order, adding an all-missing row for every subject without clinical data.
func (c *Converter) reconcileParticipants(participants []Participant, subjects []string) []Participant {
	byID := make(map[string]Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
	}

	out := make([]Participant, 0, len(subjects))

	for _, subject := range subjects {
		p, ok := byID[subject]
		if !ok {
			c.warn("No clinical data was found for participant "+subject,
				"its participants.tsv row is filled with n/a")
			c.Stats.MissingParticipants++

			p = Participant{ID: subject, Fields: map[string]string{}}
		}

		out = append(out, p)
	}

	return out
}

func participantTable(participants []Participant, columns []string) (*table.Table, error) {
	header := append([]string{fieldParticipantID}, columns...)
	rows := make([][]string, 0, len(participants))

	for _, p := range participants {
		row := make([]string, 0, len(header))
		row = append(row, p.ID)

		for _, col := range columns {
			row = append(row, table.OrMissing(p.Fields[col]))
		}

		rows = append(rows, row)
	}

	return table.New(header, rows)
}

package clinical

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/mapping"
	"bidsmeta/internal/table"
)

// examDateSources are searched in order for an exam date the sessions
// mapping could not provide.
var examDateSources = []string{
	"aibl_mri3meta_*.csv",
	"aibl_mrimeta_*.csv",
	"aibl_cdr_*.csv",
	"aibl_flutemeta_*.csv",
	"aibl_mmse_*.csv",
	"aibl_pibmeta_*.csv",
}

var requiredSessionFields = []string{fieldDiagnosis, fieldDateOfBirth, fieldExamDate}

// Session is one row of a subject's sessions.tsv.
type Session struct {
	ID     string
	Fields map[string]string // empty or absent means missing
}

// WriteSessions writes <sub>/<sub>_sessions.tsv for every subject of the BIDS
// tree.
func (c *Converter) WriteSessions() error {
	rows, err := mapping.Load(c.FS, c.SpecsDir, mapping.Sessions, c.Study)
	if err != nil {
		return err
	}

	if err := requireFields(rows, requiredSessionFields...); err != nil {
		return err
	}

	subjects, err := bids.Subjects(c.FS, c.BIDSDir)
	if err != nil {
		return err
	}

	src := c.sources()

	for _, subject := range subjects {
		if err := c.writeSubjectSessions(src, rows, subject); err != nil {
			return fmt.Errorf("%s: %w", subject, err)
		}
	}

	return nil
}

func (c *Converter) writeSubjectSessions(src *Sources, rows []mapping.Row, subject string) error {
	rid, err := c.Study.OriginalFromSubject(subject)
	if err != nil {
		return err
	}

	known, err := bids.Sessions(c.FS, c.BIDSDir, subject)
	if err != nil {
		return err
	}

	joined, err := joinSessionFields(src, rows, rid, known)
	if err != nil {
		return err
	}

	sessions, columns := sessionRecords(joined)

	for i := range sessions {
		s := &sessions[i]
		s.Fields[fieldDiagnosis] = diagnosisLabel(s.Fields[fieldDiagnosis])

		if s.Fields[fieldExamDate] != "" || !slices.Contains(known, s.ID) {
			continue
		}

		date, ok, err := findExamDate(src, rid, s.ID)
		if err != nil {
			return err
		}

		if ok {
			s.Fields[fieldExamDate] = date
			c.Stats.ExamDatesRecovered++
		}
	}

	if err := setAges(sessions); err != nil {
		return err
	}

	sessions = slices.DeleteFunc(sessions, func(s Session) bool {
		return !slices.Contains(known, s.ID)
	})
	slices.SortFunc(sessions, func(a, b Session) int { return cmp.Compare(a.ID, b.ID) })

	columns = slices.DeleteFunc(columns, func(col string) bool { return col == fieldDateOfBirth })
	if !slices.Contains(columns, fieldAge) {
		columns = append(columns, fieldAge)
	}

	tbl, err := sessionTable(sessions, columns)
	if err != nil {
		return err
	}

	if err := c.write(bids.SessionsPath(c.BIDSDir, subject), tbl); err != nil {
		return err
	}

	c.Stats.SessionFiles++
	c.Stats.SessionRows += tbl.Len()

	return nil
}

// joinSessionFields starts from the BIDS sessions of a subject and outer
// joins every mapped source column onto them by session label.
func joinSessionFields(src *Sources, rows []mapping.Row, rid int, known []string) (*table.Table, error) {
	base := make([][]string, 0, len(known))
	for _, ses := range known {
		base = append(base, []string{ses})
	}

	joined, err := table.New([]string{fieldSessionID}, base)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		tbl, err := src.Load(row.Location)
		if err != nil {
			return nil, err
		}

		if err := tbl.Require(columnRID, columnVisitCode, row.Source); err != nil {
			return nil, fmt.Errorf("%s: %w", row.Location, err)
		}

		right, err := sessionColumn(tbl, rid, row.Source, row.Field)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", row.Location, err)
		}

		joined, err = table.OuterJoin(joined, right, fieldSessionID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", row.Location, err)
		}
	}

	return joined, nil
}

// sessionColumn returns the (session_id, field) table of source column col
// for subject rid. Rows without a visit code are skipped and an unrecognised
// visit code is an error. A session with more than one source row has no
// value, so it is left out of the result.
func sessionColumn(tbl *table.Table, rid int, col, field string) (*table.Table, error) {
	rows := table.Filter(tbl, func(r table.Row) bool {
		got, ok := bids.ParseRID(r.Get(columnRID))

		return ok && got == rid && !table.IsNA(r.Get(columnVisitCode))
	})

	out, err := table.Select(rows, columnVisitCode, col)
	if err != nil {
		return nil, err
	}

	out, err = table.Map(out, columnVisitCode, bids.SessionFromVisitCode)
	if err != nil {
		return nil, fmt.Errorf("RID %d: %w", rid, err)
	}

	out, err = table.Rename(out, columnVisitCode, fieldSessionID)
	if err != nil {
		return nil, err
	}

	if col != field {
		out, err = table.Rename(out, col, field)
		if err != nil {
			return nil, err
		}
	}

	sessions, err := out.Column(fieldSessionID)
	if err != nil {
		return nil, err
	}

	count := make(map[string]int, len(sessions))
	for _, ses := range sessions {
		count[ses]++
	}

	return table.Filter(out, func(r table.Row) bool {
		return count[r.Get(fieldSessionID)] == 1
	}), nil
}

// rowSession returns the session label of r if it belongs to subject rid.
func rowSession(r table.Row, rid int) (string, bool, error) {
	got, ok := bids.ParseRID(r.Get(columnRID))
	if !ok || got != rid {
		return "", false, nil
	}

	code := r.Get(columnVisitCode)
	if table.IsNA(code) {
		return "", false, nil
	}

	ses, err := bids.SessionFromVisitCode(code)
	if err != nil {
		return "", false, fmt.Errorf("RID %d row %d: %w", rid, r.Index()+1, err)
	}

	return ses, true, nil
}

// sessionRecords converts the joined table into records with missing values
// normalized to empty. Rows whose session is not in BIDS keep their label so
// they still count towards the birth-date check; they are dropped later.
func sessionRecords(joined *table.Table) ([]Session, []string) {
	columns := slices.DeleteFunc(slices.Clone(joined.Header()), func(col string) bool {
		return col == fieldSessionID
	})

	out := make([]Session, 0, joined.Len())

	for i, n := 0, joined.Len(); i < n; i++ {
		r := joined.Row(i)
		fields := make(map[string]string, len(columns))

		for _, col := range columns {
			v := r.Get(col)
			if table.IsMissing(v, MissingCode) {
				v = ""
			}

			fields[col] = v
		}

		out = append(out, Session{ID: r.Get(fieldSessionID), Fields: fields})
	}

	return out, columns
}

func diagnosisLabel(code string) string {
	f, err := strconv.ParseFloat(code, 64)
	if err != nil {
		return ""
	}

	switch f {
	case 1:
		return "CN"
	case 2:
		return "MCI"
	case 3:
		return "AD"
	default:
		return ""
	}
}

// findExamDate searches the auxiliary exports for the exam date of a
// subject's session. Within a file only the first row of the session is
// considered; a missing date there moves the search to the next file.
func findExamDate(src *Sources, rid int, session string) (string, bool, error) {
	for _, pattern := range examDateSources {
		tbl, ok, err := src.LoadOptional(pattern)
		if err != nil {
			return "", false, err
		}

		if !ok {
			continue
		}

		if err := tbl.Require(columnRID, columnVisitCode, columnExamDate); err != nil {
			return "", false, fmt.Errorf("%s: %w", pattern, err)
		}

		for i, n := 0, tbl.Len(); i < n; i++ {
			r := tbl.Row(i)

			ses, ok, err := rowSession(r, rid)
			if err != nil {
				return "", false, fmt.Errorf("%s: %w", pattern, err)
			}

			if !ok || ses != session {
				continue
			}

			if date := r.Get(columnExamDate); !table.IsMissing(date, MissingCode) {
				return date, true, nil
			}

			break
		}
	}

	return "", false, nil
}

// setAges fills the age of every session when the subject has a single
// distinct date of birth, and leaves it absent otherwise.
func setAges(sessions []Session) error {
	var births []string

	for _, s := range sessions {
		if b := s.Fields[fieldDateOfBirth]; b != "" && !slices.Contains(births, b) {
			births = append(births, b)
		}
	}

	for i := range sessions {
		s := &sessions[i]
		s.Fields[fieldAge] = ""

		if len(births) != 1 {
			continue
		}

		age, ok, err := ageAtExam(births[0], s.Fields[fieldExamDate])
		if err != nil {
			return err
		}

		if ok {
			s.Fields[fieldAge] = strconv.Itoa(age)
		}
	}

	return nil
}

func sessionTable(sessions []Session, columns []string) (*table.Table, error) {
	header := append([]string{fieldSessionID}, columns...)
	rows := make([][]string, 0, len(sessions))

	for _, s := range sessions {
		row := make([]string, 0, len(header))
		row = append(row, s.ID)

		for _, col := range columns {
			row = append(row, table.OrMissing(s.Fields[col]))
		}

		rows = append(rows, row)
	}

	return table.New(header, rows)
}

func requireFields(rows []mapping.Row, fields ...string) error {
	for _, field := range fields {
		if !slices.ContainsFunc(rows, func(r mapping.Row) bool { return r.Field == field }) {
			return fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	return nil
}

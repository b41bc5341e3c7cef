package clinical_test

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bidsmeta/internal/bids"
	"bidsmeta/internal/clinical"
	"bidsmeta/internal/fs"
	"bidsmeta/internal/table"
)

type warning struct {
	issue  string
	action string
}

type recordingWarner struct {
	warnings []warning
}

func (w *recordingWarner) Warn(issue, action string) {
	w.warnings = append(w.warnings, warning{issue, action})
}

// dataset is an AIBL-shaped fixture: a BIDS tree, a clinical export folder
// and the mapping tables.
type dataset struct {
	root     string
	bids     string
	clinical string
	specs    string
	warner   *recordingWarner
}

const participantSpec = "BIDS CLINICA\tAIBL\tAIBL location\n" +
	"alternative_id_1\tRID\taibl_ptdemog_*.csv\n" +
	"sex\tPTGENDER\taibl_ptdemog_*.csv\n" +
	"date_of_birth\tPTDOB\taibl_ptdemog_*.csv\n"

const sessionSpec = "BIDS CLINICA\tAIBL\tAIBL location\n" +
	"diagnosis\tDXCURREN\taibl_pdxconv_*.csv\n" +
	"date_of_birth\tPTDOB\taibl_ptdemog_*.csv\n" +
	"examination_date\tEXAMDATE\taibl_mmse_*.csv\n" +
	"MMSE\tMMSCORE\taibl_mmse_*.csv\n"

const scanSpec = "BIDS CLINICA\tAIBL\tAIBL location\tModalities related\n" +
	"acq_time\tEXAMDATE\taibl_mri3meta_*.csv\tT1/DWI/fMRI/FMAP\n" +
	"acq_time\tEXAMDATE\taibl_mrimeta_*.csv\tT1/DWI/fMRI/FMAP\n" +
	"acq_time\tEXAMDATE\taibl_flutemeta_*.csv\t18FFMM\n"

func newDataset(t *testing.T) *dataset {
	t.Helper()

	root := t.TempDir()
	d := &dataset{
		root:     root,
		bids:     filepath.Join(root, "bids"),
		clinical: filepath.Join(root, "clinical"),
		specs:    filepath.Join(root, "specs"),
		warner:   &recordingWarner{},
	}

	d.write(t, "specs/participant.tsv", participantSpec)
	d.write(t, "specs/sessions.tsv", sessionSpec)
	d.write(t, "specs/scans.tsv", scanSpec)

	d.write(t, "clinical/aibl_ptdemog_01-Jun-2018.csv",
		"RID,VISCODE,PTGENDER,PTDOB\n"+
			"1,bl,1,/1950\n"+
			"1,m18,1,/1950\n"+
			"2,bl,2,-4\n"+
			"3,bl,3,/1940\n")
	d.write(t, "clinical/aibl_pdxconv_01-Jun-2018.csv",
		"RID,VISCODE,DXCURREN\n"+
			"1,bl,1\n"+
			"1,m18,2\n"+
			"1,m36,3\n"+
			"2,bl,-4\n")
	d.write(t, "clinical/aibl_mmse_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE,MMSCORE\n"+
			"1,bl,06/15/2010,29\n"+
			"1,m18,-4,28\n"+
			"2,bl,01/02/2008,30\n")
	d.write(t, "clinical/aibl_mri3meta_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE\n"+
			"1,m18,12/01/2011\n")
	d.write(t, "clinical/aibl_mrimeta_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE\n"+
			"1,bl,06/15/2010\n"+
			"1,m18,01/01/2012\n")
	d.write(t, "clinical/aibl_flutemeta_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE,MEASURE,FLAG\n"+
			"1,m18,12/02/2011,measured,AUSTIN AC CT Brain  H19s,0\n"+
			"2,bl,01/03/2008,x,1\n")

	d.write(t, "bids/sub-AIBL1/ses-M000/anat/sub-AIBL1_ses-M000_T1w.nii.gz", "")
	d.write(t, "bids/sub-AIBL1/ses-M000/anat/sub-AIBL1_ses-M000_T1w.json", "{}")
	d.write(t, "bids/sub-AIBL1/ses-M018/anat/sub-AIBL1_ses-M018_T1w.nii.gz", "")
	d.write(t, "bids/sub-AIBL1/ses-M018/pet/sub-AIBL1_ses-M018_trc-18FFMM_pet.nii.gz", "")
	d.mkdir(t, "bids/sub-AIBL2/ses-M000")
	d.write(t, "bids/sub-AIBL4/ses-M000/anat/sub-AIBL4_ses-M000_T1w.nii.gz", "")

	return d
}

func (d *dataset) write(t *testing.T, rel, content string) {
	t.Helper()

	path := filepath.Join(d.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func (d *dataset) mkdir(t *testing.T, rel string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(d.root, rel), 0o755))
}

func (d *dataset) read(t *testing.T, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(d.bids, rel))
	require.NoError(t, err)

	return string(data)
}

func readerOf(s string) *strings.Reader {
	return strings.NewReader(s)
}

func (d *dataset) converter() *clinical.Converter {
	return &clinical.Converter{
		FS:                fs.NewReal(),
		BIDSDir:           d.bids,
		ClinicalDir:       d.clinical,
		SpecsDir:          d.specs,
		Study:             bids.StudyAIBL,
		DeleteNonBIDSInfo: true,
		Warner:            d.warner,
	}
}

func TestWriteParticipants_MatchesBIDSSubjects(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	c := d.converter()

	require.NoError(t, c.WriteParticipants())

	want := "participant_id\tsex\tdate_of_birth\n" +
		"sub-AIBL1\tM\t1950\n" +
		"sub-AIBL2\tF\tn/a\n" +
		"sub-AIBL4\tn/a\tn/a\n"
	assert.Equal(t, want, d.read(t, "participants.tsv"))

	require.Len(t, d.warner.warnings, 1)
	assert.Contains(t, d.warner.warnings[0].issue, "sub-AIBL4")
	assert.Equal(t, 1, c.Stats.MissingParticipants)
	assert.Equal(t, 3, c.Stats.ParticipantRows)
}

func TestWriteParticipants_KeepsClinicalOnlySubjectsWithoutReconciliation(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	c := d.converter()
	c.DeleteNonBIDSInfo = false

	require.NoError(t, c.WriteParticipants())

	want := "participant_id\tsex\tdate_of_birth\n" +
		"sub-AIBL1\tM\t1950\n" +
		"sub-AIBL2\tF\tn/a\n" +
		"sub-AIBL3\tn/a\t1940\n"
	assert.Equal(t, want, d.read(t, "participants.tsv"))
	assert.Empty(t, d.warner.warnings)
}

func TestWriteParticipants_FailsWhenOriginalIDIsNotAnInteger(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_ptdemog_01-Jun-2018.csv",
		"RID,VISCODE,PTGENDER,PTDOB\n"+
			"1,bl,1,/1950\n"+
			"abc,bl,2,/1951\n")

	err := d.converter().WriteParticipants()
	require.ErrorIs(t, err, bids.ErrInvalidOriginalID)
}

func TestWriteParticipants_AcceptsSpreadsheetFormattedRID(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_ptdemog_01-Jun-2018.csv",
		"RID,VISCODE,PTGENDER,PTDOB\n"+
			"1.0,bl,1,/1950\n"+
			"2,bl,2,-4\n")

	require.NoError(t, d.converter().WriteParticipants())

	want := "participant_id\tsex\tdate_of_birth\n" +
		"sub-AIBL1\tM\t1950\n" +
		"sub-AIBL2\tF\tn/a\n" +
		"sub-AIBL4\tn/a\tn/a\n"
	assert.Equal(t, want, d.read(t, "participants.tsv"))
}

func TestWriteParticipants_FailsWhenSpecificationMissing(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	require.NoError(t, os.Remove(filepath.Join(d.specs, "participant.tsv")))

	err := d.converter().WriteParticipants()
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(d.specs, "participant.tsv"))
}

func TestWriteParticipants_FailsWhenSourceMissing(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	require.NoError(t, os.Remove(filepath.Join(d.clinical, "aibl_ptdemog_01-Jun-2018.csv")))

	err := d.converter().WriteParticipants()
	require.ErrorIs(t, err, clinical.ErrSourceNotFound)
	assert.Contains(t, err.Error(), "aibl_ptdemog_*.csv")
}

func TestWriteSessions_JoinsFieldsAndDerivesAge(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	c := d.converter()

	require.NoError(t, c.WriteSessions())

	want := "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tCN\t06/15/2010\t29\t60\n" +
		"ses-M018\tMCI\t12/01/2011\t28\t61\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv"))

	want = "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tn/a\t01/02/2008\t30\tn/a\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL2/sub-AIBL2_sessions.tsv"))

	want = "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tn/a\tn/a\tn/a\tn/a\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL4/sub-AIBL4_sessions.tsv"))

	assert.Equal(t, 3, c.Stats.SessionFiles)
	assert.Equal(t, 4, c.Stats.SessionRows)
	assert.Equal(t, 1, c.Stats.ExamDatesRecovered)
}

func TestWriteSessions_LeavesAgeUnresolvedWhenBirthDateAmbiguous(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_ptdemog_01-Jun-2018.csv",
		"RID,VISCODE,PTGENDER,PTDOB\n"+
			"1,bl,1,/1950\n"+
			"1,m18,1,/1951\n")

	require.NoError(t, d.converter().WriteSessions())

	want := "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tCN\t06/15/2010\t29\tn/a\n" +
		"ses-M018\tMCI\t12/01/2011\t28\tn/a\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv"))
}

func TestWriteSessions_MapsDiagnosisCodes(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_pdxconv_01-Jun-2018.csv",
		"RID,VISCODE,DXCURREN\n"+
			"1,bl,1\n"+
			"1,m18,2\n"+
			"1,m36,3\n"+
			"1,m54,4\n"+
			"1,m72,-4\n"+
			"1,m90,\n")

	for _, ses := range []string{"ses-M036", "ses-M054", "ses-M072", "ses-M090"} {
		d.mkdir(t, "bids/sub-AIBL1/"+ses)
	}

	require.NoError(t, d.converter().WriteSessions())

	tbl, err := table.ReadCSV(
		readerOf(d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv")),
		table.ReadOptions{Comma: '\t'},
	)
	require.NoError(t, err)

	got, err := tbl.Column("diagnosis")
	require.NoError(t, err)
	assert.Equal(t, []string{"CN", "MCI", "AD", "n/a", "n/a", "n/a"}, got)
}

func TestWriteSessions_DropsSessionsMissingFromBIDS(t *testing.T) {
	t.Parallel()

	d := newDataset(t)

	require.NoError(t, d.converter().WriteSessions())

	out := d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv")
	assert.NotContains(t, out, "ses-M036")
}

func TestWriteSessions_TreatsDuplicateVisitRowsAsAbsent(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_mmse_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE,MMSCORE\n"+
			"1,bl,06/15/2010,29\n"+
			"1,bl,06/16/2010,27\n"+
			"1,m18,-4,28\n")

	require.NoError(t, d.converter().WriteSessions())

	// The exam date comes from the fallback files once the duplicate is
	// discarded.
	want := "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tCN\t06/15/2010\tn/a\t60\n" +
		"ses-M018\tMCI\t12/01/2011\t28\t61\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv"))
}

func TestWriteSessions_FailsOnUnknownVisitCode(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_pdxconv_01-Jun-2018.csv",
		"RID,VISCODE,DXCURREN\n"+
			"1,bl,1\n"+
			"1,sc,2\n")

	err := d.converter().WriteSessions()
	require.ErrorIs(t, err, bids.ErrUnknownVisitCode)
	assert.Contains(t, err.Error(), "aibl_pdxconv_*.csv")
}

func TestWriteSessions_IgnoresOtherSubjectsAndMissingVisitCodes(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_pdxconv_01-Jun-2018.csv",
		"RID,VISCODE,DXCURREN\n"+
			"1,bl,1\n"+
			"1,NA,3\n"+
			"2,zz,2\n"+
			"1,m18,2\n")

	// The unknown code belongs to RID 2, so it only fails that subject.
	err := d.converter().WriteSessions()
	require.ErrorIs(t, err, bids.ErrUnknownVisitCode)
	assert.Contains(t, err.Error(), "sub-AIBL2")

	want := "session_id\tdiagnosis\texamination_date\tMMSE\tage\n" +
		"ses-M000\tCN\t06/15/2010\t29\t60\n" +
		"ses-M018\tMCI\t12/01/2011\t28\t61\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv"))
}

func TestWriteSessions_FailsWhenRequiredFieldUnmapped(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "specs/sessions.tsv",
		"BIDS CLINICA\tAIBL\tAIBL location\n"+
			"diagnosis\tDXCURREN\taibl_pdxconv_*.csv\n"+
			"examination_date\tEXAMDATE\taibl_mmse_*.csv\n")

	err := d.converter().WriteSessions()
	require.ErrorIs(t, err, clinical.ErrMissingField)
	assert.Contains(t, err.Error(), "date_of_birth")
}

func TestWriteSessions_FailsOnMalformedRowOutsideFlutemeta(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_mmse_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE,MMSCORE\n"+
			"1,bl,06/15/2010,29,extra\n")

	err := d.converter().WriteSessions()
	require.ErrorIs(t, err, table.ErrMalformedRow)
}

func TestWriteScans_FirstResolvedValueWins(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	c := d.converter()

	require.NoError(t, c.WriteScans())

	// ses-M000 has no mri3meta row, so the mrimeta date fills the slot.
	want := "filename\tacq_time\n" +
		"anat/sub-AIBL1_ses-M000_T1w.nii.gz\t2010-06-15T00:00:00\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/ses-M000/sub-AIBL1_ses-M000_scans.tsv"))

	// ses-M018 keeps the mri3meta date even though mrimeta has another.
	want = "filename\tacq_time\n" +
		"anat/sub-AIBL1_ses-M018_T1w.nii.gz\t2011-12-01T00:00:00\n" +
		"pet/sub-AIBL1_ses-M018_trc-18FFMM_pet.nii.gz\t2011-12-02T00:00:00\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/ses-M018/sub-AIBL1_ses-M018_scans.tsv"))

	want = "filename\tacq_time\n" +
		"anat/sub-AIBL4_ses-M000_T1w.nii.gz\tn/a\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL4/ses-M000/sub-AIBL4_ses-M000_scans.tsv"))

	_, err := os.Stat(filepath.Join(d.bids, "sub-AIBL2/ses-M000/sub-AIBL2_ses-M000_scans.tsv"))
	assert.True(t, os.IsNotExist(err), "session without scans must not get a table")

	assert.Equal(t, 1, c.Stats.RepairedRows)
	assert.Equal(t, 3, c.Stats.ScanFiles)
	assert.Equal(t, 4, c.Stats.ScanRows)
}

func TestWriteScans_TreatsAmbiguousRowsAsMissing(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "clinical/aibl_mri3meta_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE\n"+
			"1,m18,12/01/2011\n"+
			"1,m18,12/05/2011\n")
	d.write(t, "clinical/aibl_mrimeta_01-Jun-2018.csv",
		"RID,VISCODE,EXAMDATE\n"+
			"1,bl,06/15/2010\n")

	require.NoError(t, d.converter().WriteScans())

	want := "filename\tacq_time\n" +
		"anat/sub-AIBL1_ses-M018_T1w.nii.gz\tn/a\n" +
		"pet/sub-AIBL1_ses-M018_trc-18FFMM_pet.nii.gz\t2011-12-02T00:00:00\n"
	assert.Equal(t, want, d.read(t, "sub-AIBL1/ses-M018/sub-AIBL1_ses-M018_scans.tsv"))
}

func TestWriteScans_ReplacesPreviousTable(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "bids/sub-AIBL2/ses-M000/sub-AIBL2_ses-M000_scans.tsv", "stale\n")

	require.NoError(t, d.converter().WriteScans())

	_, err := os.Stat(filepath.Join(d.bids, "sub-AIBL2/ses-M000/sub-AIBL2_ses-M000_scans.tsv"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteScans_FailsOnUnknownModalityGroup(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "specs/scans.tsv",
		"BIDS CLINICA\tAIBL\tAIBL location\tModalities related\n"+
			"acq_time\tEXAMDATE\taibl_mri3meta_*.csv\tCT\n")

	err := d.converter().WriteScans()
	require.ErrorIs(t, err, clinical.ErrUnknownModalityGroup)
}

func TestConvert_WritesAllTables(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	c := d.converter()

	require.NoError(t, c.Convert())

	for _, rel := range []string{
		"participants.tsv",
		"sub-AIBL1/sub-AIBL1_sessions.tsv",
		"sub-AIBL1/ses-M018/sub-AIBL1_ses-M018_scans.tsv",
	} {
		assert.FileExists(t, filepath.Join(d.bids, rel))
	}

	assert.Equal(t, 1+3+3, c.Stats.FilesWritten())
}

func TestOutputs_NeverContainMissingCodeOrEmptyCells(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	require.NoError(t, d.converter().Convert())

	for _, rel := range []string{
		"participants.tsv",
		"sub-AIBL1/sub-AIBL1_sessions.tsv",
		"sub-AIBL2/sub-AIBL2_sessions.tsv",
		"sub-AIBL4/sub-AIBL4_sessions.tsv",
		"sub-AIBL4/ses-M000/sub-AIBL4_ses-M000_scans.tsv",
	} {
		tbl, err := table.ReadCSV(readerOf(d.read(t, rel)), table.ReadOptions{Comma: '\t'})
		require.NoError(t, err, rel)

		for _, row := range tbl.Rows() {
			for _, cell := range row {
				assert.NotEqual(t, "", cell, rel)
				assert.NotEqual(t, clinical.MissingCode, cell, rel)
			}
		}
	}
}

func TestConvert_StopsAtFirstFailedWriteAndKeepsPreviousTable(t *testing.T) {
	t.Parallel()

	d := newDataset(t)
	d.write(t, "bids/sub-AIBL1/sub-AIBL1_sessions.tsv", "session_id\nses-M000\n")

	chaos := fs.NewChaos(fs.NewReal(), 1, fs.ChaosConfig{})
	chaos.FailPath(fs.OpWrite, bids.SessionsPath(d.bids, "sub-AIBL1"), syscall.ENOSPC)

	c := d.converter()
	c.FS = chaos

	err := c.Convert()
	require.ErrorIs(t, err, syscall.ENOSPC)
	assert.True(t, fs.IsInjected(err))

	assert.FileExists(t, filepath.Join(d.bids, "participants.tsv"))
	assert.Equal(t, "session_id\nses-M000\n", d.read(t, "sub-AIBL1/sub-AIBL1_sessions.tsv"))
	assert.NoFileExists(t, filepath.Join(d.bids, "sub-AIBL1/ses-M000/sub-AIBL1_ses-M000_scans.tsv"))
}

func TestConvert_NeverLeavesPartialTablesUnderRandomFaults(t *testing.T) {
	t.Parallel()

	for seed := int64(0); seed < 20; seed++ {
		d := newDataset(t)

		chaos := fs.NewChaos(fs.NewReal(), seed, fs.ChaosConfig{WriteFailRate: 0.3, ReadFailRate: 0.05})
		chaos.SetMode(fs.ChaosModeInject)

		c := d.converter()
		c.FS = chaos

		err := c.Convert()
		if err != nil {
			require.True(t, fs.IsInjected(err), "seed %d: unexpected error %v", seed, err)
		}

		// Every table on disk parses and has a full header row.
		tables, listErr := bids.Tables(fs.NewReal(), d.bids)
		require.NoError(t, listErr)

		for _, rel := range tables {
			tbl, readErr := table.ReadCSV(readerOf(d.read(t, rel)), table.ReadOptions{Comma: '\t'})
			require.NoError(t, readErr, "seed %d: %s", seed, rel)
			assert.NotEmpty(t, tbl.Header(), "seed %d: %s", seed, rel)
		}
	}
}

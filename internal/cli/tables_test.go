package cli_test

import (
	"os"
	"strings"
	"testing"

	"bidsmeta/internal/cli"
)

// newCLIDataset returns a CLI whose directory holds a small AIBL dataset
// and a project config pointing at it.
func newCLIDataset(t *testing.T) *cli.CLI {
	t.Helper()

	c := cli.NewCLI(t)

	c.WriteFile(".bidsmeta.json", `{
		// paths are relative to the project file's directory
		"bids_dir": "bids",
		"clinical_data_dir": "clinical",
		"specifications_dir": "specs",
	}`)

	c.WriteFile("specs/participant.tsv", "BIDS CLINICA\tAIBL\tAIBL location\n"+
		"alternative_id_1\tRID\taibl_ptdemog_*.csv\n"+
		"sex\tPTGENDER\taibl_ptdemog_*.csv\n"+
		"date_of_birth\tPTDOB\taibl_ptdemog_*.csv\n")
	c.WriteFile("specs/sessions.tsv", "BIDS CLINICA\tAIBL\tAIBL location\n"+
		"diagnosis\tDXCURREN\taibl_pdxconv_*.csv\n"+
		"date_of_birth\tPTDOB\taibl_ptdemog_*.csv\n"+
		"examination_date\tEXAMDATE\taibl_mmse_*.csv\n")
	c.WriteFile("specs/scans.tsv", "BIDS CLINICA\tAIBL\tAIBL location\tModalities related\n"+
		"acq_time\tEXAMDATE\taibl_mri3meta_*.csv\tT1/DWI/fMRI/FMAP\n"+
		"acq_time\tEXAMDATE\taibl_flutemeta_*.csv\t18FFMM\n")

	c.WriteFile("clinical/aibl_ptdemog_01-Jun-2018.csv", "RID,VISCODE,PTGENDER,PTDOB\n"+
		"1,bl,1,/1950\n"+
		"2,bl,2,-4\n")
	c.WriteFile("clinical/aibl_pdxconv_01-Jun-2018.csv", "RID,VISCODE,DXCURREN\n"+
		"1,bl,1\n"+
		"1,m18,2\n"+
		"2,bl,3\n")
	c.WriteFile("clinical/aibl_mmse_01-Jun-2018.csv", "RID,VISCODE,EXAMDATE\n"+
		"1,bl,06/15/2010\n"+
		"1,m18,-4\n"+
		"2,bl,01/02/2008\n")
	c.WriteFile("clinical/aibl_mri3meta_01-Jun-2018.csv", "RID,VISCODE,EXAMDATE\n"+
		"1,bl,06/15/2010\n"+
		"1,m18,12/01/2011\n")
	c.WriteFile("clinical/aibl_flutemeta_01-Jun-2018.csv", "RID,VISCODE,EXAMDATE,MEASURE,FLAG\n"+
		"1,m18,12/02/2011,measured,AUSTIN AC CT Brain  H19s,0\n")

	c.WriteFile("bids/sub-AIBL1/ses-M000/anat/sub-AIBL1_ses-M000_T1w.nii.gz", "")
	c.WriteFile("bids/sub-AIBL1/ses-M018/anat/sub-AIBL1_ses-M018_T1w.nii.gz", "")
	c.WriteFile("bids/sub-AIBL1/ses-M018/pet/sub-AIBL1_ses-M018_trc-18FFMM_pet.nii.gz", "")
	c.WriteFile("bids/sub-AIBL2/ses-M000/anat/sub-AIBL2_ses-M000_T1w.nii.gz", "")
	c.WriteFile("bids/sub-AIBL5/ses-M000/anat/sub-AIBL5_ses-M000_T1w.nii.gz", "")

	return c
}

func Test_Convert_Writes_All_Tables_When_Dataset_Complete(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	stdout, stderr, exitCode := c.Run("convert")

	if got, want := exitCode, 0; got != want {
		t.Fatalf("exitCode=%d, want=%d\nstderr: %s", got, want, stderr)
	}

	cli.AssertContains(t, stdout, "participants.tsv: 3 rows (1 without clinical data)")
	cli.AssertContains(t, stdout, "sessions: 3 files, 4 rows (1 exam dates recovered)")
	cli.AssertContains(t, stdout, "scans: 4 files, 5 rows")
	cli.AssertContains(t, stdout, "repaired 1 malformed clinical rows")
	cli.AssertContains(t, stdout, "run: ")

	if got := strings.Count(stderr, "warning: No clinical data was found for participant sub-AIBL5"); got != 2 {
		t.Errorf("warning printed %d times, want at start and end\nstderr: %s", got, stderr)
	}

	if got, want := c.ReadFile("bids/participants.tsv"), "participant_id\tsex\tdate_of_birth\n"+
		"sub-AIBL1\tM\t1950\n"+
		"sub-AIBL2\tF\tn/a\n"+
		"sub-AIBL5\tn/a\tn/a\n"; got != want {
		t.Errorf("participants.tsv=%q, want=%q", got, want)
	}

	if got, want := c.ReadFile("bids/sub-AIBL1/sub-AIBL1_sessions.tsv"), "session_id\tdiagnosis\texamination_date\tage\n"+
		"ses-M000\tCN\t06/15/2010\t60\n"+
		"ses-M018\tMCI\t12/01/2011\t61\n"; got != want {
		t.Errorf("sessions.tsv=%q, want=%q", got, want)
	}

	if got, want := c.ReadFile("bids/sub-AIBL1/ses-M018/sub-AIBL1_ses-M018_scans.tsv"), "filename\tacq_time\n"+
		"anat/sub-AIBL1_ses-M018_T1w.nii.gz\t2011-12-01T00:00:00\n"+
		"pet/sub-AIBL1_ses-M018_trc-18FFMM_pet.nii.gz\t2011-12-02T00:00:00\n"; got != want {
		t.Errorf("scans.tsv=%q, want=%q", got, want)
	}

	if _, err := os.Stat(c.Path("bids/.bidsmeta.lock")); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed after the run, stat err=%v", err)
	}
}

func Test_Convert_Exits_Nonzero_On_Warnings_When_Strict(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	stdout, stderr, exitCode := c.Run("--strict", "convert")

	if got, want := exitCode, 1; got != want {
		t.Errorf("exitCode=%d, want=%d", got, want)
	}

	// Tables are still written and reported.
	cli.AssertContains(t, stdout, "participants.tsv: 3 rows")
	cli.AssertContains(t, stderr, "sub-AIBL5")
}

func Test_Participants_Keeps_Clinical_Only_Subjects_When_Flagged(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	c.WriteFile("clinical/aibl_ptdemog_01-Jun-2018.csv", "RID,VISCODE,PTGENDER,PTDOB\n"+
		"1,bl,1,/1950\n"+
		"3,bl,2,/1941\n")

	stdout, stderr, exitCode := c.Run("participants", "--keep-clinical-only")
	if exitCode != 0 {
		t.Fatalf("exitCode=%d\nstderr: %s", exitCode, stderr)
	}

	cli.AssertContains(t, stdout, "participants.tsv: 2 rows")
	cli.AssertNotContains(t, stdout, "sessions:")
	cli.AssertContains(t, c.ReadFile("bids/participants.tsv"), "sub-AIBL3\tF\t1941\n")
	cli.AssertNotContains(t, c.ReadFile("bids/participants.tsv"), "sub-AIBL5")
}

func Test_Sessions_And_Scans_Run_Separately_When_Invoked(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)

	stdout := c.MustRun("sessions")
	cli.AssertContains(t, stdout, "sessions: 3 files, 4 rows")
	cli.AssertNotContains(t, stdout, "participants.tsv")

	stdout = c.MustRun("scans")
	cli.AssertContains(t, stdout, "scans: 4 files, 5 rows")

	if _, err := os.Stat(c.Path("bids/participants.tsv")); !os.IsNotExist(err) {
		t.Errorf("participants.tsv should not be written by sessions or scans")
	}
}

func Test_Convert_Fails_When_Directories_Not_Configured(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("convert")

	cli.AssertContains(t, stderr, "bids_dir")
	cli.AssertContains(t, stderr, "--bids-dir")
}

func Test_Convert_Fails_When_BIDS_Dir_Missing(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	stderr := c.MustFail("--bids-dir", "nowhere", "convert")

	cli.AssertContains(t, stderr, "BIDS directory not found")

	if _, err := os.Stat(c.Path("nowhere")); !os.IsNotExist(err) {
		t.Error("missing BIDS directory must not be created")
	}
}

func Test_Convert_Fails_When_Clinical_Source_Missing(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	if err := os.Remove(c.Path("clinical/aibl_ptdemog_01-Jun-2018.csv")); err != nil {
		t.Fatal(err)
	}

	stderr := c.MustFail("convert")
	cli.AssertContains(t, stderr, "clinical data file not found")
	cli.AssertContains(t, stderr, "aibl_ptdemog_*.csv")
}

func Test_Path_Flags_Override_Config_When_Given(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	if err := os.Rename(c.Path("specs"), c.Path("mappings")); err != nil {
		t.Fatal(err)
	}

	c.MustFail("participants")
	c.MustRun("--specs-dir", "mappings", "participants")
}

func Test_Convert_Refreshes_Index_And_Metrics_When_Configured(t *testing.T) {
	t.Parallel()

	c := newCLIDataset(t)
	c.WriteFile(".bidsmeta.json", `{
		"bids_dir": "bids",
		"clinical_data_dir": "clinical",
		"specifications_dir": "specs",
		"index_db": "state/index.sqlite",
		"metrics_file": "metrics/bidsmeta.prom",
	}`)

	stdout := c.MustRun("convert")
	cli.AssertContains(t, stdout, "index: "+c.Path("state/index.sqlite"))

	if got := c.MustRun("query", "sub-AIBL1", "ses-M018", "age"); got != "61" {
		t.Errorf("age=%q, want 61", got)
	}

	if got := c.MustRun("query", "sub-AIBL2", "sex"); got != "F" {
		t.Errorf("sex=%q, want F", got)
	}

	metrics := c.ReadFile("metrics/bidsmeta.prom")
	cli.AssertContains(t, metrics, `bidsmeta_rows_written{table="sessions"} 4`)
	cli.AssertContains(t, metrics, "bidsmeta_missing_participants 1")
	cli.AssertContains(t, metrics, "bidsmeta_run_duration_seconds ")
	cli.AssertContains(t, metrics, `bidsmeta_last_run_info{command="convert"} 1`)
}

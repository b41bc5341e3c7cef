package clinical

import "errors"

// MissingCode is the value AIBL uses for "not available".
const MissingCode = "-4"

// Column names shared by the AIBL clinical exports.
const (
	columnRID       = "RID"
	columnVisitCode = "VISCODE"
	columnExamDate  = "EXAMDATE"
)

// BIDS fields with dedicated handling.
const (
	fieldParticipantID = "participant_id"
	fieldOriginalID    = "alternative_id_1"
	fieldSessionID     = "session_id"
	fieldSex           = "sex"
	fieldDateOfBirth   = "date_of_birth"
	fieldDiagnosis     = "diagnosis"
	fieldExamDate      = "examination_date"
	fieldAge           = "age"
	fieldAcqTime       = "acq_time"
	fieldFilename      = "filename"
)

// Errors returned by the builders.
var (
	ErrSourceNotFound       = errors.New("clinical data file not found")
	ErrMissingField         = errors.New("required field missing from clinical specification")
	ErrUnknownModalityGroup = errors.New("unknown modality group")
	ErrInvalidDate          = errors.New("invalid date")
)

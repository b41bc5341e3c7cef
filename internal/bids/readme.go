package bids

import (
	"fmt"
	"io"
)

// Readme is the content of a dataset's top-level README.
type Readme struct {
	Study       Study
	Link        string
	Description string
	Generator   string // e.g. "bidsmeta v0.3.0"
}

// ReadmeFor returns the README content for a study.
func ReadmeFor(study Study, generator string) (Readme, error) {
	switch study {
	case StudyAIBL:
		return Readme{
			Study: study,
			Link:  "https://aibl.org.au/",
			Description: "The Australian Imaging, Biomarker & Lifestyle (AIBL) Flagship Study of Ageing " +
				"follows a cohort of older adults to identify the biomarkers, cognitive characteristics, " +
				"and health and lifestyle factors that determine the development of Alzheimer's disease.",
			Generator: generator,
		}, nil
	default:
		return Readme{}, fmt.Errorf("%w: %q", ErrUnsupportedStudy, study)
	}
}

// Write renders the README.
func (r Readme) Write(w io.Writer) error {
	_, err := fmt.Fprintf(w,
		"This BIDS directory was generated with %s.\n\nStudy: %s\n\n%s\n\nFind more about it and about the data user agreement: %s\n",
		r.Generator, r.Study, r.Description, r.Link)

	return err
}

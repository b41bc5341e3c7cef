package bids

import (
	"fmt"
	"path/filepath"
	"strings"

	"bidsmeta/internal/fs"
)

// Directory name prefixes of a BIDS tree.
const (
	SubjectPrefix = "sub-"
	SessionPrefix = "ses-"
)

// ModalityDirs are the per-session folders that hold scans listed in a
// scans table.
var ModalityDirs = []string{"anat", "dwi", "func", "pet"}

// Dirs returns the names of the directories directly under dir whose names
// start with prefix, sorted by name.
func Dirs(fsys fs.FS, dir, prefix string) ([]string, error) {
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []string

	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			out = append(out, entry.Name())
		}
	}

	return out, nil
}

// Subjects returns the subject directories of a BIDS root.
func Subjects(fsys fs.FS, root string) ([]string, error) {
	return Dirs(fsys, root, SubjectPrefix)
}

// Sessions returns the session directories of a subject.
func Sessions(fsys fs.FS, root, subject string) ([]string, error) {
	return Dirs(fsys, filepath.Join(root, subject), SessionPrefix)
}

// SessionsPath returns the path of a subject's sessions table.
func SessionsPath(root, subject string) string {
	return filepath.Join(root, subject, subject+"_sessions.tsv")
}

// ScansPath returns the path of a session's scans table.
func ScansPath(root, subject, session string) string {
	return filepath.Join(root, subject, session, subject+"_"+session+"_scans.tsv")
}

// ParticipantsPath returns the path of the dataset's participants table.
func ParticipantsPath(root string) string {
	return filepath.Join(root, "participants.tsv")
}

// Tables returns the emitted phenotype tables present under root, relative to
// root: participants.tsv first, then per subject its sessions table and the
// scans table of each session. README is included when present.
func Tables(fsys fs.FS, root string) ([]string, error) {
	var out []string

	add := func(path string) error {
		ok, err := fsys.Exists(path)
		if err != nil {
			return err
		}

		if ok {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}

			out = append(out, filepath.ToSlash(rel))
		}

		return nil
	}

	if err := add(filepath.Join(root, "README")); err != nil {
		return nil, err
	}

	if err := add(ParticipantsPath(root)); err != nil {
		return nil, err
	}

	subjects, err := Subjects(fsys, root)
	if err != nil {
		return nil, err
	}

	for _, subject := range subjects {
		if err := add(SessionsPath(root, subject)); err != nil {
			return nil, err
		}

		sessions, err := Sessions(fsys, root, subject)
		if err != nil {
			return nil, err
		}

		for _, session := range sessions {
			if err := add(ScansPath(root, subject, session)); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

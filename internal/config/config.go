// Package config loads bidsmeta configuration from JSONC files and command
// line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"bidsmeta/internal/bids"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".bidsmeta.json"

// Errors returned while loading configuration.
var (
	ErrFileNotFound = errors.New("config file not found")
	ErrFileRead     = errors.New("cannot read config file")
	ErrInvalid      = errors.New("invalid config file")
	ErrDirEmpty     = errors.New("directory cannot be empty")
)

// Publish configures uploads of the emitted tables to an S3 bucket.
type Publish struct {
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`
}

// Config holds all configuration options.
type Config struct {
	BIDSDir           string  `json:"bids_dir"`
	ClinicalDataDir   string  `json:"clinical_data_dir"`
	SpecificationsDir string  `json:"specifications_dir"`
	Study             string  `json:"study"`
	DeleteNonBIDSInfo bool    `json:"delete_non_bids_info"`
	IndexDB           string  `json:"index_db,omitempty"`
	MetricsFile       string  `json:"metrics_file,omitempty"`
	Publish           Publish `json:"publish,omitzero"`

	// Resolved at load time.
	EffectiveCwd string  `json:"-"`
	Sources      Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // empty if not loaded
	Project string // empty if not loaded
}

// fileConfig is the on-disk form. Pointers distinguish "unset" from zero
// values so a later file can switch a flag off.
type fileConfig struct {
	BIDSDir           *string  `json:"bids_dir"`
	ClinicalDataDir   *string  `json:"clinical_data_dir"`
	SpecificationsDir *string  `json:"specifications_dir"`
	Study             *string  `json:"study"`
	DeleteNonBIDSInfo *bool    `json:"delete_non_bids_info"`
	IndexDB           *string  `json:"index_db"`
	MetricsFile       *string  `json:"metrics_file"`
	Publish           *Publish `json:"publish"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Study:             string(bids.StudyAIBL),
		DeleteNonBIDSInfo: true,
	}
}

// Overrides holds values given on the command line. Empty means not given.
type Overrides struct {
	BIDSDir           string
	ClinicalDataDir   string
	SpecificationsDir string
}

// LoadInput holds the inputs for Load.
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd; os.Getwd() when empty
	ConfigPath      string            // -c/--config
	Overrides       Overrides         // path flags
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/bidsmeta/config.json or ~/.config/bidsmeta/config.json)
//  3. Explicit config file via ConfigPath, or else the project config
//     (.bidsmeta.json in the working directory, if it exists)
//  4. Command line overrides
//
// Directory and file paths in the result are absolute.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	if path := globalPath(input.Env); path != "" {
		global, loaded, err := loadFile(path, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg = merge(cfg, global)
			cfg.Sources.Global = path
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false

	if input.ConfigPath != "" {
		projectPath, mustExist = input.ConfigPath, true
		if !filepath.IsAbs(projectPath) {
			projectPath = filepath.Join(workDir, projectPath)
		}

		if _, err := os.Stat(projectPath); err != nil {
			return Config{}, fmt.Errorf("%w: %s", ErrFileNotFound, input.ConfigPath)
		}
	}

	project, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg = merge(cfg, project)
		cfg.Sources.Project = projectPath
	}

	if v := input.Overrides.BIDSDir; v != "" {
		cfg.BIDSDir = v
	}

	if v := input.Overrides.ClinicalDataDir; v != "" {
		cfg.ClinicalDataDir = v
	}

	if v := input.Overrides.SpecificationsDir; v != "" {
		cfg.SpecificationsDir = v
	}

	study, err := bids.ParseStudy(cfg.Study)
	if err != nil {
		return Config{}, err
	}

	cfg.Study = string(study)

	cfg.EffectiveCwd = workDir
	cfg.BIDSDir = resolve(workDir, cfg.BIDSDir)
	cfg.ClinicalDataDir = resolve(workDir, cfg.ClinicalDataDir)
	cfg.SpecificationsDir = resolve(workDir, cfg.SpecificationsDir)
	cfg.IndexDB = resolve(workDir, cfg.IndexDB)
	cfg.MetricsFile = resolve(workDir, cfg.MetricsFile)

	return cfg, nil
}

// globalPath returns $XDG_CONFIG_HOME/bidsmeta/config.json, falling back to
// ~/.config/bidsmeta/config.json, or "" when neither variable is set.
func globalPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "bidsmeta", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "bidsmeta", "config.json")
	}

	return ""
}

func loadFile(path string, mustExist bool) (fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if mustExist {
			return fileConfig{}, false, fmt.Errorf("%w: %s", ErrFileRead, path)
		}

		return fileConfig{}, false, nil
	}

	fc, err := parse(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return fc, true, nil
}

func parse(data []byte) (fileConfig, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var fc fileConfig

	if err := json.Unmarshal(standardized, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("invalid JSON: %w", err)
	}

	for name, v := range map[string]*string{
		"bids_dir":           fc.BIDSDir,
		"clinical_data_dir":  fc.ClinicalDataDir,
		"specifications_dir": fc.SpecificationsDir,
	} {
		if v != nil && *v == "" {
			return fileConfig{}, fmt.Errorf("%s: %w", name, ErrDirEmpty)
		}
	}

	return fc, nil
}

func merge(base Config, overlay fileConfig) Config {
	if overlay.BIDSDir != nil {
		base.BIDSDir = *overlay.BIDSDir
	}

	if overlay.ClinicalDataDir != nil {
		base.ClinicalDataDir = *overlay.ClinicalDataDir
	}

	if overlay.SpecificationsDir != nil {
		base.SpecificationsDir = *overlay.SpecificationsDir
	}

	if overlay.Study != nil {
		base.Study = *overlay.Study
	}

	if overlay.DeleteNonBIDSInfo != nil {
		base.DeleteNonBIDSInfo = *overlay.DeleteNonBIDSInfo
	}

	if overlay.IndexDB != nil {
		base.IndexDB = *overlay.IndexDB
	}

	if overlay.MetricsFile != nil {
		base.MetricsFile = *overlay.MetricsFile
	}

	if overlay.Publish != nil {
		base.Publish = *overlay.Publish
	}

	return base
}

func resolve(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

// Require reports an error naming the first empty directory setting among
// bids_dir, clinical_data_dir and specifications_dir.
func (c Config) Require() error {
	for _, f := range []struct{ name, value string }{
		{"bids_dir", c.BIDSDir},
		{"clinical_data_dir", c.ClinicalDataDir},
		{"specifications_dir", c.SpecificationsDir},
	} {
		if f.value == "" {
			return dirEmpty(f.name)
		}
	}

	return nil
}

// RequireBIDS reports an error when bids_dir is empty. Commands that only
// read the emitted tables need nothing else.
func (c Config) RequireBIDS() error {
	if c.BIDSDir == "" {
		return dirEmpty("bids_dir")
	}

	return nil
}

func dirEmpty(name string) error {
	return fmt.Errorf("%s: %w (set it in %s or pass --%s)", name, ErrDirEmpty, FileName, flagName(name))
}

func flagName(key string) string {
	switch key {
	case "bids_dir":
		return "bids-dir"
	case "clinical_data_dir":
		return "clinical-dir"
	default:
		return "specs-dir"
	}
}

// Format returns the config as indented JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}

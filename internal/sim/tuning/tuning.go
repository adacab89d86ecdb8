package tuning

import (
	"fmt"
	"os"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"signlink.ai/internal/signlink"
	"signlink.ai/internal/signlink/variables"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	UpdateEveryTicks   int `yaml:"update_every_ticks"`
	RevealTicks        int `yaml:"reveal_ticks"`
	MaxLineWidth       int `yaml:"max_line_width"`
	ChunkSize          int `yaml:"chunk_size"`
	ViewRadiusChunks   int `yaml:"view_radius_chunks"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	VariableDelim    string `yaml:"variable_delim"`
	FoldVariableCase bool   `yaml:"fold_variable_case"`

	RateLimits RateLimits `yaml:"rate_limits"`
}

type RateLimits struct {
	EditWindowTicks     int `yaml:"edit_window_ticks"`
	EditMax             int `yaml:"edit_max"`
	InteractWindowTicks int `yaml:"interact_window_ticks"`
	InteractMax         int `yaml:"interact_max"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		UpdateEveryTicks:   20,
		RevealTicks:        1,
		MaxLineWidth:       15,
		ChunkSize:          16,
		ViewRadiusChunks:   4,
		SnapshotEveryTicks: 6000,
		VariableDelim:      string(variables.DefaultDelim),
		RateLimits: RateLimits{
			EditWindowTicks:     20,
			EditMax:             5,
			InteractWindowTicks: 20,
			InteractMax:         10,
		},
	}
}

// Load reads tuning.yaml. Missing keys keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0:
		return fmt.Errorf("tick_rate_hz must be > 0")
	case t.UpdateEveryTicks <= 0:
		return fmt.Errorf("update_every_ticks must be > 0")
	case t.RevealTicks <= 0:
		return fmt.Errorf("reveal_ticks must be > 0")
	case t.MaxLineWidth <= 0:
		return fmt.Errorf("max_line_width must be > 0")
	case t.ChunkSize <= 0:
		return fmt.Errorf("chunk_size must be > 0")
	case t.ViewRadiusChunks < 0:
		return fmt.Errorf("view_radius_chunks must be >= 0")
	case utf8.RuneCountInString(t.VariableDelim) != 1:
		return fmt.Errorf("variable_delim must be a single character, got %q", t.VariableDelim)
	}
	return nil
}

func (t Tuning) Policy() variables.NamePolicy {
	r, _ := utf8.DecodeRuneInString(t.VariableDelim)
	return variables.NamePolicy{Delim: r, FoldCase: t.FoldVariableCase}
}

func (t Tuning) EngineConfig() signlink.Config {
	return signlink.Config{
		UpdateEveryTicks: uint64(t.UpdateEveryTicks),
		RevealTicks:      uint64(t.RevealTicks),
		MaxLineWidth:     t.MaxLineWidth,
		Policy:           t.Policy(),
	}
}

type variablesFile struct {
	Variables []signlink.Definition `yaml:"variables"`
}

// LoadVariables reads variable definitions from variables.yaml.
func LoadVariables(path string) ([]signlink.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f variablesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("variables.yaml: %w", err)
	}
	return f.Variables, nil
}

// WriteVariables stores definitions in the variables.yaml format.
func WriteVariables(path string, defs []signlink.Definition) error {
	raw, err := yaml.Marshal(variablesFile{Variables: defs})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig holds the narration timings and content limits. The timings
// are perceptual tuning values, not correctness requirements.
type PipelineConfig struct {
	Progress  ProgressConfig `yaml:"progress"`
	Limits    LimitsConfig   `yaml:"limits"`
	Materials []string       `yaml:"materials"`
}

type ProgressConfig struct {
	TickInterval    time.Duration            `yaml:"tickInterval"`
	InitialProgress float64                  `yaml:"initialProgress"`
	CompletionDelay time.Duration            `yaml:"completionDelay"`
	DefaultDwell    time.Duration            `yaml:"defaultDwell"`
	Dwell           map[string]time.Duration `yaml:"dwell"`
}

// LimitsConfig seeds the runtime limits when the settings store has none.
type LimitsConfig struct {
	MaxCharacters int `yaml:"maxCharacters"`
	MaxWords      int `yaml:"maxWords"`
}

// DefaultPipelineConfig mirrors config/pipeline.yaml.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Progress: ProgressConfig{
			TickInterval:    250 * time.Millisecond,
			InitialProgress: 0.02,
			CompletionDelay: 800 * time.Millisecond,
			DefaultDwell:    600 * time.Millisecond,
			Dwell: map[string]time.Duration{
				"validating": 500 * time.Millisecond,
				"reading":    900 * time.Millisecond,
				"extracting": 900 * time.Millisecond,
				"analyzing":  700 * time.Millisecond,
				"generating": 1200 * time.Millisecond,
				"finalizing": 500 * time.Millisecond,
			},
		},
		Limits: LimitsConfig{
			MaxCharacters: 100000,
			MaxWords:      20000,
		},
		Materials: []string{"flashcards", "quiz", "key_terms"},
	}
}

// LoadPipelineConfig overlays the yaml file at path on the defaults. A missing
// file is not an error.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cfg := DefaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *PipelineConfig) Validate() error {
	if c.Progress.TickInterval <= 0 {
		return fmt.Errorf("progress.tickInterval must be positive")
	}
	if c.Progress.InitialProgress < 0 || c.Progress.InitialProgress >= 1 {
		return fmt.Errorf("progress.initialProgress must be in [0,1)")
	}
	for stage, d := range c.Progress.Dwell {
		if d < 0 {
			return fmt.Errorf("progress.dwell.%s must not be negative", stage)
		}
	}
	if c.Limits.MaxCharacters <= 0 || c.Limits.MaxWords <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	return nil
}

package annotation

import (
	"fmt"
	"runtime"

	tmerrors "github.com/MichalMed/termit/pkg/errors"
	"github.com/MichalMed/termit/pkg/selector"
)

// DefaultOccurrenceType marks annotation nodes in the analyzed markup.
const DefaultOccurrenceType = "ddo:vyskyt-termu"

// Config controls how annotated markup becomes occurrences.
type Config struct {
	// OccurrenceType is the typeof token identifying annotation nodes.
	OccurrenceType string `yaml:"occurrence_type"`
	// MinScore is the promotion threshold. Occurrences scoring at least
	// this much get their term assigned to the file.
	MinScore float64 `yaml:"min_score"`
	// ContextLength is the prefix and suffix budget in runes.
	ContextLength int `yaml:"context_length"`
	// Workers bounds parallel selector generation.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the default annotation settings.
func DefaultConfig() Config {
	return Config{
		OccurrenceType: DefaultOccurrenceType,
		MinScore:       0.8,
		ContextLength:  selector.DefaultContextLength,
		Workers:        runtime.GOMAXPROCS(0),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.OccurrenceType == "" {
		return fmt.Errorf("%w: annotation.occurrence_type is required", tmerrors.ErrValidation)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("%w: annotation.min_score must not be negative", tmerrors.ErrValidation)
	}
	if c.ContextLength < 0 {
		return fmt.Errorf("%w: annotation.context_length must not be negative", tmerrors.ErrValidation)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: annotation.workers must not be negative", tmerrors.ErrValidation)
	}
	return nil
}

// Package dataset reads and writes episode files used for demonstrations and
// offline relabelling.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cartridge/otreward/internal/types"
)

// ErrNoEpisodes is returned when a file holds no episodes.
var ErrNoEpisodes = errors.New("dataset contains no episodes")

// File is the on-disk episode format.
type File struct {
	EnvID    string                `json:"env_id,omitempty"`
	Spec     types.ObservationSpec `json:"observation_spec"`
	Episodes []types.Episode       `json:"episodes"`
}

// Validate checks every observation against the file's spec.
func (f *File) Validate() error {
	if err := f.Spec.Validate(); err != nil {
		return err
	}
	if len(f.Episodes) == 0 {
		return ErrNoEpisodes
	}
	for i, episode := range f.Episodes {
		for j, t := range episode {
			if err := f.Spec.Check(t.Observation); err != nil {
				return fmt.Errorf("episode %d step %d observation: %w", i, j, err)
			}
			if t.NextObservation != nil {
				if err := f.Spec.Check(t.NextObservation); err != nil {
					return fmt.Errorf("episode %d step %d next observation: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

// Load reads and validates an episode file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", path, err)
	}
	return &f, nil
}

// Save writes f to path, replacing any existing file.
func Save(path string, f *File) error {
	if err := f.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dataset: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write dataset: %w", err)
	}
	return os.Rename(tmp, path)
}

// Factory returns a demonstration factory reading path on each call.
func Factory(path string) func() ([]types.Episode, error) {
	return func() ([]types.Episode, error) {
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		return f.Episodes, nil
	}
}

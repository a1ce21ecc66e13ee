// Package demo holds the embedded expert demonstrations that agent episodes
// are aligned against.
package demo

import (
	"errors"
	"fmt"

	"github.com/cartridge/otreward/internal/preprocess"
	"github.com/cartridge/otreward/internal/types"
)

var (
	ErrNoDemonstrations = errors.New("demonstration factory returned no episodes")
	ErrEmptyEpisode     = errors.New("demonstration episode has no steps")
)

// Factory produces the expert episodes. It is called exactly once.
type Factory func() ([]types.Episode, error)

// Store is an immutable set of embedded demonstrations.
//
// Demonstrations are embedded with the preprocessor state at construction
// and are never re-embedded, even when encoder parameters are refreshed
// later.
type Store struct {
	embeddings [][][]float64
	steps      int
}

// NewStore calls factory and embeds every demonstration observation.
//
// When p also implements preprocess.Updater it is first updated with all
// demonstration observations, so a mean/std normaliser without partial
// updates freezes on demonstration statistics.
func NewStore(factory Factory, p preprocess.Preprocessor) (*Store, error) {
	if factory == nil {
		return nil, fmt.Errorf("demonstration factory is required")
	}
	if p == nil {
		return nil, fmt.Errorf("preprocessor is required")
	}
	episodes, err := factory()
	if err != nil {
		return nil, fmt.Errorf("load demonstrations: %w", err)
	}
	if len(episodes) == 0 {
		return nil, ErrNoDemonstrations
	}

	spec := p.Spec()
	var all [][]float64
	for i, episode := range episodes {
		if len(episode) == 0 {
			return nil, fmt.Errorf("demonstration %d: %w", i, ErrEmptyEpisode)
		}
		for j, obs := range episode.Observations() {
			if err := spec.Check(obs); err != nil {
				return nil, fmt.Errorf("demonstration %d step %d: %w", i, j, err)
			}
		}
		all = append(all, episode.Observations()...)
	}

	if u, ok := p.(preprocess.Updater); ok {
		if err := u.Update(all); err != nil {
			return nil, fmt.Errorf("fit preprocessor on demonstrations: %w", err)
		}
	}

	s := &Store{embeddings: make([][][]float64, len(episodes))}
	for i, episode := range episodes {
		emb, err := preprocess.TransformAll(p, episode.Observations())
		if err != nil {
			return nil, fmt.Errorf("embed demonstration %d: %w", i, err)
		}
		s.embeddings[i] = emb
		s.steps += len(emb)
	}
	return s, nil
}

// FromEmbeddings builds a store from already embedded demonstrations.
func FromEmbeddings(embeddings [][][]float64) (*Store, error) {
	if len(embeddings) == 0 {
		return nil, ErrNoDemonstrations
	}
	s := &Store{embeddings: make([][][]float64, len(embeddings))}
	for i, demo := range embeddings {
		if len(demo) == 0 {
			return nil, fmt.Errorf("demonstration %d: %w", i, ErrEmptyEpisode)
		}
		copied := make([][]float64, len(demo))
		for j, emb := range demo {
			copied[j] = append([]float64(nil), emb...)
		}
		s.embeddings[i] = copied
		s.steps += len(demo)
	}
	return s, nil
}

// Embeddings returns the demonstration embeddings in store order. Callers
// must not modify the returned slices.
func (s *Store) Embeddings() [][][]float64 { return s.embeddings }

// Len is the number of demonstrations.
func (s *Store) Len() int { return len(s.embeddings) }

// Steps is the total number of embedded demonstration steps.
func (s *Store) Steps() int { return s.steps }

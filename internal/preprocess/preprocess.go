// Package preprocess maps raw observations to the embeddings compared by the
// transport cost engine.
package preprocess

import (
	"github.com/cartridge/otreward/internal/types"
)

// Preprocessor embeds a single observation.
type Preprocessor interface {
	// Transform returns the embedding of obs. It fails with
	// types.ErrShapeMismatch when obs does not fit the observation spec.
	Transform(obs []float64) ([]float64, error)

	// Spec returns the observation spec inputs are checked against.
	Spec() types.ObservationSpec
}

// Updater is implemented by preprocessors that learn from observed batches.
type Updater interface {
	Update(batch [][]float64) error
}

// TransformAll embeds every observation of a trajectory in order.
func TransformAll(p Preprocessor, observations [][]float64) ([][]float64, error) {
	out := make([][]float64, len(observations))
	for i, obs := range observations {
		emb, err := p.Transform(obs)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}

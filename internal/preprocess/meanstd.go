package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/cartridge/otreward/internal/types"
)

// DefaultEpsilon keeps normalisation finite on constant dimensions.
const DefaultEpsilon = 1e-8

// MeanStd normalises observations with running per-dimension moments:
// (x - mean) / sqrt(var + eps).
//
// With partial updates disabled the statistics freeze after the first
// Update, which the demonstration store performs with every demonstration
// observation.
type MeanStd struct {
	spec          types.ObservationSpec
	partialUpdate bool
	epsilon       float64

	count    float64
	mean     []float64
	variance []float64
	frozen   bool
}

// NewMeanStd creates a normaliser with mean 0 and variance 1.
func NewMeanStd(spec types.ObservationSpec, partialUpdate bool) (*MeanStd, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	size := spec.Size()
	variance := make([]float64, size)
	for i := range variance {
		variance[i] = 1
	}
	return &MeanStd{
		spec:          spec,
		partialUpdate: partialUpdate,
		epsilon:       DefaultEpsilon,
		mean:          make([]float64, size),
		variance:      variance,
	}, nil
}

// Spec implements Preprocessor.
func (m *MeanStd) Spec() types.ObservationSpec { return m.spec }

// Transform implements Preprocessor. It never mutates the statistics.
func (m *MeanStd) Transform(obs []float64) ([]float64, error) {
	if err := m.spec.Check(obs); err != nil {
		return nil, err
	}
	out := make([]float64, len(obs))
	for i, x := range obs {
		out[i] = (x - m.mean[i]) / math.Sqrt(m.variance[i]+m.epsilon)
	}
	return out, nil
}

// Update folds a batch of observations into the running moments. It is a
// no-op once the statistics are frozen.
func (m *MeanStd) Update(batch [][]float64) error {
	if m.frozen || len(batch) == 0 {
		return nil
	}
	size := m.spec.Size()
	data := mat.NewDense(len(batch), size, nil)
	for i, obs := range batch {
		if err := m.spec.Check(obs); err != nil {
			return fmt.Errorf("batch row %d: %w", i, err)
		}
		data.SetRow(i, obs)
	}

	n := float64(len(batch))
	total := m.count + n
	col := make([]float64, len(batch))
	for j := 0; j < size; j++ {
		mat.Col(col, j, data)
		batchMean, batchVar := stat.PopMeanVariance(col, nil)

		// Chan et al. pairwise merge of (count, mean, M2).
		delta := batchMean - m.mean[j]
		m2 := m.variance[j]*m.count + batchVar*n + delta*delta*m.count*n/total
		m.mean[j] += delta * n / total
		m.variance[j] = m2 / total
	}
	m.count = total

	if !m.partialUpdate {
		m.frozen = true
	}
	return nil
}

// Count is the number of observations folded into the statistics.
func (m *MeanStd) Count() float64 { return m.count }

// Frozen reports whether further updates are ignored.
func (m *MeanStd) Frozen() bool { return m.frozen }

// Moments returns copies of the running mean and variance.
func (m *MeanStd) Moments() (mean, variance []float64) {
	return append([]float64(nil), m.mean...), append([]float64(nil), m.variance...)
}

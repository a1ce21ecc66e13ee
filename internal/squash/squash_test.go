package squash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSquashers_Monotone(t *testing.T) {
	linear, err := NewLinear(10, 1)
	require.NoError(t, err)
	exponential, err := NewExponential(10, 1)
	require.NoError(t, err)

	costs := []float64{0, 0.01, 0.5, 1, 3, 50}
	for _, s := range []Squasher{linear, exponential} {
		for i := 1; i < len(costs); i++ {
			assert.GreaterOrEqual(t, s.Squash(costs[i-1]), s.Squash(costs[i]),
				"%T not monotone between %g and %g", s, costs[i-1], costs[i])
		}
	}
}

func TestSquashers_DoublingAlphaLowersReward(t *testing.T) {
	for _, kind := range []string{"linear", "exponential"} {
		base, err := New(kind, 2, 1)
		require.NoError(t, err)
		doubled, err := New(kind, 4, 1)
		require.NoError(t, err)

		for _, c := range []float64{0.001, 0.1, 1, 2} {
			assert.Less(t, doubled.Squash(c), base.Squash(c), "%s at cost %g", kind, c)
		}
	}
}

func TestSquashers_MaximumAtZeroCost(t *testing.T) {
	linear, err := NewLinear(5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, linear.Squash(0))

	exponential, err := NewExponential(5, 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, exponential.Squash(0))
	assert.Greater(t, exponential.Squash(10), 0.0)
}

func TestSquashers_RejectBadScale(t *testing.T) {
	_, err := NewLinear(0, 1)
	assert.ErrorIs(t, err, ErrNonPositiveScale)
	_, err = NewExponential(-1, 1)
	assert.ErrorIs(t, err, ErrNonPositiveScale)
	_, err = New("cubic", 1, 1)
	assert.Error(t, err)
}

func TestAll(t *testing.T) {
	rewards := All(Func(func(c float64) float64 { return -c }), []float64{1, 2})
	assert.Equal(t, []float64{-1, -2}, rewards)
}

package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartridge/otreward/internal/types"
)

func episode(rewards ...float64) types.Episode {
	e := make(types.Episode, len(rewards))
	for i, r := range rewards {
		e[i] = types.Transition{Observation: []float64{float64(i)}, Reward: r}
	}
	return e
}

func TestMeanRewards(t *testing.T) {
	means := MeanRewards([]types.Episode{
		episode(1, 2, 3),
		episode(3, 4),
	})
	assert.Equal(t, []float64{2, 3}, means)
	assert.Nil(t, MeanRewards(nil))
}

func TestSaveRewards(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rewards.png")
	err := SaveRewards(path, "relabel",
		Series{Name: "environment", Episodes: []types.Episode{episode(0, -1, -2)}},
		Series{Name: "relabeled", Episodes: []types.Episode{episode(-3, -2, -1)}},
		Series{Name: "empty"},
	)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

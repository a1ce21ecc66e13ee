// Package report plots relabelled rewards next to the environment rewards
// they replaced.
package report

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/cartridge/otreward/internal/types"
)

// Series is a named set of episodes plotted as its mean per-step reward.
type Series struct {
	Name     string
	Episodes []types.Episode
}

// MeanRewards returns the mean reward at every step over episodes. Steps
// beyond the shortest episode are dropped.
func MeanRewards(episodes []types.Episode) []float64 {
	if len(episodes) == 0 {
		return nil
	}
	steps := len(episodes[0])
	for _, episode := range episodes[1:] {
		steps = min(steps, len(episode))
	}
	means := make([]float64, steps)
	column := make([]float64, len(episodes))
	for t := 0; t < steps; t++ {
		for i, episode := range episodes {
			column[i] = episode[t].Reward
		}
		means[t] = stat.Mean(column, nil)
	}
	return means
}

// Rewards builds a line plot with one line per series.
func Rewards(title string, series ...Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Mean reward"

	for i, s := range series {
		means := MeanRewards(s.Episodes)
		if len(means) == 0 {
			continue
		}
		points := make(plotter.XYs, len(means))
		for t, v := range means {
			points[t] = plotter.XY{X: float64(t), Y: v}
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.Name, err)
		}
		line.Color = plotutil.Color(i)
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}
	return p, nil
}

// SaveRewards writes the reward plot to path. The image format follows the
// file extension.
func SaveRewards(path, title string, series ...Series) error {
	p, err := Rewards(title, series...)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot %s: %w", path, err)
	}
	return nil
}

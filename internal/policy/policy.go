// Package policy provides action selection strategies for the actor
package policy

// Policy interface for action selection
type Policy interface {
	// SelectAction chooses a continuous action given the current observation
	SelectAction(observation []float64) ([]float64, error)
}

package replay

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// MemoryBackend implements an in-memory replay buffer. It is safe for use by
// several actors at once.
type MemoryBackend struct {
	mu          sync.RWMutex
	transitions map[string]*Transition // ID -> Transition
	episodes    map[string][]string    // EpisodeID -> TransitionIDs
	envIndex    map[string][]string    // EnvID -> TransitionIDs
	timeIndex   []string               // TransitionIDs sorted by timestamp
	maxSize     uint64                 // Maximum number of transitions to store
	src         rand.Source
	rng         *rand.Rand
}

// NewMemoryBackend creates a new in-memory storage backend. A maxSize of 0
// disables eviction.
func NewMemoryBackend(maxSize uint64) *MemoryBackend {
	m := &MemoryBackend{
		transitions: make(map[string]*Transition),
		episodes:    make(map[string][]string),
		envIndex:    make(map[string][]string),
		timeIndex:   make([]string, 0),
		maxSize:     maxSize,
	}
	m.Seed(uint64(time.Now().UnixNano()))
	return m
}

// Seed resets the sampling source.
func (m *MemoryBackend) Seed(seed uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.src = rand.NewSource(seed)
	m.rng = rand.New(m.src)
}

// Store implements Backend.Store
func (m *MemoryBackend) Store(ctx context.Context, transition *Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(transition)
}

// StoreBatch implements Backend.StoreBatch. The batch is stored under a
// single lock so a relabelled episode becomes visible all at once.
func (m *MemoryBackend) StoreBatch(ctx context.Context, transitions []*Transition) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(transitions))
	for i, transition := range transitions {
		if err := m.store(transition); err != nil {
			return ids[:i], err
		}
		ids[i] = transition.ID
	}
	return ids, nil
}

// Sample implements Backend.Sample. Prioritized sampling draws without
// replacement with probability priority^alpha and returns importance weights
// normalised to a maximum of 1; uniform sampling returns unit weights.
func (m *MemoryBackend) Sample(ctx context.Context, config *SampleConfig) ([]*Transition, []float64, error) {
	if config == nil || config.BatchSize == 0 {
		return nil, nil, fmt.Errorf("batch size must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.getCandidates(config)
	if len(candidates) == 0 {
		return nil, nil, ErrEmpty
	}

	sampleSize := int(config.BatchSize)
	if sampleSize > len(candidates) {
		sampleSize = len(candidates)
	}

	if config.Prioritized {
		sampled, weights := m.prioritizedSample(candidates, sampleSize, config.PriorityAlpha)
		return sampled, weights, nil
	}
	sampled := m.uniformSample(candidates, sampleSize)
	weights := make([]float64, len(sampled))
	for i := range weights {
		weights[i] = 1
	}
	return sampled, weights, nil
}

// Episode implements Backend.Episode
func (m *MemoryBackend) Episode(ctx context.Context, episodeID string) ([]*Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids, ok := m.episodes[episodeID]
	if !ok {
		return nil, fmt.Errorf("episode %s not found", episodeID)
	}
	out := make([]*Transition, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.transitions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// GetStats implements Backend.GetStats
func (m *MemoryBackend) GetStats(ctx context.Context, envID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalTransitions: uint64(len(m.transitions)),
		TotalEpisodes:    uint64(len(m.episodes)),
		TransitionsByEnv: make(map[string]uint64),
	}

	var rewardSum float64
	for _, t := range m.transitions {
		rewardSum += t.Reward
	}
	if len(m.transitions) > 0 {
		stats.MeanReward = rewardSum / float64(len(m.transitions))
	}

	for env, transitions := range m.envIndex {
		if envID == "" || env == envID {
			stats.TransitionsByEnv[env] = uint64(len(transitions))
		}
	}

	if len(m.timeIndex) > 0 {
		oldest := m.transitions[m.timeIndex[0]].Timestamp
		newest := m.transitions[m.timeIndex[len(m.timeIndex)-1]].Timestamp
		stats.OldestTimestamp = &oldest
		stats.NewestTimestamp = &newest
	}

	return stats, nil
}

// UpdatePriorities implements Backend.UpdatePriorities
func (m *MemoryBackend) UpdatePriorities(ctx context.Context, transitionIDs []string, priorities []float64) error {
	if len(transitionIDs) != len(priorities) {
		return fmt.Errorf("mismatched lengths: %d IDs vs %d priorities", len(transitionIDs), len(priorities))
	}

	for i, id := range transitionIDs {
		if !(priorities[i] > 0) || math.IsInf(priorities[i], 1) {
			return fmt.Errorf("priority for %s must be positive and finite, got %v", id, priorities[i])
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, id := range transitionIDs {
		if transition, exists := m.transitions[id]; exists {
			transition.Priority = priorities[i]
		}
	}

	return nil
}

// Clear implements Backend.Clear
func (m *MemoryBackend) Clear(ctx context.Context, envID string, beforeTimestamp *time.Time, keepLastN uint32) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	toDelete := make(map[string]struct{})

	if beforeTimestamp != nil {
		for id, transition := range m.transitions {
			if envID != "" && transition.EnvID != envID {
				continue
			}
			if transition.Timestamp.Before(*beforeTimestamp) {
				toDelete[id] = struct{}{}
			}
		}
	}

	if keepLastN > 0 {
		relevant := make([]string, 0)
		for _, id := range m.timeIndex {
			if envID == "" || m.transitions[id].EnvID == envID {
				relevant = append(relevant, id)
			}
		}
		if len(relevant) > int(keepLastN) {
			for _, id := range relevant[:len(relevant)-int(keepLastN)] {
				toDelete[id] = struct{}{}
			}
		}
	}

	for id := range toDelete {
		m.deleteTransition(id)
	}

	return uint64(len(toDelete)), nil
}

// Close implements Backend.Close
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transitions = make(map[string]*Transition)
	m.episodes = make(map[string][]string)
	m.envIndex = make(map[string][]string)
	m.timeIndex = m.timeIndex[:0]

	return nil
}

// Helper methods

func (m *MemoryBackend) store(transition *Transition) error {
	if transition == nil {
		return fmt.Errorf("transition is nil")
	}
	if transition.ID == "" {
		transition.ID = uuid.New().String()
	}
	if _, exists := m.transitions[transition.ID]; exists {
		return fmt.Errorf("transition %s already stored", transition.ID)
	}
	if transition.Timestamp.IsZero() {
		transition.Timestamp = time.Now()
	}
	if transition.Priority == 0 {
		transition.Priority = 1.0
	}

	m.transitions[transition.ID] = transition
	if transition.EpisodeID != "" {
		m.episodes[transition.EpisodeID] = append(m.episodes[transition.EpisodeID], transition.ID)
	}
	if transition.EnvID != "" {
		m.envIndex[transition.EnvID] = append(m.envIndex[transition.EnvID], transition.ID)
	}
	m.insertInTimeIndex(transition.ID, transition.Timestamp)
	m.evictIfNeeded()
	return nil
}

func (m *MemoryBackend) insertInTimeIndex(id string, timestamp time.Time) {
	idx := sort.Search(len(m.timeIndex), func(i int) bool {
		return m.transitions[m.timeIndex[i]].Timestamp.After(timestamp)
	})

	m.timeIndex = append(m.timeIndex, "")
	copy(m.timeIndex[idx+1:], m.timeIndex[idx:])
	m.timeIndex[idx] = id
}

func (m *MemoryBackend) evictIfNeeded() {
	for m.maxSize > 0 && uint64(len(m.transitions)) > m.maxSize && len(m.timeIndex) > 0 {
		m.deleteTransition(m.timeIndex[0])
	}
}

func (m *MemoryBackend) deleteTransition(id string) {
	transition, exists := m.transitions[id]
	if !exists {
		return
	}

	delete(m.transitions, id)

	if transition.EpisodeID != "" {
		m.episodes[transition.EpisodeID] = removeString(m.episodes[transition.EpisodeID], id)
		if len(m.episodes[transition.EpisodeID]) == 0 {
			delete(m.episodes, transition.EpisodeID)
		}
	}

	if transition.EnvID != "" {
		m.envIndex[transition.EnvID] = removeString(m.envIndex[transition.EnvID], id)
		if len(m.envIndex[transition.EnvID]) == 0 {
			delete(m.envIndex, transition.EnvID)
		}
	}

	m.timeIndex = removeString(m.timeIndex, id)
}

// getCandidates returns matching transitions in timestamp order so sampling
// is reproducible for a fixed seed.
func (m *MemoryBackend) getCandidates(config *SampleConfig) []*Transition {
	var candidates []*Transition
	for _, id := range m.timeIndex {
		transition := m.transitions[id]
		if config.EnvID != "" && transition.EnvID != config.EnvID {
			continue
		}
		if config.MinTimestamp != nil && transition.Timestamp.Before(*config.MinTimestamp) {
			continue
		}
		if config.MaxTimestamp != nil && transition.Timestamp.After(*config.MaxTimestamp) {
			continue
		}
		candidates = append(candidates, transition)
	}
	return candidates
}

func (m *MemoryBackend) uniformSample(candidates []*Transition, sampleSize int) []*Transition {
	if sampleSize >= len(candidates) {
		return append([]*Transition(nil), candidates...)
	}

	perm := m.rng.Perm(len(candidates))
	sampled := make([]*Transition, sampleSize)
	for i := 0; i < sampleSize; i++ {
		sampled[i] = candidates[perm[i]]
	}
	return sampled
}

func (m *MemoryBackend) prioritizedSample(candidates []*Transition, sampleSize int, alpha float64) ([]*Transition, []float64) {
	if alpha <= 0 {
		alpha = 1
	}
	priorities := make([]float64, len(candidates))
	var total float64
	for i, candidate := range candidates {
		priorities[i] = math.Pow(candidate.Priority, alpha)
		total += priorities[i]
	}

	weighted := sampleuv.NewWeighted(priorities, m.src)
	sampled := make([]*Transition, 0, sampleSize)
	weights := make([]float64, 0, sampleSize)
	maxWeight := 0.0
	n := float64(len(candidates))
	for len(sampled) < sampleSize {
		i, ok := weighted.Take()
		if !ok {
			break
		}
		w := 1 / (n * priorities[i] / total)
		sampled = append(sampled, candidates[i])
		weights = append(weights, w)
		if w > maxWeight {
			maxWeight = w
		}
	}
	for i := range weights {
		weights[i] /= maxWeight
	}
	return sampled, weights
}

func removeString(slice []string, item string) []string {
	for i, s := range slice {
		if s == item {
			return append(slice[:i], slice[i+1:]...)
		}
	}
	return slice
}

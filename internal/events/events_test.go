package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEpisodeRoutingKey(t *testing.T) {
	tests := []struct {
		name  string
		event EpisodeEvent
		want  string
	}{
		{"converged", EpisodeEvent{Outcome: OutcomeRelabeled, Converged: true}, ""},
		{"unconverged", EpisodeEvent{Outcome: OutcomeRelabeled}, "unconverged"},
		{"discarded", EpisodeEvent{Outcome: OutcomeDiscarded, Reason: "length"}, "discarded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, episodeRoutingKey(tt.event))
		})
	}
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.PublishEpisode(context.Background(), EpisodeEvent{}))
	assert.NoError(t, p.PublishSync(context.Background(), SyncEvent{}))
}

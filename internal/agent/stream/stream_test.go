package stream_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/model"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/stream"
)

func TestDrainAccumulatesContentAndTees(t *testing.T) {
	src := make(chan model.Delta, 3)
	src <- model.Delta{Content: "hello "}
	src <- model.Delta{Content: "world"}
	src <- model.Delta{Finished: true}
	close(src)

	var teed []model.Delta
	a := stream.New()
	a.Drain(src, stream.SinkFunc(func(d model.Delta) { teed = append(teed, d) }))

	assert.Equal(t, "hello world", a.Content())
	assert.True(t, a.Finished())
	assert.Nil(t, a.Err())
	assert.Len(t, teed, 3)
	assert.Equal(t, 2, a.EstimatedTokens())
}

func TestDrainStopsOnError(t *testing.T) {
	src := make(chan model.Delta, 2)
	src <- model.Delta{Content: "partial"}
	src <- model.Delta{Err: errors.New("boom")}
	close(src)

	a := stream.New()
	a.Drain(src, nil)

	assert.True(t, a.Finished())
	assert.EqualError(t, a.Err(), "boom")
}

func TestUsageOverridesEstimate(t *testing.T) {
	src := make(chan model.Delta, 2)
	src <- model.Delta{Content: "a b c"}
	src <- model.Delta{Usage: &model.TokenUsage{Input: 100, Output: 50}, Finished: true}
	close(src)

	a := stream.New()
	a.Drain(src, nil)
	assert.Equal(t, 150, a.EstimatedTokens())
}

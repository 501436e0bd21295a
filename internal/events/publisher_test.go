package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(Config{Topic: "events.test"}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")
}

func TestNewKafkaPublisher_AppliesDefaults(t *testing.T) {
	p, err := NewKafkaPublisher(Config{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	assert.Equal(t, "events.boq_matching.jobs", p.writer.Topic)
	assert.Equal(t, 100, p.writer.BatchSize)
	assert.Equal(t, 10*time.Millisecond, p.writer.BatchTimeout)
}

func TestNoopPublisher(t *testing.T) {
	var p NoopPublisher
	assert.NoError(t, p.Publish(context.Background(), JobEvent{EventType: EventJobStarted}))
	assert.NoError(t, p.Close())
}

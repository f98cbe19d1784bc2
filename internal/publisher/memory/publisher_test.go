package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "media-downloaded", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "media-downloaded", msgs[0].Topic)
	assert.JSONEq(t, `{"k":"v"}`, string(msgs[0].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "media-downloaded", pub.Messages()[0].Topic)
}

func TestPublisherFailures(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), "t", "x")
	require.Error(t, err)

	_, err = pub.Publish(context.Background(), "t", func() {})
	require.Error(t, err)

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "t", "x")
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1)
}

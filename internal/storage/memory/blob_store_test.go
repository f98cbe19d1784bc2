package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "media/twitter_42.jpg", "image/jpeg", strings.NewReader("content"))
	require.NoError(t, err)
	assert.Equal(t, "memory://media/twitter_42.jpg", uri)

	data, contentType, ok := store.Object("media/twitter_42.jpg")
	require.True(t, ok)
	assert.Equal(t, "content", string(data))
	assert.Equal(t, "image/jpeg", contentType)

	data[0] = 'C'
	again, _, _ := store.Object("media/twitter_42.jpg")
	assert.Equal(t, "content", string(again))

	assert.Equal(t, 1, store.Len())
}

func TestBlobStoreFailedReadStoresNothing(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	body := io.MultiReader(strings.NewReader("half"), iotestErr{})
	_, err := store.PutObject(context.Background(), "x", "", body)
	require.Error(t, err)
	assert.Zero(t, store.Len())
}

type iotestErr struct{}

func (iotestErr) Read([]byte) (int, error) { return 0, errors.New("reset") }

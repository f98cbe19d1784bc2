package sha256

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestMatchesKnownValue(t *testing.T) {
	t.Parallel()

	d := New().NewDigest()
	_, err := io.Copy(d, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", d.Hex())
}

func TestDigestIsIncremental(t *testing.T) {
	t.Parallel()

	h := New()
	whole := h.NewDigest()
	_, _ = whole.Write([]byte("hello world"))

	parts := h.NewDigest()
	_, _ = parts.Write([]byte("hello "))
	_, _ = parts.Write([]byte("world"))

	assert.Equal(t, whole.Hex(), parts.Hex())
	assert.NotEqual(t, whole.Hex(), h.NewDigest().Hex())
}

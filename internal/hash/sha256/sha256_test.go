package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsLabelledAndDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "sha256:b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)

	again, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	h := New()
	digest, err := h.Hash([]byte("{\"id\":1}\n"))
	require.NoError(t, err)
	require.True(t, h.Verify([]byte("{\"id\":1}\n"), digest))
	require.False(t, h.Verify([]byte("{\"id\":2}\n"), digest))
}

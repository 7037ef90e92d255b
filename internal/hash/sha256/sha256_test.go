package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hkjc-results-crawler/internal/export"
)

func TestHashMatchesSha256sum(t *testing.T) {
	t.Parallel()

	got, err := New().Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHashIsStableForEncodedExports(t *testing.T) {
	t.Parallel()

	body, err := export.Encode(nil)
	require.NoError(t, err)

	h := New()
	first, err := h.Hash(body)
	require.NoError(t, err)
	again, err := h.Hash(body)
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Len(t, first, 64)
}

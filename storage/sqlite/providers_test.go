package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveAndLoadProviderCredential(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cipher := []byte{0x01, 0x02, 0x03}
	require.NoError(t, s.SaveProviderCredential(ctx, "openai", "p1", cipher))

	got, found, err := s.LoadProviderCredential(ctx, "openai", "p1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, cipher, got)
}

func TestLoadProviderCredentialMissing(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.LoadProviderCredential(context.Background(), "openai", "p1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSaveProviderCredentialUpsertOverwrites(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProviderCredential(ctx, "openai", "", []byte("old")))
	require.NoError(t, s.SaveProviderCredential(ctx, "openai", "", []byte("new")))

	got, _, err := s.LoadProviderCredential(ctx, "openai", "")
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got)
}

func TestListProviderNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveProviderCredential(ctx, "openai", "p1", []byte("a")))
	require.NoError(t, s.SaveProviderCredential(ctx, "anthropic", "p1", []byte("b")))
	require.NoError(t, s.SaveProviderCredential(ctx, "bedrock", "p2", []byte("c")))

	names, err := s.ListProviderNames(ctx, "p1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"openai", "anthropic"}, names)
}

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courserag/internal/domain"
)

func TestAppendTrimsToMax(t *testing.T) {
	s, err := Open(":memory:", 2)
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "s1",
		domain.Message{Role: domain.RoleUser, Content: "q1"},
		domain.Message{Role: domain.RoleAssistant, Content: "a1"},
	))
	require.NoError(t, s.Append(ctx, "s1",
		domain.Message{Role: domain.RoleUser, Content: "q2"},
		domain.Message{Role: domain.RoleAssistant, Content: "a2"},
	))
	require.NoError(t, s.Append(ctx, "s2", domain.Message{Role: domain.RoleUser, Content: "other"}))

	got, err := s.Recent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "q2"},
		{Role: domain.RoleAssistant, Content: "a2"},
	}, got)

	got, err = s.Recent(ctx, "s2")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHistorySurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path, 4)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, "s1", domain.Message{Role: domain.RoleUser, Content: "hello"}))
	require.NoError(t, s.Close())

	s, err = Open(path, 4)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Recent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []domain.Message{{Role: domain.RoleUser, Content: "hello"}}, got)
}

func TestUnknownSessionIsEmpty(t *testing.T) {
	s, err := Open(":memory:", 4)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Recent(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

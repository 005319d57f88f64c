// ABOUTME: Tests for API key connection persistence
// ABOUTME: Covers upsert semantics and per-user isolation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveConnection_Upsert(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("user-1", "alice")))

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveConnection(ctx, &Connection{
		ID: "conn-1", UserID: "user-1", Service: "openai", APIKey: "sk-one",
		CreatedAt: created, UpdatedAt: created,
	}))

	updated := created.Add(time.Hour)
	require.NoError(t, s.SaveConnection(ctx, &Connection{
		ID: "conn-2", UserID: "user-1", Service: "openai", APIKey: "sk-two",
		CreatedAt: updated, UpdatedAt: updated,
	}))

	got, err := s.GetConnection(ctx, "user-1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "conn-1", got.ID, "upsert keeps the original row")
	assert.Equal(t, "sk-two", got.APIKey)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(updated))
}

func TestGetConnection_IsolatedPerUser(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, testUser("user-1", "alice")))
	require.NoError(t, s.CreateUser(ctx, testUser("user-2", "bob")))

	now := time.Now().UTC()
	require.NoError(t, s.SaveConnection(ctx, &Connection{
		ID: "conn-1", UserID: "user-1", Service: "github", APIKey: "ghp_x", CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, s.SaveConnection(ctx, &Connection{
		ID: "conn-2", UserID: "user-1", Service: "anthropic", APIKey: "sk-ant", CreatedAt: now, UpdatedAt: now,
	}))

	_, err := s.GetConnection(ctx, "user-2", "github")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListConnections(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "anthropic", list[0].Service)
	assert.Equal(t, "github", list[1].Service)
}

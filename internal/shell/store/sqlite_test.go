package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testRelease(project, environment string, createdAt time.Time) *Release {
	return &Release{
		ID:            uuid.New().String(),
		Project:       project,
		Environment:   environment,
		Sources:       []string{"docker-compose.yml", "docker-compose.override.test.yml"},
		Variables:     map[string]string{"POSTGRES_DB": "test_app"},
		EffectiveSpec: "services:\n  db:\n    image: postgres:15\n",
		CreatedAt:     createdAt,
	}
}

// =============================================================================
// Store Setup Tests
// =============================================================================

func TestNewSQLiteStore_CreatesParentDir(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "releases.db")

	store, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer store.Close()

	release := testRelease("acme", "test", time.Now())
	require.NoError(t, store.CreateRelease(context.Background(), release))
}

// =============================================================================
// Release Tests
// =============================================================================

func TestCreateAndGetRelease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := testRelease("acme", "test", time.Now())
	require.NoError(t, store.CreateRelease(ctx, release))

	got, err := store.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Equal(t, release.ID, got.ID)
	assert.Equal(t, "acme", got.Project)
	assert.Equal(t, "test", got.Environment)
	assert.Equal(t, release.Sources, got.Sources)
	assert.Equal(t, release.Variables, got.Variables)
	assert.Equal(t, release.EffectiveSpec, got.EffectiveSpec)
	assert.WithinDuration(t, release.CreatedAt, got.CreatedAt, time.Second)
}

func TestCreateRelease_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := testRelease("acme", "test", time.Now())
	require.NoError(t, store.CreateRelease(ctx, release))

	err := store.CreateRelease(ctx, release)
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestGetRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRelease(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetRelease_NoVariables(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	release := testRelease("acme", "test", time.Now())
	release.Variables = nil
	require.NoError(t, store.CreateRelease(ctx, release))

	got, err := store.GetRelease(ctx, release.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Variables)
}

func TestGetLatestRelease(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		release := testRelease("acme", "test", base.Add(time.Duration(i)*time.Minute))
		release.EffectiveSpec = fmt.Sprintf("# release %d\n", i)
		require.NoError(t, store.CreateRelease(ctx, release))
	}
	other := testRelease("acme", "staging", time.Now())
	require.NoError(t, store.CreateRelease(ctx, other))

	got, err := store.GetLatestRelease(ctx, "acme", "test")
	require.NoError(t, err)
	assert.Equal(t, "# release 2\n", got.EffectiveSpec)
}

func TestGetLatestRelease_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetLatestRelease(context.Background(), "acme", "production")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListReleases(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		release := testRelease("acme", "test", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.CreateRelease(ctx, release))
	}
	require.NoError(t, store.CreateRelease(ctx, testRelease("other", "test", time.Now())))

	releases, err := store.ListReleases(ctx, "acme", DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, releases, 5)

	// Newest first
	for i := 1; i < len(releases); i++ {
		assert.True(t, !releases[i-1].CreatedAt.Before(releases[i].CreatedAt))
	}
}

func TestListReleases_Pagination(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateRelease(ctx, testRelease("acme", "test", base.Add(time.Duration(i)*time.Minute))))
	}

	page, err := store.ListReleases(ctx, "acme", ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestListReleases_Empty(t *testing.T) {
	store := setupTestStore(t)

	releases, err := store.ListReleases(context.Background(), "absent", DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, releases)
}

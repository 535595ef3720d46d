package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Test Fixtures
// =============================================================================

const baseDoc = `
services:
  app:
    image: app:latest
    ports:
      - "8000:8000"
    environment:
      POSTGRES_DB: ${POSTGRES_DB}
      DEBUG: "0"

  worker:
    image: app:latest
    command: python manage.py dequeue

  db:
    image: postgres:15
    environment:
      POSTGRES_DB: ${POSTGRES_DB}
    volumes:
      - postgres_data:/var/lib/postgresql/data

volumes:
  postgres_data:
`

const testOverlayDoc = `
services:
  app:
    ports:
      - "5680:5680"
    environment:
      DEBUG: "1"

  worker:
    command: python manage.py dequeue --single-shot

  db:
    environment:
      POSTGRES_DB: test_${POSTGRES_DB}
    volumes:
      - test_postgres_data:/var/lib/postgresql/data

volumes:
  test_postgres_data:
`

func parseDoc(t *testing.T, content string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(content), &doc))
	return doc
}

func service(t *testing.T, doc map[string]any, name string) map[string]any {
	t.Helper()
	services, ok := doc["services"].(map[string]any)
	require.True(t, ok)
	svc, ok := services[name].(map[string]any)
	require.True(t, ok)
	return svc
}

// =============================================================================
// Merge Tests
// =============================================================================

func TestMerge_EmptyOverlayYieldsBase(t *testing.T) {
	base := parseDoc(t, baseDoc)

	merged, err := Merge(base, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, base, merged)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	_, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	assert.Equal(t, parseDoc(t, baseDoc), base)
	assert.Equal(t, parseDoc(t, testOverlayDoc), over)
}

func TestMerge_ScalarFieldReplaced(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	worker := service(t, merged, "worker")
	assert.Equal(t, "python manage.py dequeue --single-shot", worker["command"])
	// Fields the overlay does not touch stay put.
	assert.Equal(t, "app:latest", worker["image"])
}

func TestMerge_EnvironmentUnionOverlayWins(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	env := service(t, merged, "db")["environment"].(map[string]any)
	assert.Equal(t, "test_${POSTGRES_DB}", env["POSTGRES_DB"])

	appEnv := service(t, merged, "app")["environment"].(map[string]any)
	assert.Equal(t, "1", appEnv["DEBUG"])
	assert.Equal(t, "${POSTGRES_DB}", appEnv["POSTGRES_DB"])
}

func TestMerge_EnvironmentListFormNormalized(t *testing.T) {
	base := parseDoc(t, `
services:
  app:
    image: app:latest
    environment:
      - DEBUG=0
      - LOG_LEVEL=info
`)
	over := parseDoc(t, `
services:
  app:
    environment:
      DEBUG: "1"
`)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	env := service(t, merged, "app")["environment"].(map[string]any)
	assert.Equal(t, "1", env["DEBUG"])
	assert.Equal(t, "info", env["LOG_LEVEL"])
}

func TestMerge_PortsUnioned(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	ports := service(t, merged, "app")["ports"].([]any)
	assert.Equal(t, []any{"8000:8000", "5680:5680"}, ports)
}

func TestMerge_PortsDuplicatesDropped(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, `
services:
  app:
    ports:
      - "8000:8000"
`)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	ports := service(t, merged, "app")["ports"].([]any)
	assert.Equal(t, []any{"8000:8000"}, ports)
}

func TestMerge_DependsOnListsStayLists(t *testing.T) {
	base := parseDoc(t, `
services:
  app:
    image: app:latest
    depends_on:
      - db
  db:
    image: postgres:15
  cache:
    image: redis:7
`)
	over := parseDoc(t, `
services:
  app:
    depends_on:
      - cache
`)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	deps := service(t, merged, "app")["depends_on"].([]any)
	assert.Equal(t, []any{"db", "cache"}, deps)
}

func TestMerge_DependsOnLongForm(t *testing.T) {
	base := parseDoc(t, `
services:
  app:
    image: app:latest
    depends_on:
      - db
  db:
    image: postgres:15
`)
	over := parseDoc(t, `
services:
  app:
    depends_on:
      db:
        condition: service_healthy
`)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	deps, ok := service(t, merged, "app")["depends_on"].(map[string]any)
	require.True(t, ok, "mixed-form depends_on must normalize to the map form")
	require.Len(t, deps, 1)
	cond := deps["db"].(map[string]any)
	assert.Equal(t, "service_healthy", cond["condition"])
}

func TestMerge_DependsOnLongFormUnion(t *testing.T) {
	base := parseDoc(t, `
services:
  app:
    image: app:latest
    depends_on:
      db:
        condition: service_healthy
  db:
    image: postgres:15
  cache:
    image: redis:7
`)
	over := parseDoc(t, `
services:
  app:
    depends_on:
      - cache
`)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	deps := service(t, merged, "app")["depends_on"].(map[string]any)
	require.Len(t, deps, 2)
	assert.Contains(t, deps, "cache")
	cond := deps["db"].(map[string]any)
	assert.Equal(t, "service_healthy", cond["condition"])
}

func TestMerge_DependsOnInvalidEntry(t *testing.T) {
	base := parseDoc(t, `
services:
  app:
    image: app:latest
    depends_on:
      - db
  db:
    image: postgres:15
`)
	over := parseDoc(t, `
services:
  app:
    depends_on:
      - db: {condition: service_healthy}
`)

	_, err := Merge(base, []map[string]any{over}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFragment)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "services.app.depends_on[0]", mergeErr.Path)
}

func TestMerge_VolumeMountReplacedByTarget(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	mounts := service(t, merged, "db")["volumes"].([]any)
	require.Len(t, mounts, 1)
	assert.Equal(t, "test_postgres_data:/var/lib/postgresql/data", mounts[0])
}

func TestMerge_TopLevelVolumesUnioned(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, testOverlayDoc)

	merged, err := Merge(base, []map[string]any{over}, Options{})
	require.NoError(t, err)

	volumes := merged["volumes"].(map[string]any)
	assert.Contains(t, volumes, "postgres_data")
	assert.Contains(t, volumes, "test_postgres_data")
}

func TestMerge_UnknownServiceRejected(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, `
services:
  cache:
    image: redis:7
`)

	_, err := Merge(base, []map[string]any{over}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownServiceOverride)

	var mergeErr *MergeError
	require.ErrorAs(t, err, &mergeErr)
	assert.Equal(t, "services.cache", mergeErr.Path)
}

func TestMerge_NewServiceAllowedWhenOptedIn(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := parseDoc(t, `
services:
  cache:
    image: redis:7
`)

	merged, err := Merge(base, []map[string]any{over}, Options{AllowNewServices: true})
	require.NoError(t, err)
	assert.Equal(t, "redis:7", service(t, merged, "cache")["image"])
}

func TestMerge_OverlaysApplyInOrder(t *testing.T) {
	base := parseDoc(t, baseDoc)
	first := parseDoc(t, `
services:
  worker:
    command: first
`)
	second := parseDoc(t, `
services:
  worker:
    command: second
`)

	merged, err := Merge(base, []map[string]any{first, second}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "second", service(t, merged, "worker")["command"])
}

func TestMerge_ServicesNotMapping(t *testing.T) {
	base := parseDoc(t, baseDoc)
	over := map[string]any{"services": []any{"app"}}

	_, err := Merge(base, []map[string]any{over}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidFragment)
}

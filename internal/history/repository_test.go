package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/kefhub/kef-hub-go/internal/db"
)

func testRepository(t *testing.T) (*Repository, *db.DBPair) {
	t.Helper()
	pair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = pair.Writer().Exec(`
		INSERT INTO devices (device_id, name, model_id, ip, port, poll_interval_ms, created_at, updated_at)
		VALUES ('dev-1', 'Living Room', 'kef-lsx2', '192.168.1.40', 80, 5000, ?, ?)`, now, now)
	require.NoError(t, err)

	return NewRepository(pair), pair
}

func TestRecordAndListNewestFirst(t *testing.T) {
	repo, _ := testRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.RecordTransition(ctx, "dev-1", "unavailable", "connection refused"))
	require.NoError(t, repo.RecordTransition(ctx, "dev-1", "available", ""))

	entries, err := repo.ListByDevice(ctx, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "available", entries[0].State)
	require.Equal(t, "unavailable", entries[1].State)
	require.Equal(t, "connection refused", entries[1].Detail)
}

func TestListHonorsLimit(t *testing.T) {
	repo, _ := testRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.RecordTransition(ctx, "dev-1", "available", ""))
	}

	entries, err := repo.ListByDevice(ctx, "dev-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestListUnknownDeviceIsEmpty(t *testing.T) {
	repo, _ := testRepository(t)

	entries, err := repo.ListByDevice(context.Background(), "dev-9", 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestPruneRemovesOnlyOldRows(t *testing.T) {
	repo, pair := testRepository(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	_, err := pair.Writer().Exec(`
		INSERT INTO availability_events (device_id, state, detail, occurred_at)
		VALUES ('dev-1', 'unavailable', '', ?)`, old)
	require.NoError(t, err)
	require.NoError(t, repo.RecordTransition(ctx, "dev-1", "available", ""))

	pruned, err := repo.PruneOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	entries, err := repo.ListByDevice(ctx, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "available", entries[0].State)
}

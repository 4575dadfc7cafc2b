package checkpoint

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/frebindels/kucoin-data-collector/internal/common"
	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewFileRepositoryWithFS(fs, "data", testLogger())

	snap := entity.RunStateSnapshot{
		RunID:      "run-1",
		Symbol:     "BTCUSDT",
		Discovered: 10,
		Downloaded: 7,
		Bytes:      123456,
		Errors:     2,
		Retries:    1,
		Completed:  []string{"BTCUSDT/a.zip", "BTCUSDT/b.zip"},
		Failed:     []entity.ItemFailure{{Key: "BTCUSDT/c.zip", Reason: "status 404"}},
		UpdatedAt:  time.Now().UTC(),
	}

	require.NoError(t, repo.Save(context.Background(), snap))

	loaded, err := repo.Load(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.Equal(t, snap.RunID, loaded.RunID)
	require.Equal(t, snap.Symbol, loaded.Symbol)
	require.Equal(t, snap.Discovered, loaded.Discovered)
	require.Equal(t, snap.Downloaded, loaded.Downloaded)
	require.Equal(t, snap.Bytes, loaded.Bytes)
	require.Equal(t, snap.Errors, loaded.Errors)
	require.Equal(t, snap.Retries, loaded.Retries)
	require.Equal(t, snap.Completed, loaded.Completed)
	require.Equal(t, snap.Failed, loaded.Failed)
	require.WithinDuration(t, snap.UpdatedAt, loaded.UpdatedAt, time.Second)
}

func TestFileRepositoryMissing(t *testing.T) {
	repo := NewFileRepositoryWithFS(afero.NewMemMapFs(), "data", testLogger())

	_, err := repo.Load(context.Background(), "BTCUSDT")
	require.ErrorIs(t, err, common.ErrCheckpointNotFound)
}

func TestFileRepositoryOverwrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := NewFileRepositoryWithFS(fs, "data", testLogger())

	first := entity.RunStateSnapshot{RunID: "run-1", Symbol: "BTCUSDT", Downloaded: 1}
	require.NoError(t, repo.Save(context.Background(), first))

	second := first
	second.Downloaded = 5
	require.NoError(t, repo.Save(context.Background(), second))

	loaded, err := repo.Load(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 5, loaded.Downloaded)

	tmpExists, err := afero.Exists(fs, filepath.Join("data", "BTCUSDT", "checkpoint.yml.tmp"))
	require.NoError(t, err)
	require.False(t, tmpExists)
}

func TestFileRepositoryCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, filepath.Join("data", "BTCUSDT", "checkpoint.yml"), []byte("{:::"), 0o644))

	repo := NewFileRepositoryWithFS(fs, "data", testLogger())

	_, err := repo.Load(context.Background(), "BTCUSDT")
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrCheckpointNotFound)
}

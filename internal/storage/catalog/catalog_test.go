package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()

	cat, err := NewCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	return cat
}

func TestCatalogPutGet(t *testing.T) {
	cat := newTestCatalog(t)

	record := Record{
		Symbol:      "BTCUSDT",
		Filename:    "BTCUSDT-1m-2024-01.zip",
		ContentHash: "abc123",
		Rows:        1440,
		VerifiedAt:  time.Now().UTC(),
	}
	require.NoError(t, cat.Put(record))

	got, err := cat.Get("BTCUSDT", "BTCUSDT-1m-2024-01.zip")
	require.NoError(t, err)
	require.Equal(t, record.ContentHash, got.ContentHash)
	require.Equal(t, record.Rows, got.Rows)
	require.WithinDuration(t, record.VerifiedAt, got.VerifiedAt, time.Second)
}

func TestCatalogGetMissing(t *testing.T) {
	cat := newTestCatalog(t)

	_, err := cat.Get("BTCUSDT", "nope.zip")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestCatalogOverwrite(t *testing.T) {
	cat := newTestCatalog(t)

	record := Record{Symbol: "BTCUSDT", Filename: "a.zip", ContentHash: "h1", Rows: 10}
	require.NoError(t, cat.Put(record))

	record.Rows = 20
	require.NoError(t, cat.Put(record))

	got, err := cat.Get("BTCUSDT", "a.zip")
	require.NoError(t, err)
	require.Equal(t, 20, got.Rows)
}

func TestCatalogFindByContentHash(t *testing.T) {
	cat := newTestCatalog(t)

	require.NoError(t, cat.Put(Record{Symbol: "BTCUSDT", Filename: "a.zip", ContentHash: "same"}))
	require.NoError(t, cat.Put(Record{Symbol: "BTCUSDT", Filename: "b.zip", ContentHash: "same"}))
	require.NoError(t, cat.Put(Record{Symbol: "BTCUSDT", Filename: "c.zip", ContentHash: "other"}))

	records, err := cat.FindByContentHash("same")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a.zip", records[0].Filename)
	require.Equal(t, "b.zip", records[1].Filename)

	records, err = cat.FindByContentHash("missing")
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	cat, err := NewCatalog(path)
	require.NoError(t, err)
	require.NoError(t, cat.Put(Record{Symbol: "BTCUSDT", Filename: "a.zip", ContentHash: "h"}))
	require.NoError(t, cat.Close())

	reopened, err := NewCatalog(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("BTCUSDT", "a.zip")
	require.NoError(t, err)
	require.Equal(t, "h", got.ContentHash)
}

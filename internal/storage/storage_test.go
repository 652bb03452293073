package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

func TestDiskBackend_WritesUnderHostDirectory(t *testing.T) {
	root := t.TempDir()
	backend, err := NewDiskBackend(root)
	require.NoError(t, err)

	cfg, err := backend.CreateConfig("items")
	require.NoError(t, err)

	item := model.StorageItem[any]{
		URL:       "https://example.com/page",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      map[string]any{"title": "hello"},
		ID:        "abc123",
	}

	require.NoError(t, backend.StoreSerialized(context.Background(), item, cfg))

	hostDir := filepath.Join(root, "items", "example.com")
	entries, err := os.ReadDir(hostDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "20260102_030405")
	assert.Contains(t, entries[0].Name(), "abc123")

	raw, err := os.ReadFile(filepath.Join(hostDir, entries[0].Name()))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "https://example.com/page", decoded["url"])
}

func TestDiskBackend_RejectsForeignConfig(t *testing.T) {
	root := t.TempDir()
	backend, err := NewDiskBackend(root)
	require.NoError(t, err)

	err = backend.StoreSerialized(context.Background(), model.StorageItem[any]{}, RemoteConfig{Bucket: "x"})
	assert.Error(t, err)
}

type recordingBackend struct {
	stored []model.StorageItem[any]
}

func (r *recordingBackend) CreateConfig(destination string) (Config, error) {
	return recordingConfig(destination), nil
}

func (r *recordingBackend) StoreSerialized(ctx context.Context, item model.StorageItem[any], cfg Config) error {
	r.stored = append(r.stored, item)
	return nil
}

type recordingConfig string

func (c recordingConfig) Destination() string { return string(c) }

func TestSinkSet_FallsBackToDefaultCategory(t *testing.T) {
	set := NewSinkSet()
	data := &recordingBackend{}
	require.NoError(t, set.Register(model.DataCategory(), data, "primary"))

	item := model.StorageItem[any]{URL: "https://example.com", ID: "1"}
	require.NoError(t, set.Store(context.Background(), item, model.CustomStorageCategory("unregistered")))

	assert.Len(t, data.stored, 1)
}

func TestSinkSet_NoFallbackRegisteredReturnsStorageError(t *testing.T) {
	set := NewSinkSet()
	err := set.Store(context.Background(), model.StorageItem[any]{}, model.RawCategory())
	require.Error(t, err)

	var storageErr *model.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestSinkSet_RoutesByRegisteredCategory(t *testing.T) {
	set := NewSinkSet()
	data := &recordingBackend{}
	errs := &recordingBackend{}
	require.NoError(t, set.Register(model.DataCategory(), data, "data"))
	require.NoError(t, set.Register(model.ErrorCategory(), errs, "errors"))

	require.NoError(t, set.Store(context.Background(), model.StorageItem[any]{ID: "ok"}, model.DataCategory()))
	require.NoError(t, set.Store(context.Background(), model.StorageItem[any]{ID: "bad"}, model.ErrorCategory()))

	assert.Len(t, data.stored, 1)
	assert.Len(t, errs.stored, 1)
}

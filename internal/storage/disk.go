package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// DiskBackend writes items to the local filesystem at
// <base>/<destination>/<host>/<prefix><YYYYMMDD_HHMMSS>_<id>_<uuid>.json.
// Grounded on original_source/src/storage/disk.rs.
type DiskBackend struct {
	basePath string
}

// NewDiskBackend creates the backend's root directory if it doesn't exist.
func NewDiskBackend(basePath string) (*DiskBackend, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create disk backend root %s: %w", basePath, err)
	}
	return &DiskBackend{basePath: basePath}, nil
}

// DiskConfig is the DiskBackend's destination: a subfolder under basePath
// plus an optional filename prefix, mirroring original_source's DiskConfig.
type DiskConfig struct {
	Subfolder string
	Prefix    string
}

func (c DiskConfig) Destination() string { return c.Subfolder }

func (b *DiskBackend) CreateConfig(destination string) (Config, error) {
	return DiskConfig{Subfolder: destination}, nil
}

func (b *DiskBackend) StoreSerialized(ctx context.Context, item model.StorageItem[any], cfg Config) error {
	diskCfg, ok := cfg.(DiskConfig)
	if !ok {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: "disk backend given a non-disk config"}
	}

	host := "unknown"
	if u, err := url.Parse(item.URL); err == nil && u.Host != "" {
		host = u.Host
	}

	id := item.ID
	if id == "" {
		id = "item"
	}

	itemUUID, err := uuid.NewV7()
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("generate uuid: %v", err)}
	}

	filename := fmt.Sprintf("%s%s_%s_%s.json",
		diskCfg.Prefix,
		item.Timestamp.Format("20060102_150405"),
		id,
		itemUUID.String(),
	)

	dir := filepath.Join(b.basePath, diskCfg.Subfolder, host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("create dir %s: %v", dir, err)}
	}

	payload := map[string]any{
		"url":       item.URL,
		"timestamp": item.Timestamp,
		"data":      item.Data,
		"metadata":  item.Metadata,
	}

	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrSerialization, Msg: err.Error()}
	}

	finalPath := filepath.Join(dir, filename)
	if err := os.WriteFile(finalPath, encoded, 0o644); err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("write %s: %v", finalPath, err)}
	}
	return nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelcrawl/kestrel/internal/model"
)

// RemoteBackend uploads storage items to a Supabase Storage-compatible
// object API. It is an adaptation of a Supabase Storage REST client into a
// storage.Backend: instead of exposing Upload/Delete as ad-hoc methods, the
// bucket/object-path logic is folded into StoreSerialized, addressed by a
// "bucket/prefix"-shaped destination.
type RemoteBackend struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewRemoteBackend points at a Supabase project's storage API root.
func NewRemoteBackend(supabaseURL, serviceKey string) *RemoteBackend {
	return &RemoteBackend{
		baseURL:    strings.TrimSuffix(supabaseURL, "/") + "/storage/v1",
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// RemoteConfig addresses a bucket and an object-path prefix within it.
type RemoteConfig struct {
	Bucket string
	Prefix string
}

func (c RemoteConfig) Destination() string { return c.Bucket + "/" + c.Prefix }

// CreateConfig splits "bucket/prefix" (prefix may be empty) into a
// RemoteConfig.
func (b *RemoteBackend) CreateConfig(destination string) (Config, error) {
	bucket, prefix, _ := strings.Cut(destination, "/")
	if bucket == "" {
		return nil, fmt.Errorf("storage: remote destination %q has no bucket", destination)
	}
	return RemoteConfig{Bucket: bucket, Prefix: prefix}, nil
}

func (b *RemoteBackend) StoreSerialized(ctx context.Context, item model.StorageItem[any], cfg Config) error {
	remoteCfg, ok := cfg.(RemoteConfig)
	if !ok {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: "remote backend given a non-remote config"}
	}

	payload := map[string]any{
		"url":       item.URL,
		"timestamp": item.Timestamp,
		"data":      item.Data,
		"metadata":  item.Metadata,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrSerialization, Msg: err.Error()}
	}

	objectID, err := uuid.NewV7()
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("generate uuid: %v", err)}
	}
	objectPath := fmt.Sprintf("%s%s.json", remoteCfg.Prefix, objectID.String())

	return b.upload(ctx, remoteCfg.Bucket, objectPath, encoded)
}

func (b *RemoteBackend) upload(ctx context.Context, bucket, path string, data []byte) error {
	uploadURL := fmt.Sprintf("%s/object/%s/%s", b.baseURL, bucket, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrOperation, Msg: fmt.Sprintf("build upload request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+b.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-upsert", "true")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &model.StorageError{Kind: model.StorageErrConnection, Msg: fmt.Sprintf("upload %s/%s: %v", bucket, path, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return &model.StorageError{
			Kind: model.StorageErrOperation,
			Msg:  fmt.Sprintf("upload failed with status %d: %s", resp.StatusCode, string(body)),
		}
	}
	return nil
}

package utils

import (
	"context"
	"os"
	"strings"
)

const (
	StorageProviderGCS   = "gcs"
	StorageProviderLocal = "local"
)

// ObjectStore is what the reset pipeline needs from a storage backend.
// Delete must treat a missing object as already deleted.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// GetStorageProvider picks where backups are written. Defaults to gcs when a
// bucket is configured, otherwise local.
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("STORAGE_PROVIDER")))
	if provider == "" {
		if strings.TrimSpace(os.Getenv("GCS_BUCKET")) != "" {
			return StorageProviderGCS
		}
		return StorageProviderLocal
	}
	return provider
}

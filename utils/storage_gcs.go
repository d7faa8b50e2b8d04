package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSStorage stores objects in one bucket. Keys are object names.
type GCSStorage struct {
	Bucket string
	client *storage.Client
}

// NewGCSStorage uses GCS_BUCKET when bucket is empty. Call Close when done.
func NewGCSStorage(ctx context.Context, bucket string) (*GCSStorage, error) {
	if bucket == "" {
		bucket = os.Getenv("GCS_BUCKET")
	}
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSStorage{Bucket: bucket, client: client}, nil
}

func (s *GCSStorage) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Delete removes the object. ref may be a key or a public URL of the object.
// An object that does not exist counts as deleted.
func (s *GCSStorage) Delete(ctx context.Context, ref string) error {
	key, ok := ObjectKeyFromRef(ref)
	if !ok {
		return fmt.Errorf("not an object in bucket %s: %q", s.Bucket, ref)
	}
	err := s.client.Bucket(s.Bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

func (s *GCSStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	wc := s.client.Bucket(s.Bucket).Object(strings.TrimPrefix(key, "/")).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("failed to upload %s to gcs: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close gcs writer: %w", err)
	}
	return nil
}

type SignedDownload struct {
	URL       string    `json:"url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SignDownload returns a V4 signed GET URL for ref. The signer is taken from
// the client's credentials: the private key in GCS_CREDENTIALS_JSON, or the
// runtime service account through the IAM signBlob API.
func (s *GCSStorage) SignDownload(ref string, expires time.Duration) (*SignedDownload, error) {
	key, ok := ObjectKeyFromRef(ref)
	if !ok {
		return nil, fmt.Errorf("not an object in bucket %s: %q", s.Bucket, ref)
	}
	if expires <= 0 {
		return nil, errors.New("signed url lifetime must be positive")
	}
	expiresAt := time.Now().Add(expires)
	signed, err := s.client.Bucket(s.Bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", key, err)
	}
	return &SignedDownload{URL: signed, ObjectKey: key, ExpiresAt: expiresAt}, nil
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
)

// SupabaseStore keeps objects in a Supabase storage bucket.
type SupabaseStore struct {
	client *storage_go.Client
	bucket string
}

// NewSupabaseStore connects to the storage API at url (".../storage/v1").
func NewSupabaseStore(url, serviceKey, bucket string) (*SupabaseStore, error) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	if url == "" || serviceKey == "" {
		return nil, errors.New("storage: supabase url and service key are required")
	}
	if bucket == "" {
		return nil, errors.New("storage: supabase bucket is required")
	}
	client := storage_go.NewClient(url, serviceKey, map[string]string{"apikey": serviceKey})
	return &SupabaseStore{client: client, bucket: bucket}, nil
}

func (s *SupabaseStore) Name() string { return "supabase" }

func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	upsert := true
	opts := storage_go.FileOptions{Upsert: &upsert}
	if contentType != "" {
		opts.ContentType = &contentType
	}
	if _, err := s.client.UploadFile(s.bucket, cleanKey, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("storage: supabase upload: %w", err)
	}
	return s.client.GetPublicUrl(s.bucket, cleanKey).SignedURL, nil
}

func (s *SupabaseStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, cleanKey)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: supabase download: %w", err)
	}
	return data, nil
}

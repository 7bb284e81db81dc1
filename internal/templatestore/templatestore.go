// Package templatestore fetches per-domain render configuration —
// PDF option overrides, HTTP header overrides, and a host deny-list
// pattern — from S3-compatible object storage.
//
// This mirrors the teacher's internal/store/blob_store.go almost
// directly: the same retry-with-backoff connect loop, the same
// Put/Get/Stat shape, re-pointed from "functions/{id}.js" (user code) to
// "templates/{domain}.json" (render configuration). Caching *rendered
// PDFs* remains out of scope (spec.md §1 Non-goals); this store only ever
// holds small, operator-authored configuration objects.
package templatestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Template is the per-domain configuration object.
type Template struct {
	PDFOptions      map[string]string `json:"pdfOptions"`
	HeaderOverrides map[string]string `json:"headerOverrides"`
	DenylistPattern string            `json:"denylistPattern"`
}

// Config holds connection parameters for the object store.
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
}

// Store wraps a MinIO client to store and retrieve domain templates.
type Store struct {
	client     *minio.Client
	bucketName string
	log        *zap.Logger
	fallback   Template
}

// New creates a Store with connection retry logic: MinIO may not be
// immediately reachable during container startup.
func New(ctx context.Context, cfg Config, log *zap.Logger, fallback Template) (*Store, error) {
	var client *minio.Client
	var err error

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure: cfg.UseSSL,
		})
		if err == nil {
			var exists bool
			exists, err = client.BucketExists(ctx, cfg.BucketName)
			if err == nil {
				if !exists {
					if err = client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
						return nil, fmt.Errorf("create template bucket: %w", err)
					}
				}
				return &Store{client: client, bucketName: cfg.BucketName, log: log, fallback: fallback}, nil
			}
		}

		backoff := time.Duration(1<<i) * time.Second
		log.Warn("template store connect retry", zap.Int("attempt", i+1), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("failed to connect to template store after %d retries: %w", maxRetries, err)
}

func objectName(domain string) string {
	return fmt.Sprintf("templates/%s.json", domain)
}

// ForDomain returns the template for domain, or the compiled-in fallback
// if no object exists for it.
func (s *Store) ForDomain(ctx context.Context, domain string) (Template, error) {
	name := objectName(domain)

	if _, err := s.client.StatObject(ctx, s.bucketName, name, minio.StatObjectOptions{}); err != nil {
		errResponse := minio.ToErrorResponse(err)
		if errResponse.Code == "NoSuchKey" {
			return s.fallback, nil
		}
		return Template{}, fmt.Errorf("check template for %s: %w", domain, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, name, minio.GetObjectOptions{})
	if err != nil {
		return Template{}, fmt.Errorf("fetch template for %s: %w", domain, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return Template{}, fmt.Errorf("read template for %s: %w", domain, err)
	}

	var tmpl Template
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return Template{}, fmt.Errorf("decode template for %s: %w", domain, err)
	}
	return tmpl, nil
}

// SaveTemplate stores (or overwrites) the template for domain. Used by
// operator tooling, not by the render path itself.
func (s *Store) SaveTemplate(ctx context.Context, domain string, tmpl Template) error {
	data, err := json.Marshal(tmpl)
	if err != nil {
		return fmt.Errorf("encode template for %s: %w", domain, err)
	}
	_, err = s.client.PutObject(ctx, s.bucketName, objectName(domain), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("save template for %s: %w", domain, err)
	}
	return nil
}

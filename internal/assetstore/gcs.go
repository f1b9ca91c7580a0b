package assetstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCS stores receipt images in one Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a client for bucket. Application Default Credentials are
// used unless opts say otherwise. A non-empty endpoint points the client at
// an emulator without authentication.
func NewGCS(ctx context.Context, bucket, endpoint string, opts ...option.ClientOption) (*GCS, error) {
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) UploadTemp(ctx context.Context, data []byte, tempKey, contentType string) (string, error) {
	if !IsTempKey(tempKey) {
		return "", &StorageError{Op: "upload", Key: tempKey, Err: fmt.Errorf("not a temporary key")}
	}

	w := g.client.Bucket(g.bucket).Object(tempKey).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", classify("upload", tempKey, err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", classify("upload", tempKey, err)
	}

	return URI(SchemeGCS, g.bucket, tempKey), nil
}

// Promote copies the temporary object to its permanent key and removes the
// original. Promoting an already promoted object succeeds.
func (g *GCS) Promote(ctx context.Context, tempURI, recordID string) (string, error) {
	tempKey, err := g.key(tempURI)
	if err != nil {
		return "", &StorageError{Op: "promote", Key: tempURI, Err: err}
	}
	dstKey, err := PromotedKey(tempKey, recordID)
	if err != nil {
		return "", &StorageError{Op: "promote", Key: tempKey, Err: err}
	}

	bkt := g.client.Bucket(g.bucket)
	src := bkt.Object(tempKey)
	dst := bkt.Object(dstKey)

	if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
		if !errors.Is(err, storage.ErrObjectNotExist) {
			return "", classify("promote", tempKey, err)
		}
		if _, attrErr := dst.Attrs(ctx); attrErr != nil {
			return "", classify("promote", tempKey, err)
		}
		return URI(SchemeGCS, g.bucket, dstKey), nil
	}

	if err := src.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return "", classify("promote", tempKey, err)
	}

	return URI(SchemeGCS, g.bucket, dstKey), nil
}

func (g *GCS) Fetch(ctx context.Context, uri string) ([]byte, error) {
	key, err := g.key(uri)
	if err != nil {
		return nil, &StorageError{Op: "fetch", Key: uri, Err: err}
	}

	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, classify("fetch", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classify("fetch", key, err)
	}

	return data, nil
}

// Delete removes the object. A missing object is not an error.
func (g *GCS) Delete(ctx context.Context, uri string) error {
	key, err := g.key(uri)
	if err != nil {
		return &StorageError{Op: "delete", Key: uri, Err: err}
	}

	if err := g.client.Bucket(g.bucket).Object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return classify("delete", key, err)
	}
	return nil
}

func (g *GCS) key(uri string) (string, error) {
	scheme, bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", err
	}
	if scheme != SchemeGCS || bucket != g.bucket {
		return "", fmt.Errorf("URI %s is outside bucket %s", uri, g.bucket)
	}
	return key, nil
}

func classify(op, key string, err error) error {
	se := &StorageError{Op: op, Key: key, Err: err}

	var apiErr *googleapi.Error
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		se.Err = fmt.Errorf("%w: %v", ErrObjectNotFound, err)
	case errors.As(err, &apiErr):
		se.Retryable = RetryableStatus(apiErr.Code)
	case errors.Is(err, context.Canceled):
	default:
		se.Retryable = isTransportError(err)
	}

	return se
}

// Package assetstore stores receipt images. Captures are uploaded under a
// temporary key first and promoted to a permanent key once the record id is
// known.
package assetstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	SchemeGCS    = "gs"
	SchemeMemory = "mem"

	tempPrefix = "temp-"
	imageExt   = ".jpg"
)

// Store is the object storage used by the capture pipeline.
type Store interface {
	// UploadTemp writes data under tempKey and returns its URI.
	UploadTemp(ctx context.Context, data []byte, tempKey, contentType string) (string, error)
	// Promote moves a temporary object to the permanent key for recordID.
	Promote(ctx context.Context, tempURI, recordID string) (string, error)
	Fetch(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}

// TempKey returns a fresh temporary object key for tenantID.
func TempKey(tenantID string, now time.Time) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s/%s%d-%s%s", tenantID, tempPrefix, now.UnixMilli(), short, imageExt)
}

// PermanentKey is the key an image lives under once its record exists.
func PermanentKey(tenantID, recordID string) string {
	return tenantID + "/" + recordID + imageExt
}

// IsTempKey reports whether key names a temporary upload.
func IsTempKey(key string) bool {
	return strings.HasPrefix(path.Base(key), tempPrefix)
}

// PromotedKey maps a temporary key to the permanent key for recordID,
// keeping the tenant directory.
func PromotedKey(tempKey, recordID string) (string, error) {
	if !IsTempKey(tempKey) {
		return "", fmt.Errorf("not a temporary key: %q", tempKey)
	}
	tenantID := path.Dir(tempKey)
	if tenantID == "." || tenantID == "" {
		return "", fmt.Errorf("temporary key %q has no tenant directory", tempKey)
	}
	return PermanentKey(tenantID, recordID), nil
}

// URI builds scheme://bucket/key.
func URI(scheme, bucket, key string) string {
	return scheme + "://" + bucket + "/" + key
}

// ParseURI splits scheme://bucket/key.
func ParseURI(uri string) (scheme, bucket, key string, err error) {
	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok || scheme == "" {
		return "", "", "", fmt.Errorf("invalid object URI: %s", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", "", fmt.Errorf("invalid object URI (no object path): %s", uri)
	}
	return scheme, bucket, key, nil
}

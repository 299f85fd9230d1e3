// Package storage provides object storage for archived usage snapshots.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: File system storage for development
// - R2Storage: Cloudflare R2 (S3-compatible) storage for production
//
// Finalized daily snapshots are written once as JSON documents and read back
// by operators; nothing here is served to browsers.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage defines the interface for object storage operations.
//
// All methods are context-aware for timeout and cancellation support.
type Storage interface {
	// Put stores data at the specified key with the given options.
	// Returns ErrKeyExists if the key already exists and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get retrieves the data at the specified key. The caller must close the
	// returned reader. Returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete removes the object at the specified key. Idempotent.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType specifies the MIME type of the object. Defaults to
	// ContentTypeJSON.
	ContentType string

	// MaxSize specifies the maximum allowed size in bytes; 0 means no limit.
	MaxSize int64

	// Overwrite allows replacing an existing object at the same key.
	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string    // Object key/path
	Size         int64     // Size in bytes
	ContentType  string    // MIME type
	LastModified time.Time // Last modification time
	ETag         string    // Entity tag (if available)
}

// ContentTypeJSON is the content type of archived snapshots.
const ContentTypeJSON = "application/json"

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where files are stored.
	// Example: "./storage" or "/var/lib/wrenchly/archive"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK; R2 accepts "auto".
	Region string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// =============================================================================
// Key Generation Helpers
// =============================================================================

// SnapshotKey returns the archive key of a tenant's daily snapshot.
// Format: snapshots/{tenantID}/{yyyy}/{mm}/{dd}.json
//
// Example: "snapshots/123e4567-e89b-12d3-a456-426614174000/2026/06/03.json"
func SnapshotKey(tenantID uuid.UUID, day time.Time) string {
	day = day.UTC()
	return fmt.Sprintf("snapshots/%s/%04d/%02d/%02d.json", tenantID, day.Year(), int(day.Month()), day.Day())
}

// SnapshotPrefix returns the key prefix holding all of a tenant's archives.
func SnapshotPrefix(tenantID uuid.UUID) string {
	return fmt.Sprintf("snapshots/%s/", tenantID)
}

// SnapshotDayFromKey returns the day encoded in a key made by SnapshotKey.
func SnapshotDayFromKey(key string) (time.Time, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 || parts[0] != "snapshots" {
		return time.Time{}, &StorageError{Op: "ParseKey", Key: key, Err: ErrInvalidKey}
	}
	day, err := time.Parse("2006/01/02.json", strings.Join(parts[2:], "/"))
	if err != nil {
		return time.Time{}, &StorageError{Op: "ParseKey", Key: key, Err: ErrInvalidKey}
	}
	return day, nil
}

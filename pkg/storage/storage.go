package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/feichai0017/seed-processor/pkg/logger"
	"github.com/feichai0017/seed-processor/pkg/storage/minio"
	"github.com/feichai0017/seed-processor/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
	StorageTypeNone   StorageType = "none"
)

// Storage keeps the raw bytes of uploaded seeds.
type Storage interface {
	// Store returns the key the object was written under
	Store(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete of a missing key is not an error
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理 prefix 下的过期文件
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) (int, error)
}

// NewStorage builds the configured backend. StorageTypeNone returns a nil
// Storage; callers then keep no raw bytes.
func NewStorage(ctx context.Context, storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(ctx, log)
	case StorageTypeMinio:
		return minio.GetClient(ctx, log)
	case StorageTypeMemory:
		return NewMemoryStorage(), nil
	case StorageTypeNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// ObjectKey builds the key for a seed upload: <prefix>/<user>/<seed>/<file>.
func ObjectKey(prefix, userID, seedID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join(prefix, sanitize(userID), seedID, name)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "anonymous"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

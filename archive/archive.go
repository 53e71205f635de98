// Package archive keeps a copy of every raw roster document a run
// reconciled, keyed by academic year and run id.
package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/SamuelLeutner/student-roster-sync/config"
)

const (
	DriverNone       = ""
	DriverFilesystem = "fs"
	DriverS3         = "s3"
)

var ErrNotFound = errors.New("archive object not found")

type Archiver interface {
	// Put stores data under key and returns where it ended up.
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Key is feeds/<academic-year>/<run-id>.json.
func Key(academicYear, runID string) string {
	return path.Join("feeds", academicYear, runID+".json")
}

// New returns nil, nil when archiving is disabled.
func New(ctx context.Context, cfg config.ArchiveConfig) (Archiver, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverNone:
		return nil, nil
	case DriverFilesystem:
		fsStore, err := NewFilesystem(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fsStore, nil
	case DriverS3:
		s3Store, err := NewS3(ctx, S3Config{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			PathStyle: cfg.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3Store, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %s", cfg.Driver)
	}
}

func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("empty key")
	}
	if strings.Contains(key, "..") {
		return "", errors.New("invalid key contains '..'")
	}
	if strings.HasPrefix(key, "/") {
		return "", errors.New("invalid absolute key")
	}
	return path.Clean(key), nil
}

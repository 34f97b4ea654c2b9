package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// ReadPackage liest ein Datensatz-Paket von einem lokalen Pfad oder einer s3:// URL.
// api wird nur für s3:// gebraucht.
func ReadPackage(ctx context.Context, api ObjectAPI, location string) ([]byte, error) {
	bucket, key, isS3 := ParseS3URL(location)
	if !isS3 {
		if strings.HasPrefix(location, "s3://") {
			return nil, fmt.Errorf("invalid s3 url %q, expected s3://bucket/key", location)
		}
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("read package: %w", err)
		}
		return data, nil
	}
	if api == nil {
		return nil, errors.New("s3 package location given but object storage is not configured")
	}

	out, err := api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", location, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return data, nil
}

// PackageArchive legt erfolgreich angewandte Pakete unter datasets/<version>/<sha256>.<ext> ab.
// Gleicher Inhalt landet immer unter demselben Schlüssel.
type PackageArchive struct {
	api    ObjectAPI
	bucket string
	logger *zap.Logger
}

func NewPackageArchive(api ObjectAPI, bucket string, logger *zap.Logger) *PackageArchive {
	return &PackageArchive{api: api, bucket: bucket, logger: logger.With(zap.String("component", "archive"))}
}

func (a *PackageArchive) Archive(ctx context.Context, version, name string, data []byte) (string, error) {
	key := ArchiveKey(version, name, data)
	location, err := UploadFile(ctx, a.api, a.bucket, key, data, contentType(name))
	if err != nil {
		return "", err
	}
	a.logger.Debug("Package uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return location, nil
}

// ArchiveKey baut den Objektschlüssel für ein Paket.
func ArchiveKey(version, name string, data []byte) string {
	sum := sha256.Sum256(data)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".json"
	}
	return path.Join("datasets", versionSegment(version), hex.EncodeToString(sum[:])+ext)
}

func versionSegment(version string) string {
	version = strings.TrimSpace(version)
	if version == "" {
		return "unversioned"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, version)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/json"
	}
}

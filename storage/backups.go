package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// BackupPrefix ist das gemeinsame Präfix aller Datenbank-Backups.
const BackupPrefix = "backup-"

// BackupKey liefert den Objektschlüssel für ein Backup zum Zeitpunkt t.
func BackupKey(t time.Time) string {
	return fmt.Sprintf("%s%s.sql.gz", BackupPrefix, t.UTC().Format("2006-01-02T15-04-05Z"))
}

// RotateBackups behält die keep neuesten Backups und löscht den Rest.
// Fehler beim Löschen einzelner Objekte werden geloggt, die Rotation läuft weiter.
func RotateBackups(ctx context.Context, api ObjectAPI, bucket string, keep int, logger *zap.Logger) ([]string, error) {
	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(BackupPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list backups: %w", err)
		}
		objects = append(objects, page.Contents...)
	}

	if len(objects) <= keep {
		logger.Info("No rotation needed", zap.Int("backups", len(objects)), zap.Int("keep", keep))
		return nil, nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return aws.ToTime(objects[i].LastModified).After(aws.ToTime(objects[j].LastModified))
	})

	var deleted []string
	for _, obj := range objects[keep:] {
		key := aws.ToString(obj.Key)
		logger.Info("Deleting old backup", zap.String("key", key))
		if _, err := api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: obj.Key}); err != nil {
			logger.Error("Failed to delete backup", zap.String("key", key), zap.Error(err))
			continue
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

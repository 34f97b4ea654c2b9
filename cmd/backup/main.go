package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"nutrikb/storage"
)

// BackupConfig wird getrennt von der Import-Konfiguration geladen, damit der Job
// mit eigenen (schreibenden) Zugangsdaten laufen kann.
type BackupConfig struct {
	PostgresHost     string        `envconfig:"POSTGRES_HOST" required:"true"`
	PostgresPort     int           `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresUser     string        `envconfig:"POSTGRES_USER" required:"true"`
	PostgresPassword string        `envconfig:"POSTGRES_PASSWORD" required:"true"`
	PostgresDB       string        `envconfig:"POSTGRES_DB" required:"true"`
	BackupBucket     string        `envconfig:"BACKUP_S3_BUCKET" required:"true"`
	BackupEndpoint   string        `envconfig:"BACKUP_S3_ENDPOINT" required:"true"`
	BackupAccessKey  string        `envconfig:"BACKUP_S3_ACCESS_KEY" required:"true"`
	BackupSecretKey  string        `envconfig:"BACKUP_S3_SECRET_KEY" required:"true"`
	BackupRegion     string        `envconfig:"BACKUP_S3_REGION" required:"true"`
	KeepBackups      int           `envconfig:"KEEP_BACKUPS" default:"4"`
	Timeout          time.Duration `envconfig:"BACKUP_TIMEOUT" default:"30m"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()

	var cfg BackupConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Fatal("Config load error", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Backup failed", zap.Error(err))
	}
	logger.Info("Backup finished")
}

func run(ctx context.Context, cfg BackupConfig, logger *zap.Logger) error {
	logger.Info("Creating database dump", zap.String("database", cfg.PostgresDB))
	dump, err := createDump(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create dump: %w", err)
	}

	client, err := storage.NewS3Client(ctx, storage.Endpoint{
		URL:    cfg.BackupEndpoint,
		Region: cfg.BackupRegion,
		Key:    cfg.BackupAccessKey,
		Secret: cfg.BackupSecretKey,
	})
	if err != nil {
		return fmt.Errorf("create s3 client: %w", err)
	}

	location, err := storage.UploadFile(ctx, client, cfg.BackupBucket, storage.BackupKey(time.Now()), dump, "application/gzip")
	if err != nil {
		return err
	}
	logger.Info("Backup uploaded", zap.String("location", location), zap.Int("bytes", len(dump)))

	deleted, err := storage.RotateBackups(ctx, client, cfg.BackupBucket, cfg.KeepBackups, logger)
	if err != nil {
		return fmt.Errorf("rotate backups: %w", err)
	}
	logger.Info("Backup rotation done", zap.Int("deleted", len(deleted)), zap.Int("keep", cfg.KeepBackups))
	return nil
}

// createDump ruft pg_dump auf und komprimiert die Ausgabe mit gzip.
func createDump(ctx context.Context, cfg BackupConfig) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "pg_dump",
		"-h", cfg.PostgresHost,
		"-p", fmt.Sprint(cfg.PostgresPort),
		"-U", cfg.PostgresUser,
		"-d", cfg.PostgresDB,
		"-w", // Passwort kommt über PGPASSWORD
	)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+cfg.PostgresPassword)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := io.Copy(gz, stdout); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("pg_dump: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return buf.Bytes(), nil
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	// DatabaseURL hat Vorrang vor den Einzelwerten.
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBHost      string `envconfig:"DB_HOST"`
	DBPort      int    `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER"`
	DBPassword  string `envconfig:"DB_PASSWORD"`
	DBName      string `envconfig:"DB_NAME"`
	DBSSLMode   string `envconfig:"DB_SSLMODE" default:"disable"`

	// CI wird von den meisten CI-Systemen gesetzt; dort ist --strict Pflicht.
	CI      bool   `envconfig:"CI" default:"false"`
	LogMode string `envconfig:"LOG_MODE" default:"production"`

	ChunkSize          int           `envconfig:"IMPORT_CHUNK_SIZE" default:"500"`
	StoreRetryAttempts int           `envconfig:"STORE_RETRY_ATTEMPTS" default:"5"`
	StoreRetryInitial  time.Duration `envconfig:"STORE_RETRY_INITIAL" default:"200ms"`
	StoreRetryMax      time.Duration `envconfig:"STORE_RETRY_MAX" default:"5s"`

	// S3-kompatibler Objektspeicher für Paket-Archiv und s3:// Quellen
	S3URL           string `envconfig:"S3_URL"`
	S3Region        string `envconfig:"S3_REGION" default:"eu-central-1"`
	S3Key           string `envconfig:"S3_KEY"`
	S3Secret        string `envconfig:"S3_SECRET"`
	S3Bucket        string `envconfig:"S3_BUCKET"`
	ArchivePackages bool   `envconfig:"ARCHIVE_PACKAGES" default:"false"`

	PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	HTTPPort       string `envconfig:"HTTP_PORT" default:"4242"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// ValidateDatabase prüft, ob genug Angaben für eine Live-Verbindung vorhanden sind.
// Dry-Runs brauchen keine Datenbank.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL != "" {
		return nil
	}
	var missing []string
	if c.DBHost == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.DBUser == "" {
		missing = append(missing, "DB_USER")
	}
	if c.DBName == "" {
		missing = append(missing, "DB_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("database not configured, missing %v (or set DATABASE_URL)", missing)
	}
	return nil
}

// S3Enabled meldet, ob ein Objektspeicher konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.S3URL != "" && c.S3Key != "" && c.S3Secret != ""
}

// Validate prüft Wertebereiche, die envconfig nicht abdeckt.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.New("IMPORT_CHUNK_SIZE must be positive")
	}
	if c.StoreRetryAttempts < 1 {
		return errors.New("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return &c, err
	}
	return &c, c.Validate()
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_USER", "nutri")
	t.Setenv("DB_NAME", "knowledge")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.StoreRetryAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.StoreRetryInitial)
	assert.Equal(t, "4242", cfg.HTTPPort)
	assert.NoError(t, cfg.ValidateDatabase())
	assert.Equal(t, "host=db user=nutri password= dbname=knowledge port=5432 sslmode=disable", cfg.DSN())
}

func TestDatabaseURLWins(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://u:p@localhost/kb", DBHost: "ignored"}
	assert.Equal(t, "postgres://u:p@localhost/kb", cfg.DSN())
	assert.NoError(t, cfg.ValidateDatabase())
}

func TestValidateDatabaseListsMissing(t *testing.T) {
	err := (&Config{DBHost: "db"}).ValidateDatabase()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_USER")
	assert.Contains(t, err.Error(), "DB_NAME")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("IMPORT_CHUNK_SIZE", "0")
	_, err := Load()
	assert.ErrorContains(t, err, "IMPORT_CHUNK_SIZE")

	assert.Error(t, (&Config{ChunkSize: 10}).Validate())
	assert.NoError(t, (&Config{ChunkSize: 10, StoreRetryAttempts: 1}).Validate())
}

func TestS3Enabled(t *testing.T) {
	assert.False(t, (&Config{S3URL: "https://s3.example"}).S3Enabled())
	assert.True(t, (&Config{S3URL: "https://s3.example", S3Key: "k", S3Secret: "s"}).S3Enabled())
}

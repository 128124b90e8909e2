package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tasks?sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BulkChunkSize != 100 {
		t.Fatalf("expected chunk size 100, got %d", cfg.BulkChunkSize)
	}
	if cfg.BulkMaxOperations != 1000 {
		t.Fatalf("expected max operations 1000, got %d", cfg.BulkMaxOperations)
	}
	if cfg.BulkMaxTasksPerRequest != 100 {
		t.Fatalf("expected per-request cap 100, got %d", cfg.BulkMaxTasksPerRequest)
	}
	if cfg.BulkMemoryLimitMB != 128 {
		t.Fatalf("expected memory limit 128, got %d", cfg.BulkMemoryLimitMB)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("expected 30s shutdown timeout, got %s", cfg.ShutdownTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tasks?sslmode=disable")
	t.Setenv("BULK_CHUNK_SIZE", "25")
	t.Setenv("BULK_MAX_TASKS_PER_REQUEST", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BulkChunkSize != 25 {
		t.Fatalf("expected chunk size 25, got %d", cfg.BulkChunkSize)
	}
	if cfg.BulkMaxTasksPerRequest != 50 {
		t.Fatalf("expected per-request cap 50, got %d", cfg.BulkMaxTasksPerRequest)
	}

	bulk := cfg.GetBulkConfig()
	if bulk.ChunkSize != 25 || bulk.MaxOperations != 1000 {
		t.Fatalf("unexpected bulk config: %+v", bulk)
	}
}

func TestValidateRejectsMissingDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestValidateRejectsInvertedBulkCaps(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/tasks?sslmode=disable")
	t.Setenv("BULK_MAX_OPERATIONS", "10")
	t.Setenv("BULK_MAX_TASKS_PER_REQUEST", "100")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation failure when absolute ceiling < per-request cap")
	}
}

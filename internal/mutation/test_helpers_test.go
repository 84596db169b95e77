package mutation

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/clinforge/relay/backend/internal/entities"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(entities.AllModels()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestPipeline(t *testing.T, db *gorm.DB) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(PipelineConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct pipeline: %v", err)
	}
	return pipeline
}

func mustExecute(t *testing.T, pipeline *Pipeline, m Mutation) *Outcome {
	t.Helper()
	outcome, err := pipeline.Execute(context.Background(), m)
	if err != nil {
		t.Fatalf("unexpected mutation error: %v", err)
	}
	return outcome
}

func mustFailWith(t *testing.T, pipeline *Pipeline, m Mutation, code ErrorCode) *MutationError {
	t.Helper()
	_, err := pipeline.Execute(context.Background(), m)
	if err == nil {
		t.Fatalf("expected mutation to fail with %s", code)
	}
	mutErr, ok := AsMutationError(err)
	if !ok {
		t.Fatalf("expected MutationError, got %T: %v", err, err)
	}
	if mutErr.Code != code {
		t.Fatalf("expected code %s, got %s (%v)", code, mutErr.Code, mutErr)
	}
	return mutErr
}

package testutil

import (
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/malascope/malascope-backend/internal/logger"
	"github.com/malascope/malascope-backend/internal/types"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	dbOnce sync.Once
	db     *gorm.DB
	dbErr  error

	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

func DB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}

		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			TranslateError: true,
			Logger:         gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			dbErr = err
			return
		}

		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
			dbErr = err
			return
		}

		if err := autoMigrateAll(db); err != nil {
			dbErr = err
			return
		}
	})

	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run repo integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return db
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

// SeedSample inserts a sample in the given transaction.
func SeedSample(tb testing.TB, tx *gorm.DB, status types.SampleStatus) *types.Sample {
	tb.Helper()
	now := time.Now().UTC()
	sample := &types.Sample{
		SampleType:  "thin_smear",
		Priority:    "routine",
		Status:      status,
		CollectedAt: &now,
	}
	if err := tx.Create(sample).Error; err != nil {
		tb.Fatalf("seed sample: %v", err)
	}
	return sample
}

// SeedImage inserts a sample image attached to the given sample.
func SeedImage(tb testing.TB, tx *gorm.DB, sampleID uuid.UUID, kind types.SmearKind) *types.SampleImage {
	tb.Helper()
	image := &types.SampleImage{
		SampleID:     sampleID,
		SmearKind:    kind,
		StorageKey:   "images/" + uuid.NewString() + ".png",
		OriginalName: "smear.png",
		Width:        800,
		Height:       600,
	}
	if err := tx.Create(image).Error; err != nil {
		tb.Fatalf("seed image: %v", err)
	}
	return image
}

func autoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.Sample{},
		&types.SampleImage{},
		&types.ImagePatch{},
		&types.InitialAnalysis{},
		&types.PatchClassification{},
		&types.DetailedAnalysis{},
		&types.DetectionResult{},
		&types.AnalysisJob{},
	); err != nil {
		return err
	}
	return db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS uq_analysis_job_active
		ON analysis_job (image_id, job_type)
		WHERE status IN ('queued', 'running')
	`).Error
}

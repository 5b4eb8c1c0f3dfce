package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/moshr/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	all := AllMigrations()
	seen := map[string]bool{}
	prev := ""
	for _, m := range all {
		assert.False(t, seen[m.Version], "duplicate version %s", m.Version)
		seen[m.Version] = true
		assert.Greater(t, m.Version, prev)
		prev = m.Version
		assert.NotNil(t, m.Up)
		assert.NotEmpty(t, m.Description)
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable(&models.JobRecord{}))
	assert.True(t, db.Migrator().HasIndex(&models.JobRecord{}, "idx_job_history_status_finished"))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, len(AllMigrations()))
	for _, s := range status {
		assert.NotNil(t, s.AppliedAt, s.Version)
	}
}

func TestMigrator_Down(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasIndex(&models.JobRecord{}, "idx_job_history_status_finished"))
	assert.True(t, db.Migrator().HasTable(&models.JobRecord{}))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable(&models.JobRecord{}))

	// Nothing left to roll back.
	require.NoError(t, m.Down(ctx))
}

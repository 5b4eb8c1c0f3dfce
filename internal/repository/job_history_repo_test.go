package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/moshr/internal/models"
)

func setupHistoryTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.JobRecord{}))
	return db
}

func record(effect string, status models.JobStatus, finished time.Time) *models.JobRecord {
	return &models.JobRecord{
		Kind:       models.JobKindEngine,
		Effect:     effect,
		Status:     status,
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: finished,
	}
}

func TestJobHistoryRepo_CreateAndGet(t *testing.T) {
	repo := NewJobHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()

	rec := record("datamosh", models.JobStatusSuccess, time.Now())
	require.NoError(t, repo.Create(ctx, rec))
	assert.False(t, rec.ID.IsZero())

	found, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "datamosh", found.Effect)
	assert.Equal(t, models.JobStatusSuccess, found.Status)

	missing, err := repo.GetByID(ctx, models.NewULID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestJobHistoryRepo_List(t *testing.T) {
	repo := NewJobHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, repo.Create(ctx, record("datamosh", models.JobStatusSuccess, base)))
	require.NoError(t, repo.Create(ctx, record("rgbshift", models.JobStatusError, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, record("datamosh", models.JobStatusCanceled, base.Add(2*time.Minute))))

	all, total, err := repo.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, models.JobStatusCanceled, all[0].Status, "newest first")

	moshes, total, err := repo.List(ctx, HistoryFilter{Effect: "datamosh"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, moshes, 2)

	failed, _, err := repo.List(ctx, HistoryFilter{Status: models.JobStatusError})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "rgbshift", failed[0].Effect)

	recent, total, err := repo.List(ctx, HistoryFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, recent, 2)

	page, total, err := repo.List(ctx, HistoryFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, "rgbshift", page[0].Effect)
}

func TestJobHistoryRepo_Prune(t *testing.T) {
	repo := NewJobHistoryRepository(setupHistoryTestDB(t))
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, record("old", models.JobStatusSuccess, now.Add(-48*time.Hour))))
	require.NoError(t, repo.Create(ctx, record("new", models.JobStatusSuccess, now)))

	old, err := repo.FinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "old", old[0].Effect)

	n, err := repo.DeleteFinishedBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, total, err := repo.List(ctx, HistoryFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

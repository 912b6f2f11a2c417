package repository_test

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/farmchainx/provenance/repository"
	"github.com/farmchainx/provenance/repository/models"
)

const testFrontendBase = "http://localhost:5173"

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// in-memory sqlite exists per connection
	sqlDB.SetMaxOpenConns(1)

	repo := repository.NewRepository(testFrontendBase)
	require.NoError(t, repo.Open(db))
	return repo
}

// seedBatch creates a batch with one crop line-item per quantity given.
func seedBatch(t *testing.T, repo *repository.Repository, batchID, farmerID, cropType string, quantities ...string) *models.BatchRecord {
	t.Helper()

	for i, q := range quantities {
		_, repoErr := repo.LogCrop(&models.CropLineItem{
			FarmerID: farmerID,
			BatchID:  batchID,
			CropName: cropType,
			CropType: cropType,
			Quantity: decimal.RequireFromString(q),
			Location: "Field A",
		})
		require.Nil(t, repoErr, "seeding crop %d", i)
	}

	batch, repoErr := repo.GetBatch(batchID)
	require.Nil(t, repoErr)
	return batch
}

func traceLabels(t *testing.T, repo *repository.Repository, batchID string) []string {
	t.Helper()
	_, events, repoErr := repo.GetTrace(batchID)
	require.Nil(t, repoErr)
	labels := make([]string, 0, len(events))
	for _, e := range events {
		labels = append(labels, e.EventLabel)
	}
	return labels
}

func TestGetBatchNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, repoErr := repo.GetBatch("FCX-MIS-000000-XXXXXX")
	require.NotNil(t, repoErr)
	assert.True(t, repoErr.IsNotFound())
}

func TestGetTraceNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, _, repoErr := repo.GetTrace("FCX-MIS-000000-XXXXXX")
	require.NotNil(t, repoErr)
	assert.True(t, repoErr.IsNotFound())
}

func TestGetTraceOrdering(t *testing.T) {
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "FCX-TOM-250101-AAAAAA", "FRM-1", "Tomato", "100")

	_, repoErr := repo.UpdateStatus(batch.BatchID, models.StatusHarvested, "FRM-1")
	require.Nil(t, repoErr)
	conf := 0.91
	_, repoErr = repo.UpdateQualityGrade(batch.BatchID, "A", &conf, "FRM-1")
	require.Nil(t, repoErr)
	_, repoErr = repo.ApproveBatch(batch.BatchID, "DST-1")
	require.Nil(t, repoErr)

	_, events, repoErr := repo.GetTrace(batch.BatchID)
	require.Nil(t, repoErr)
	require.Len(t, events, 3)

	assert.Equal(t, "HARVESTED", events[0].EventLabel)
	assert.Equal(t, models.EventQualityUpdated, events[1].EventLabel)
	assert.Equal(t, "APPROVED", events[2].EventLabel)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Timestamp.Before(events[i-1].Timestamp),
			"trace events must be in non-decreasing timestamp order")
	}
	for _, e := range events {
		assert.Equal(t, "FRM-1", e.FarmerID)
	}
}

func TestReadsAreIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "FCX-TOM-250101-BBBBBB", "FRM-1", "Tomato", "60", "40")

	first, repoErr := repo.GetBatch(batch.BatchID)
	require.Nil(t, repoErr)
	second, repoErr := repo.GetBatch(batch.BatchID)
	require.Nil(t, repoErr)
	assert.Equal(t, first.TotalQuantity.StringFixed(2), second.TotalQuantity.StringFixed(2))
	assert.Len(t, second.Crops, 2)

	cropsA, repoErr := repo.CropsForBatch(batch.BatchID)
	require.Nil(t, repoErr)
	cropsB, repoErr := repo.CropsForBatch(batch.BatchID)
	require.Nil(t, repoErr)
	assert.Equal(t, cropsA, cropsB)

	_, eventsA, repoErr := repo.GetTrace(batch.BatchID)
	require.Nil(t, repoErr)
	_, eventsB, repoErr := repo.GetTrace(batch.BatchID)
	require.Nil(t, repoErr)
	assert.Equal(t, eventsA, eventsB)
}

func TestPendingBatchesFiltersByStatus(t *testing.T) {
	repo := newTestRepo(t)
	harvested := seedBatch(t, repo, "FCX-TOM-250101-CCCCCC", "FRM-1", "Tomato", "50")
	planted := seedBatch(t, repo, "FCX-RIC-250101-DDDDDD", "FRM-2", "Rice", "30")

	_, repoErr := repo.UpdateStatus(harvested.BatchID, models.StatusHarvested, "FRM-1")
	require.Nil(t, repoErr)

	pending, repoErr := repo.PendingBatches()
	require.Nil(t, repoErr)
	require.Len(t, pending, 1)
	assert.Equal(t, harvested.BatchID, pending[0].BatchID)
	assert.Len(t, pending[0].Crops, 1)

	got, repoErr := repo.GetBatch(planted.BatchID)
	require.Nil(t, repoErr)
	assert.Equal(t, models.StatusPlanted, got.Status)
}

func TestApprovedBatchesByDistributor(t *testing.T) {
	repo := newTestRepo(t)
	batch := seedBatch(t, repo, "FCX-TOM-250101-EEEEEE", "FRM-1", "Tomato", "50")
	other := seedBatch(t, repo, "FCX-TOM-250101-FFFFFF", "FRM-1", "Tomato", "25")

	_, repoErr := repo.ApproveBatch(batch.BatchID, "DST-1")
	require.Nil(t, repoErr)
	_, repoErr = repo.ApproveBatch(other.BatchID, "DST-2")
	require.Nil(t, repoErr)

	approved, repoErr := repo.ApprovedBatches("DST-1")
	require.Nil(t, repoErr)
	require.Len(t, approved, 1)
	assert.Equal(t, batch.BatchID, approved[0].BatchID)
}

func TestBatchesByFarmer(t *testing.T) {
	repo := newTestRepo(t)
	seedBatch(t, repo, "FCX-TOM-250101-GGGGGG", "FRM-1", "Tomato", "50")
	seedBatch(t, repo, "FCX-RIC-250101-HHHHHH", "FRM-1", "Rice", "20")
	seedBatch(t, repo, "FCX-TOM-250101-IIIIII", "FRM-2", "Tomato", "10")

	batches, repoErr := repo.BatchesByFarmer("FRM-1")
	require.Nil(t, repoErr)
	assert.Len(t, batches, 2)
}

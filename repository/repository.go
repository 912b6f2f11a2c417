package repository

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/farmchainx/provenance/logger"
	"github.com/farmchainx/provenance/repository/models"
)

// Error codes returned by repository operations.
const (
	CodeValidation   = "VALIDATION"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidState = "INVALID_STATE"
	CodeDatabase     = "DATABASE_ERROR"
	CodeCommit       = "COMMIT_FAILED"
)

// RepositoryError represents repository layer errors
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Detail)
}

// IsNotFound reports whether e is a missing-record error.
func (e *RepositoryError) IsNotFound() bool { return e != nil && e.Code == CodeNotFound }

// IsValidation reports whether e is an invalid-input error.
func (e *RepositoryError) IsValidation() bool { return e != nil && e.Code == CodeValidation }

// IsInvalidState reports whether e is a disallowed-transition error.
func (e *RepositoryError) IsInvalidState() bool { return e != nil && e.Code == CodeInvalidState }

func validationErr(msg string, detail string) *RepositoryError {
	return &RepositoryError{Code: CodeValidation, Message: msg, Detail: detail}
}

func notFoundErr(kind, id string) *RepositoryError {
	return &RepositoryError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", kind),
		Detail:  fmt.Sprintf("%s %s does not exist", kind, id),
	}
}

func invalidStateErr(batchID string, status models.BatchStatus) *RepositoryError {
	return &RepositoryError{
		Code:    CodeInvalidState,
		Message: "Batch is in a terminal state",
		Detail:  fmt.Sprintf("Batch %s has status %s and accepts no further mutation", batchID, status),
	}
}

func databaseErr(err error) *RepositoryError {
	return &RepositoryError{Code: CodeDatabase, Message: "Database error", Detail: err.Error()}
}

// batchLocker serializes mutations per batch id. Every mutating operation
// takes the locks for all batch ids it touches, in sorted order, so two
// overlapping merges cannot deadlock.
//
// The map holds one mutex per batch id ever locked and is never evicted;
// memory grows with the number of distinct batches mutated over the
// process lifetime.
type batchLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newBatchLocker() *batchLocker {
	return &batchLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *batchLocker) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// acquire locks the given batch ids and returns the release function.
func (l *batchLocker) acquire(ids ...string) func() {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		m := l.get(id)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Repository handles all database operations for the provenance ledger
type Repository struct {
	db           *gorm.DB
	locks        *batchLocker
	frontendBase string
}

// NewRepository creates a new repository instance. frontendBase is the
// public frontend URL used to derive batch QR code links.
func NewRepository(frontendBase string) *Repository {
	return &Repository{
		locks:        newBatchLocker(),
		frontendBase: frontendBase,
	}
}

// ConnectDB establishes the Postgres connection and performs migrations
func (r *Repository) ConnectDB(dsn string) error {
	for i := 0; i < 10; i++ {
		logger.Info("database connection attempt", zap.Int("attempt", i+1))
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			logger.Warn("connection attempt failed", zap.Int("attempt", i+1), zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		r.db = db
		logger.Info("connected to database")

		if err := r.Migrate(); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to connect to database after 10 attempts")
}

// Open attaches an already-opened GORM connection and migrates. Used by
// tests, which run against the in-memory sqlite driver.
func (r *Repository) Open(db *gorm.DB) error {
	r.db = db
	return r.Migrate()
}

// Migrate performs database schema migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.BatchRecord{},
		&models.CropLineItem{},
		&models.TraceEvent{},
	)
}

// Seed initializes the database with demo data for local development.
// Skipped when batch records already exist.
func (r *Repository) Seed() {
	var batchCount int64
	r.db.Model(&models.BatchRecord{}).Count(&batchCount)
	if batchCount > 0 {
		logger.Info("seed data already exists, skipping")
		return
	}

	logger.Info("seeding database with demo data")

	today := time.Now()
	batch := models.BatchRecord{
		BatchID:       "FCX-TOM-250101-DEMO01",
		FarmerID:      "FRM-001",
		CropType:      "Tomato",
		TotalQuantity: decimal.NewFromInt(100),
		Status:        models.StatusHarvested,
		HarvestDate:   &today,
		QRCodeURL:     r.frontendBase + "/trace/FCX-TOM-250101-DEMO01",
	}
	r.db.Create(&batch)

	crops := []models.CropLineItem{
		{FarmerID: "FRM-001", BatchID: batch.BatchID, CropName: "Roma Tomato", CropType: "Tomato", Quantity: decimal.NewFromInt(60), Location: "Field A", Status: string(models.StatusHarvested)},
		{FarmerID: "FRM-001", BatchID: batch.BatchID, CropName: "Cherry Tomato", CropType: "Tomato", Quantity: decimal.NewFromInt(40), Location: "Field B", Status: string(models.StatusHarvested)},
	}
	for _, crop := range crops {
		r.db.Create(&crop)
	}

	logger.Info("database seeding completed")
}

// GetBatch retrieves a batch by ID with its crop line-items
func (r *Repository) GetBatch(batchID string) (*models.BatchRecord, *RepositoryError) {
	var batch models.BatchRecord
	err := r.db.Preload("Crops").Where("batch_id = ?", batchID).First(&batch).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("Batch", batchID)
		}
		return nil, databaseErr(err)
	}
	return &batch, nil
}

// BatchesByFarmer lists all batches owned by a farmer
func (r *Repository) BatchesByFarmer(farmerID string) ([]models.BatchRecord, *RepositoryError) {
	var batches []models.BatchRecord
	if err := r.db.Where("farmer_id = ?", farmerID).Order("created_at DESC").Find(&batches).Error; err != nil {
		return nil, databaseErr(err)
	}
	return batches, nil
}

// CropsForBatch lists all crop line-items attached to a batch
func (r *Repository) CropsForBatch(batchID string) ([]models.CropLineItem, *RepositoryError) {
	var crops []models.CropLineItem
	if err := r.db.Where("batch_id = ?", batchID).Order("crop_id ASC").Find(&crops).Error; err != nil {
		return nil, databaseErr(err)
	}
	return crops, nil
}

// PendingBatches lists batches awaiting distributor review (HARVESTED)
func (r *Repository) PendingBatches() ([]models.BatchRecord, *RepositoryError) {
	var batches []models.BatchRecord
	err := r.db.Preload("Crops").
		Where("status = ?", models.StatusHarvested).
		Order("created_at ASC").
		Find(&batches).Error
	if err != nil {
		return nil, databaseErr(err)
	}
	return batches, nil
}

// ApprovedBatches lists batches approved by the given distributor
func (r *Repository) ApprovedBatches(distributorID string) ([]models.BatchRecord, *RepositoryError) {
	var batches []models.BatchRecord
	err := r.db.Preload("Crops").
		Where("distributor_id = ? AND status = ?", distributorID, models.StatusApproved).
		Order("updated_at DESC").
		Find(&batches).Error
	if err != nil {
		return nil, databaseErr(err)
	}
	return batches, nil
}

// GetTrace returns the batch together with its full audit trail ordered by
// timestamp ascending. The trailing id tiebreak keeps events written in the
// same transaction in insertion order.
func (r *Repository) GetTrace(batchID string) (*models.BatchRecord, []models.TraceEvent, *RepositoryError) {
	var batch models.BatchRecord
	if err := r.db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, notFoundErr("Batch", batchID)
		}
		return nil, nil, databaseErr(err)
	}

	var events []models.TraceEvent
	err := r.db.Where("batch_id = ?", batchID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, nil, databaseErr(err)
	}
	return &batch, events, nil
}

package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/farmchainx/provenance/repository/models"
)

// CreateBatchParams carries the inputs for explicit batch creation.
// BatchID, Status and HarvestDate are optional.
type CreateBatchParams struct {
	BatchID       string
	FarmerID      string
	CropType      string
	Status        models.BatchStatus
	TotalQuantity decimal.Decimal
	HarvestDate   *time.Time
}

// generateBatchID builds FCX-<3-letter-crop-code>-<yyMMdd>-<6-char-random>.
// Generated ids are not retried against collisions; the random suffix makes
// a clash negligible in practice.
func generateBatchID(cropType string) string {
	prefix := "CRP"
	if len(cropType) >= 3 {
		prefix = strings.ToUpper(cropType[:3])
	}
	date := time.Now().Format("060102")
	random := strings.ToUpper(uuid.New().String()[:6])
	return fmt.Sprintf("FCX-%s-%s-%s", prefix, date, random)
}

func (r *Repository) qrURL(batchID string) string {
	return r.frontendBase + "/trace/" + batchID
}

// loadBatch fetches a batch inside tx, mapping a missing row to NOT_FOUND.
func loadBatch(tx *gorm.DB, batchID string) (*models.BatchRecord, *RepositoryError) {
	var batch models.BatchRecord
	if err := tx.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundErr("Batch", batchID)
		}
		return nil, databaseErr(err)
	}
	return &batch, nil
}

// appendTrace writes one audit event inside tx. FarmerID is denormalized
// from the batch at write time.
func appendTrace(tx *gorm.DB, batch *models.BatchRecord, label, changedBy string, details map[string]interface{}) *RepositoryError {
	event := models.TraceEvent{
		BatchID:    batch.BatchID,
		FarmerID:   batch.FarmerID,
		EventLabel: label,
		ChangedBy:  changedBy,
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			event.Details = datatypes.JSON(raw)
		}
	}
	if err := tx.Create(&event).Error; err != nil {
		return databaseErr(err)
	}
	return nil
}

// CreateBatch persists a new batch record. No trace event is written;
// creation is the implicit first entry of a batch's history.
func (r *Repository) CreateBatch(p CreateBatchParams) (*models.BatchRecord, *RepositoryError) {
	if p.FarmerID == "" {
		return nil, validationErr("Farmer ID is required", "farmer_id must not be empty")
	}
	if p.CropType == "" {
		return nil, validationErr("Crop type is required", "crop_type must not be empty")
	}
	if p.TotalQuantity.IsNegative() {
		return nil, validationErr("Quantity must not be negative", p.TotalQuantity.String())
	}

	status := p.Status
	if status == "" {
		status = models.StatusPlanted
	}
	if !status.Valid() {
		return nil, validationErr("Unknown batch status", string(p.Status))
	}

	batchID := p.BatchID
	if batchID == "" {
		batchID = generateBatchID(p.CropType)
	}

	harvestDate := p.HarvestDate
	if status == models.StatusHarvested && harvestDate == nil {
		now := time.Now()
		harvestDate = &now
	}

	batch := models.BatchRecord{
		BatchID:       batchID,
		FarmerID:      p.FarmerID,
		CropType:      p.CropType,
		TotalQuantity: p.TotalQuantity.Round(2),
		Status:        status,
		HarvestDate:   harvestDate,
		Blocked:       status.Terminal(),
		QRCodeURL:     r.qrURL(batchID),
	}
	if err := r.db.Create(&batch).Error; err != nil {
		return nil, databaseErr(err)
	}
	return &batch, nil
}

// LogCrop records a crop line-item for a farmer. When the target batch does
// not exist yet it is created in the same transaction; when it does, its
// total quantity is incremented by the crop quantity.
func (r *Repository) LogCrop(crop *models.CropLineItem) (*models.CropLineItem, *RepositoryError) {
	if crop.FarmerID == "" {
		return nil, validationErr("Farmer ID is required", "farmer_id must not be empty")
	}
	if crop.CropName == "" {
		return nil, validationErr("Crop name is required", "crop_name must not be empty")
	}
	if crop.Quantity.IsNegative() {
		return nil, validationErr("Quantity must not be negative", crop.Quantity.String())
	}

	if crop.BatchID == "" {
		crop.BatchID = generateBatchID(crop.CropType)
	}
	if crop.Status == "" {
		crop.Status = string(models.StatusPlanted)
	}
	crop.Quantity = crop.Quantity.Round(2)

	unlock := r.locks.acquire(crop.BatchID)
	defer unlock()

	dbTx := r.db.Begin()

	var batch models.BatchRecord
	err := dbTx.Where("batch_id = ?", crop.BatchID).First(&batch).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		batch = models.BatchRecord{
			BatchID:         crop.BatchID,
			FarmerID:        crop.FarmerID,
			CropType:        crop.CropType,
			TotalQuantity:   crop.Quantity,
			AvgQualityScore: crop.AIConfidenceScore,
			QRCodeURL:       r.qrURL(crop.BatchID),
			Status:          models.StatusPlanted,
		}
		if err := dbTx.Create(&batch).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}
	case err != nil:
		dbTx.Rollback()
		return nil, databaseErr(err)
	case batch.Blocked:
		dbTx.Rollback()
		return nil, invalidStateErr(batch.BatchID, batch.Status)
	default:
		batch.TotalQuantity = batch.TotalQuantity.Add(crop.Quantity).Round(2)
		if err := dbTx.Save(&batch).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}
	}

	if err := dbTx.Create(crop).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}
	return crop, nil
}

// UpdateStatus transitions a batch to a new lifecycle status and appends
// one trace event labeled with it. Terminal batches reject the transition.
func (r *Repository) UpdateStatus(batchID string, status models.BatchStatus, actorID string) (*models.BatchRecord, *RepositoryError) {
	if !status.Valid() {
		return nil, validationErr("Unknown batch status", string(status))
	}

	unlock := r.locks.acquire(batchID)
	defer unlock()

	dbTx := r.db.Begin()

	batch, repoErr := loadBatch(dbTx, batchID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if batch.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(batch.BatchID, batch.Status)
	}

	batch.Status = status
	if status == models.StatusHarvested && batch.HarvestDate == nil {
		now := time.Now()
		batch.HarvestDate = &now
	}
	if status.Terminal() {
		batch.Blocked = true
	}

	if err := dbTx.Save(batch).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	if repoErr := appendTrace(dbTx, batch, string(status), actorID, nil); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}
	return batch, nil
}

// UpdateQualityGrade applies a quality grade (and, when present, an AI
// confidence score) to every crop line-item of the batch. The batch average
// score takes the raw input confidence rather than a recomputed mean; the
// distributor review flow expects that passthrough.
func (r *Repository) UpdateQualityGrade(batchID, grade string, confidence *float64, actorID string) (*models.BatchRecord, *RepositoryError) {
	if grade == "" {
		return nil, validationErr("Quality grade is required", "quality_grade must not be empty")
	}

	unlock := r.locks.acquire(batchID)
	defer unlock()

	dbTx := r.db.Begin()

	batch, repoErr := loadBatch(dbTx, batchID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if batch.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(batch.BatchID, batch.Status)
	}

	var crops []models.CropLineItem
	if err := dbTx.Where("batch_id = ?", batchID).Find(&crops).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	if len(crops) == 0 {
		dbTx.Rollback()
		return nil, &RepositoryError{
			Code:    CodeNotFound,
			Message: "Batch has no crop line-items",
			Detail:  fmt.Sprintf("Batch %s has no crops to grade", batchID),
		}
	}

	for i := range crops {
		crops[i].QualityGrade = grade
		if confidence != nil {
			crops[i].AIConfidenceScore = confidence
		}
		if err := dbTx.Save(&crops[i]).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}
	}

	batch.AvgQualityScore = confidence
	if err := dbTx.Save(batch).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	details := map[string]interface{}{"quality_grade": grade}
	if confidence != nil {
		details["confidence"] = *confidence
	}
	if repoErr := appendTrace(dbTx, batch, models.EventQualityUpdated, actorID, details); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}
	return batch, nil
}

// ApproveBatch marks a batch approved by a distributor and returns it with
// its crop line-items so the caller can notify the marketplace listing
// service after commit.
func (r *Repository) ApproveBatch(batchID, distributorID string) (*models.BatchRecord, *RepositoryError) {
	if distributorID == "" {
		return nil, validationErr("Distributor ID is required", "distributor_id must not be empty")
	}

	unlock := r.locks.acquire(batchID)
	defer unlock()

	dbTx := r.db.Begin()

	batch, repoErr := loadBatch(dbTx, batchID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if batch.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(batch.BatchID, batch.Status)
	}

	batch.Status = models.StatusApproved
	batch.DistributorID = &distributorID

	if err := dbTx.Save(batch).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	if repoErr := appendTrace(dbTx, batch, string(models.StatusApproved), distributorID, nil); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	var crops []models.CropLineItem
	if err := dbTx.Where("batch_id = ?", batchID).Order("crop_id ASC").Find(&crops).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}

	batch.Crops = crops
	return batch, nil
}

// RejectBatch terminates a batch with a rejection reason. REJECTED is
// terminal: the batch is blocked from any further mutation.
func (r *Repository) RejectBatch(batchID, distributorID, reason string) (*models.BatchRecord, *RepositoryError) {
	if distributorID == "" {
		return nil, validationErr("Distributor ID is required", "distributor_id must not be empty")
	}

	unlock := r.locks.acquire(batchID)
	defer unlock()

	dbTx := r.db.Begin()

	batch, repoErr := loadBatch(dbTx, batchID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if batch.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(batch.BatchID, batch.Status)
	}

	batch.Status = models.StatusRejected
	batch.DistributorID = &distributorID
	batch.RejectReason = reason
	batch.Blocked = true

	if err := dbTx.Save(batch).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	details := map[string]interface{}{"reason": reason}
	if repoErr := appendTrace(dbTx, batch, string(models.StatusRejected), distributorID, details); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}
	return batch, nil
}

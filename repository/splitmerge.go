package repository

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/farmchainx/provenance/repository/models"
)

// generateSplitID derives a child batch id from its parent rather than
// minting a fresh prefixed id, so descent stays readable in the trace.
func generateSplitID(parentID string) string {
	return parentID + "-S" + strings.ToUpper(uuid.New().String()[:2])
}

// uniqueSplitID returns a child id not already taken by another batch.
// The 2-char suffix space is small enough that repeated splits of the
// same parent can collide, so regenerate until the id is free. Callers
// hold the parent lock, which serializes id allocation per parent.
func uniqueSplitID(tx *gorm.DB, parentID string) (string, *RepositoryError) {
	for attempt := 0; attempt < 16; attempt++ {
		id := generateSplitID(parentID)
		var count int64
		if err := tx.Model(&models.BatchRecord{}).Where("batch_id = ?", id).Count(&count).Error; err != nil {
			return "", databaseErr(err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", &RepositoryError{
		Code:    CodeDatabase,
		Message: "Failed to allocate a split batch id",
		Detail:  parentID,
	}
}

// mergeSuffix returns the spreadsheet-style name for source index i:
// A..Z, then AA..AZ and so on, so suffixes stay unique past 26 sources.
func mergeSuffix(i int) string {
	s := ""
	for i >= 0 {
		s = string(rune('A'+i%26)) + s
		i = i/26 - 1
	}
	return s
}

// SplitBatch divides splitQuantity out of the parent batch into a new child
// batch, reallocating every crop line-item proportionally at 2-decimal
// precision. The parent total is decremented by splitQuantity, not
// recomputed from line-items; per-operation drift is bounded by the 0.01
// rounding tolerance.
func (r *Repository) SplitBatch(parentID string, splitQuantity decimal.Decimal, actorID string) (*models.BatchRecord, *RepositoryError) {
	unlock := r.locks.acquire(parentID)
	defer unlock()

	dbTx := r.db.Begin()

	parent, repoErr := loadBatch(dbTx, parentID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if parent.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(parent.BatchID, parent.Status)
	}
	if !splitQuantity.IsPositive() {
		dbTx.Rollback()
		return nil, validationErr("Split quantity must be positive", splitQuantity.String())
	}
	if splitQuantity.GreaterThan(parent.TotalQuantity) {
		dbTx.Rollback()
		return nil, validationErr(
			"Split quantity exceeds batch total",
			fmt.Sprintf("requested %s of %s", splitQuantity, parent.TotalQuantity),
		)
	}

	var crops []models.CropLineItem
	if err := dbTx.Where("batch_id = ?", parentID).Order("crop_id ASC").Find(&crops).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	if len(crops) == 0 {
		dbTx.Rollback()
		return nil, validationErr("Batch has no crop line-items to split", parentID)
	}

	ratio := splitQuantity.Div(parent.TotalQuantity)

	childID, repoErr := uniqueSplitID(dbTx, parentID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	child := models.BatchRecord{
		BatchID:       childID,
		FarmerID:      parent.FarmerID,
		CropType:      parent.CropType,
		Status:        parent.Status,
		HarvestDate:   parent.HarvestDate,
		TotalQuantity: splitQuantity.Round(2),
	}
	child.QRCodeURL = r.qrURL(child.BatchID)
	if err := dbTx.Create(&child).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	childCrops := make([]models.CropLineItem, 0, len(crops))
	for i := range crops {
		childQty := crops[i].Quantity.Mul(ratio).Round(2)
		remainder := crops[i].Quantity.Sub(childQty).Round(2)

		crops[i].Quantity = remainder
		if err := dbTx.Save(&crops[i]).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}

		if childQty.IsPositive() {
			childCrop := models.CropLineItem{
				FarmerID:            crops[i].FarmerID,
				BatchID:             child.BatchID,
				CropName:            crops[i].CropName,
				CropType:            crops[i].CropType,
				Quantity:            childQty,
				QualityGrade:        crops[i].QualityGrade,
				AIConfidenceScore:   crops[i].AIConfidenceScore,
				Location:            crops[i].Location,
				ExpectedHarvestDate: crops[i].ExpectedHarvestDate,
				Status:              crops[i].Status,
			}
			if err := dbTx.Create(&childCrop).Error; err != nil {
				dbTx.Rollback()
				return nil, databaseErr(err)
			}
			childCrops = append(childCrops, childCrop)
		}
	}

	parent.TotalQuantity = parent.TotalQuantity.Sub(splitQuantity).Round(2)
	if err := dbTx.Save(parent).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	splitDetails := map[string]interface{}{
		"split_quantity": splitQuantity.Round(2).String(),
		"child_batch_id": child.BatchID,
	}
	if repoErr := appendTrace(dbTx, parent, models.EventSplit, actorID, splitDetails); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	childDetails := map[string]interface{}{"parent_batch_id": parent.BatchID}
	if repoErr := appendTrace(dbTx, &child, models.EventCreatedBySplit, actorID, childDetails); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}

	child.Crops = childCrops
	return &child, nil
}

// MergeBatches consolidates the crop line-items of every source batch onto
// the target. Sources are soft-terminated (MERGED, blocked) and keep their
// rows; the target id present in the source list is ignored. All guards run
// before any row is touched so a failed merge mutates nothing.
func (r *Repository) MergeBatches(targetID string, sourceIDs []string, actorID string) (*models.BatchRecord, *RepositoryError) {
	if len(sourceIDs) == 0 {
		return nil, validationErr("Source batch list is empty", "at least one source batch id is required")
	}

	filtered := make([]string, 0, len(sourceIDs))
	seen := map[string]bool{targetID: true}
	for _, id := range sourceIDs {
		if !seen[id] {
			seen[id] = true
			filtered = append(filtered, id)
		}
	}
	if len(filtered) == 0 {
		return nil, validationErr("Nothing to merge", "source list contains only the target batch")
	}

	unlock := r.locks.acquire(append([]string{targetID}, filtered...)...)
	defer unlock()

	dbTx := r.db.Begin()

	target, repoErr := loadBatch(dbTx, targetID)
	if repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}
	if target.Status.Terminal() {
		dbTx.Rollback()
		return nil, invalidStateErr(target.BatchID, target.Status)
	}

	sources := make([]*models.BatchRecord, 0, len(filtered))
	for _, id := range filtered {
		source, repoErr := loadBatch(dbTx, id)
		if repoErr != nil {
			dbTx.Rollback()
			return nil, repoErr
		}
		if source.Status.Terminal() {
			dbTx.Rollback()
			return nil, invalidStateErr(source.BatchID, source.Status)
		}
		if source.CropType != target.CropType {
			dbTx.Rollback()
			return nil, validationErr(
				"Crop type mismatch",
				fmt.Sprintf("source %s is %s, target %s is %s", source.BatchID, source.CropType, target.BatchID, target.CropType),
			)
		}
		sources = append(sources, source)
	}

	merged := decimal.Zero
	for i, source := range sources {
		suffix := mergeSuffix(i)

		var crops []models.CropLineItem
		if err := dbTx.Where("batch_id = ?", source.BatchID).Order("crop_id ASC").Find(&crops).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}
		for j := range crops {
			crops[j].BatchID = target.BatchID
			crops[j].CropName = crops[j].CropName + "-" + suffix
			if err := dbTx.Save(&crops[j]).Error; err != nil {
				dbTx.Rollback()
				return nil, databaseErr(err)
			}
		}

		merged = merged.Add(source.TotalQuantity)
		source.Status = models.StatusMerged
		source.Blocked = true
		if err := dbTx.Save(source).Error; err != nil {
			dbTx.Rollback()
			return nil, databaseErr(err)
		}

		details := map[string]interface{}{"target_batch_id": target.BatchID}
		if repoErr := appendTrace(dbTx, source, models.EventMergedInto, actorID, details); repoErr != nil {
			dbTx.Rollback()
			return nil, repoErr
		}
	}

	target.TotalQuantity = target.TotalQuantity.Add(merged).Round(2)
	if err := dbTx.Save(target).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}
	details := map[string]interface{}{"source_batch_ids": filtered}
	if repoErr := appendTrace(dbTx, target, models.EventMergedFrom, actorID, details); repoErr != nil {
		dbTx.Rollback()
		return nil, repoErr
	}

	var crops []models.CropLineItem
	if err := dbTx.Where("batch_id = ?", target.BatchID).Order("crop_id ASC").Find(&crops).Error; err != nil {
		dbTx.Rollback()
		return nil, databaseErr(err)
	}

	if err := dbTx.Commit().Error; err != nil {
		return nil, &RepositoryError{Code: CodeCommit, Message: "Failed to commit transaction", Detail: err.Error()}
	}

	target.Crops = crops
	return target, nil
}

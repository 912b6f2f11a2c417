package srvreg

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/farmchainx/provenance/listing"
	"github.com/farmchainx/provenance/logger"
	"github.com/farmchainx/provenance/repository"
	"github.com/farmchainx/provenance/repository/models"
)

// InfoHandler returns service information
func (sr *ServiceRegistry) InfoHandler(req *Request) (*Response, error) {
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"service": "batch-provenance-ledger",
		"status":  "active",
	}), nil
}

// CreateBatchHandler creates a new batch record
func (sr *ServiceRegistry) CreateBatchHandler(req *Request) (*Response, error) {
	var body struct {
		BatchID       string          `json:"batch_id"`
		FarmerID      string          `json:"farmer_id"`
		CropType      string          `json:"crop_type"`
		Status        string          `json:"status"`
		TotalQuantity decimal.Decimal `json:"total_quantity"`
		HarvestDate   string          `json:"harvest_date"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}

	params := repository.CreateBatchParams{
		BatchID:       body.BatchID,
		FarmerID:      body.FarmerID,
		CropType:      body.CropType,
		Status:        models.BatchStatus(body.Status),
		TotalQuantity: body.TotalQuantity,
	}
	if body.HarvestDate != "" {
		d, err := time.Parse("2006-01-02", body.HarvestDate)
		if err != nil {
			return badRequest("Invalid harvest_date, expected YYYY-MM-DD"), nil
		}
		params.HarvestDate = &d
	}

	batch, repoErr := sr.repository.CreateBatch(params)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusCreated, batch), nil
}

// LogCropHandler records a crop line-item, creating its batch on first
// submission
func (sr *ServiceRegistry) LogCropHandler(req *Request) (*Response, error) {
	var body struct {
		FarmerID            string          `json:"farmer_id"`
		BatchID             string          `json:"batch_id"`
		CropName            string          `json:"crop_name"`
		CropType            string          `json:"crop_type"`
		Quantity            decimal.Decimal `json:"quantity"`
		QualityGrade        string          `json:"quality_grade"`
		AIConfidenceScore   *float64        `json:"ai_confidence_score"`
		Location            string          `json:"location"`
		ExpectedHarvestDate string          `json:"expected_harvest_date"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}

	crop := models.CropLineItem{
		FarmerID:          body.FarmerID,
		BatchID:           body.BatchID,
		CropName:          body.CropName,
		CropType:          body.CropType,
		Quantity:          body.Quantity,
		QualityGrade:      body.QualityGrade,
		AIConfidenceScore: body.AIConfidenceScore,
		Location:          body.Location,
	}
	if body.ExpectedHarvestDate != "" {
		d, err := time.Parse("2006-01-02", body.ExpectedHarvestDate)
		if err != nil {
			return badRequest("Invalid expected_harvest_date, expected YYYY-MM-DD"), nil
		}
		crop.ExpectedHarvestDate = &d
	}

	saved, repoErr := sr.repository.LogCrop(&crop)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusCreated, saved), nil
}

// GetBatchHandler retrieves a single batch with its crops
func (sr *ServiceRegistry) GetBatchHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 4 {
		return badRequest("Invalid path format"), nil
	}

	batch, repoErr := sr.repository.GetBatch(parts[3])
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, batch), nil
}

// BatchesByFarmerHandler lists a farmer's batches
func (sr *ServiceRegistry) BatchesByFarmerHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}

	batches, repoErr := sr.repository.BatchesByFarmer(parts[4])
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, batches), nil
}

// CropsForBatchHandler lists the crop line-items of a batch
func (sr *ServiceRegistry) CropsForBatchHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}

	crops, repoErr := sr.repository.CropsForBatch(parts[3])
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, crops), nil
}

// batchSummary shapes a batch for distributor review lists: the batch, its
// crops, and display context pulled from the first crop line-item.
func batchSummary(batch models.BatchRecord) map[string]interface{} {
	data := map[string]interface{}{
		"batch_id":       batch.BatchID,
		"farmer_id":      batch.FarmerID,
		"distributor_id": batch.DistributorID,
		"crop_type":      batch.CropType,
		"total_quantity": batch.TotalQuantity,
		"harvest_date":   batch.HarvestDate,
		"status":         batch.Status,
		"crops":          batch.Crops,
	}
	if len(batch.Crops) > 0 {
		first := batch.Crops[0]
		data["crop_name"] = first.CropName
		data["location"] = first.Location
		data["expected_harvest_date"] = first.ExpectedHarvestDate
		data["quality_grade"] = first.QualityGrade
	} else {
		data["crop_name"] = "N/A"
		data["location"] = "N/A"
		data["expected_harvest_date"] = "N/A"
		data["quality_grade"] = "N/A"
	}
	return data
}

// PendingBatchesHandler lists batches awaiting distributor review
func (sr *ServiceRegistry) PendingBatchesHandler(req *Request) (*Response, error) {
	batches, repoErr := sr.repository.PendingBatches()
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}

	response := make([]map[string]interface{}, 0, len(batches))
	for _, batch := range batches {
		response = append(response, batchSummary(batch))
	}
	return jsonResponse(http.StatusOK, response), nil
}

// ApprovedBatchesHandler lists batches approved by a distributor
func (sr *ServiceRegistry) ApprovedBatchesHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}

	batches, repoErr := sr.repository.ApprovedBatches(parts[4])
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}

	response := make([]map[string]interface{}, 0, len(batches))
	for _, batch := range batches {
		response = append(response, batchSummary(batch))
	}
	return jsonResponse(http.StatusOK, response), nil
}

// ApproveBatchHandler approves a batch and notifies the listing service
// once per crop line-item. Notification runs after the ledger commit;
// failures are logged and never roll the approval back.
func (sr *ServiceRegistry) ApproveBatchHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 7 {
		return badRequest("Invalid path format"), nil
	}
	batchID, distributorID := parts[5], parts[6]

	batch, repoErr := sr.repository.ApproveBatch(batchID, distributorID)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}

	notified := 0
	for _, crop := range batch.Crops {
		_, err := sr.notifier.CreateListing(listing.CreateListingRequest{
			BatchID:  batch.BatchID,
			FarmerID: batch.FarmerID,
			CropID:   crop.CropID,
			Quantity: crop.Quantity,
			Price:    decimal.Zero,
			Status:   "ACTIVE",
		})
		if err != nil {
			logger.Warn("listing notification failed",
				zap.String("batch_id", batch.BatchID),
				zap.Uint("crop_id", crop.CropID),
				zap.Error(err))
			continue
		}
		notified++
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"batch":            batch,
		"listings_created": notified,
	}), nil
}

// RejectBatchHandler rejects a batch with a reason
func (sr *ServiceRegistry) RejectBatchHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 7 {
		return badRequest("Invalid path format"), nil
	}
	batchID, distributorID := parts[5], parts[6]

	var body struct {
		Reason string `json:"reason"`
	}
	if req.Body != "" {
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
			return badRequest("Invalid request body: " + err.Error()), nil
		}
	}

	batch, repoErr := sr.repository.RejectBatch(batchID, distributorID, body.Reason)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, batch), nil
}

// UpdateStatusHandler transitions batch lifecycle status
func (sr *ServiceRegistry) UpdateStatusHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}
	batchID := parts[3]

	var body struct {
		Status string `json:"status"`
		UserID string `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}
	if body.Status == "" {
		return badRequest("status is required"), nil
	}

	batch, repoErr := sr.repository.UpdateStatus(batchID, models.BatchStatus(body.Status), body.UserID)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, batch), nil
}

// UpdateQualityHandler applies a quality grade to every crop of a batch
func (sr *ServiceRegistry) UpdateQualityHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}
	batchID := parts[3]

	var body struct {
		QualityGrade string   `json:"quality_grade"`
		Confidence   *float64 `json:"confidence"`
		UserID       string   `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}

	batch, repoErr := sr.repository.UpdateQualityGrade(batchID, body.QualityGrade, body.Confidence, body.UserID)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, batch), nil
}

// SplitBatchHandler splits a quantity out of a batch into a new child batch
func (sr *ServiceRegistry) SplitBatchHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}
	batchID := parts[3]

	var body struct {
		Quantity decimal.Decimal `json:"quantity"`
		UserID   string          `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}

	child, repoErr := sr.repository.SplitBatch(batchID, body.Quantity, body.UserID)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusCreated, child), nil
}

// MergeBatchesHandler merges source batches into the target batch
func (sr *ServiceRegistry) MergeBatchesHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}
	targetID := parts[4]

	var body struct {
		SourceBatchIDs []string `json:"source_batch_ids"`
		UserID         string   `json:"user_id"`
	}
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		return badRequest("Invalid request body: " + err.Error()), nil
	}

	target, repoErr := sr.repository.MergeBatches(targetID, body.SourceBatchIDs, body.UserID)
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}
	return jsonResponse(http.StatusOK, target), nil
}

// GetTraceHandler returns the batch audit trail with display context
func (sr *ServiceRegistry) GetTraceHandler(req *Request) (*Response, error) {
	parts := strings.Split(req.Path, "/")
	if len(parts) != 5 {
		return badRequest("Invalid path format"), nil
	}

	batch, events, repoErr := sr.repository.GetTrace(parts[3])
	if repoErr != nil {
		return errorResponse(repoErr), nil
	}

	return jsonResponse(http.StatusOK, map[string]interface{}{
		"batch_id":       batch.BatchID,
		"farmer_id":      batch.FarmerID,
		"crop_type":      batch.CropType,
		"distributor_id": batch.DistributorID,
		"events":         events,
	}), nil
}

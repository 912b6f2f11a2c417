package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BatchStatus is the closed lifecycle state of a batch. Trace event labels
// are a separate, open vocabulary (see the Event* constants); the two are
// never stored in the same column.
type BatchStatus string

const (
	StatusPlanted   BatchStatus = "PLANTED"
	StatusHarvested BatchStatus = "HARVESTED"
	StatusApproved  BatchStatus = "APPROVED"
	StatusRejected  BatchStatus = "REJECTED"
	StatusMerged    BatchStatus = "MERGED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s BatchStatus) Valid() bool {
	switch s {
	case StatusPlanted, StatusHarvested, StatusApproved, StatusRejected, StatusMerged:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s BatchStatus) Terminal() bool {
	return s == StatusRejected || s == StatusMerged
}

// Trace event labels for mutations that do not change the primary status.
const (
	EventQualityUpdated = "QUALITY_UPDATED"
	EventSplit          = "SPLIT"
	EventCreatedBySplit = "CREATED_BY_SPLIT"
	EventMergedInto     = "MERGED_INTO"
	EventMergedFrom     = "MERGED_FROM"
)

// BatchRecord represents one production lot of a single crop type
type BatchRecord struct {
	BatchID         string          `gorm:"column:batch_id;primaryKey;type:varchar(64)" json:"batch_id"`
	FarmerID        string          `gorm:"column:farmer_id;type:varchar(50);index;not null" json:"farmer_id"`
	DistributorID   *string         `gorm:"column:distributor_id;type:varchar(50);index" json:"distributor_id"`
	CropType        string          `gorm:"column:crop_type;type:varchar(50);not null" json:"crop_type"`
	TotalQuantity   decimal.Decimal `gorm:"column:total_quantity;type:decimal(20,2);not null" json:"total_quantity"`
	AvgQualityScore *float64        `gorm:"column:avg_quality_score" json:"avg_quality_score"`
	HarvestDate     *time.Time      `gorm:"column:harvest_date" json:"harvest_date"`
	Status          BatchStatus     `gorm:"column:status;type:varchar(20);not null;default:'PLANTED'" json:"status"`
	RejectReason    string          `gorm:"column:reject_reason;type:varchar(255)" json:"reject_reason,omitempty"`
	Blocked         bool            `gorm:"column:blocked;default:false" json:"blocked"`
	QRCodeURL       string          `gorm:"column:qr_code_url;type:varchar(255)" json:"qr_code_url"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	// Relationships
	Crops []CropLineItem `gorm:"foreignKey:BatchID;references:BatchID" json:"crops,omitempty"`
}

func (BatchRecord) TableName() string {
	return "batch_records"
}

// CropLineItem represents one harvested or planted quantity record
// belonging to a batch. BatchID and Quantity mutate under split/merge;
// rows are never deleted by the ledger itself.
type CropLineItem struct {
	CropID              uint            `gorm:"column:crop_id;primaryKey;autoIncrement" json:"crop_id"`
	FarmerID            string          `gorm:"column:farmer_id;type:varchar(50);index;not null" json:"farmer_id"`
	BatchID             string          `gorm:"column:batch_id;type:varchar(64);index;not null" json:"batch_id"`
	CropName            string          `gorm:"column:crop_name;type:varchar(100);not null" json:"crop_name"`
	CropType            string          `gorm:"column:crop_type;type:varchar(50)" json:"crop_type"`
	Quantity            decimal.Decimal `gorm:"column:quantity;type:decimal(20,2);not null" json:"quantity"`
	QualityGrade        string          `gorm:"column:quality_grade;type:varchar(20)" json:"quality_grade"`
	AIConfidenceScore   *float64        `gorm:"column:ai_confidence_score" json:"ai_confidence_score"`
	Location            string          `gorm:"column:location;type:varchar(100)" json:"location"`
	ExpectedHarvestDate *time.Time      `gorm:"column:expected_harvest_date" json:"expected_harvest_date"`
	ActualHarvestDate   *time.Time      `gorm:"column:actual_harvest_date" json:"actual_harvest_date"`
	Status              string          `gorm:"column:status;type:varchar(20)" json:"status"`
	CreatedAt           time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CropLineItem) TableName() string {
	return "crop_line_items"
}

// TraceEvent is one append-only audit record. Rows are created inside the
// same transaction as the mutation they describe and are never updated or
// deleted afterwards.
type TraceEvent struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	BatchID    string         `gorm:"column:batch_id;type:varchar(64);index;not null" json:"batch_id"`
	FarmerID   string         `gorm:"column:farmer_id;type:varchar(50)" json:"farmer_id"`
	EventLabel string         `gorm:"column:event_label;type:varchar(40);not null" json:"event_label"`
	ChangedBy  string         `gorm:"column:changed_by;type:varchar(50)" json:"changed_by"`
	Details    datatypes.JSON `gorm:"column:details" json:"details,omitempty"`
	Timestamp  time.Time      `gorm:"column:timestamp;autoCreateTime;index" json:"timestamp"`
}

func (TraceEvent) TableName() string {
	return "trace_events"
}

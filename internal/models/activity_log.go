package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is the append-only audit record written once per intent run.
type ActivityLog struct {
	ID          string `gorm:"type:varchar(36);primaryKey"`
	Agent       string `gorm:"type:varchar(100);not null"`
	Intent      string `gorm:"type:varchar(50);not null;index"`
	Signature   string `gorm:"type:char(32);not null;index:ix_activity_guard"`
	TradingMode string `gorm:"type:varchar(10);not null;index:ix_activity_guard"`
	// HasOrders is set once a run reached order placement; only such runs
	// block a retry of the same signature.
	HasOrders bool           `gorm:"not null;default:false"`
	Exception *string        `gorm:"type:text"`
	Payload   datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;index:ix_activity_guard"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// OpenOrder is an intent ledger record: a submitted but not yet reconciled
// broker order and the strategies it was placed for.
type OpenOrder struct {
	ID           string         `gorm:"type:varchar(36);primaryKey"`
	TradingMode  string         `gorm:"type:varchar(10);not null;index:ix_open_orders_mode_perm"`
	AccountID    string         `gorm:"type:varchar(32);not null"`
	InstrumentID int64          `gorm:"not null;index"`
	OrderID      int64          `gorm:"not null;index"`
	PermID       *int64         `gorm:"index:ix_open_orders_mode_perm"`
	Source       datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;not null;index"`
}

func (OpenOrder) TableName() string {
	return "open_orders"
}

func (o *OpenOrder) SourceMap() (map[string]int64, error) {
	return DecodeQuantities[string](o.Source)
}

// SourceTotal is the signed quantity the order was placed for.
func (o *OpenOrder) SourceTotal() (int64, error) {
	src, err := o.SourceMap()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, q := range src {
		total += q
	}
	return total, nil
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// RuntimeConfig holds operator overrides that are merged over file config at
// the start of every run. Scope is "common" or a trading mode.
type RuntimeConfig struct {
	ID    uint64         `gorm:"primaryKey;autoIncrement"`
	Scope string         `gorm:"type:varchar(20);not null;uniqueIndex"`
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (RuntimeConfig) TableName() string {
	return "runtime_configs"
}

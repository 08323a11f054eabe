package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// StrategyHoldings is the attributed position ledger of one strategy in one
// trading mode. Positions maps instrument id to signed contract count; zero
// counts are never stored.
type StrategyHoldings struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement"`
	TradingMode string         `gorm:"type:varchar(10);not null;uniqueIndex:ux_holdings_mode_strategy"`
	Strategy    string         `gorm:"type:varchar(64);not null;uniqueIndex:ux_holdings_mode_strategy"`
	Positions   datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (StrategyHoldings) TableName() string {
	return "strategy_holdings"
}

func (h *StrategyHoldings) PositionMap() (map[int64]int64, error) {
	return DecodeQuantities[int64](h.Positions)
}

func (h *StrategyHoldings) SetPositions(positions map[int64]int64) error {
	raw, err := EncodeQuantities(positions)
	if err != nil {
		return err
	}
	h.Positions = raw
	return nil
}

// DecodeQuantities reads a jsonb object of integer quantities. encoding/json
// handles integer map keys, so the same helper serves instrument-keyed
// holdings and strategy-keyed order sources.
func DecodeQuantities[K comparable](raw datatypes.JSON) (map[K]int64, error) {
	out := map[K]int64{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func EncodeQuantities[K comparable](m map[K]int64) (datatypes.JSON, error) {
	if m == nil {
		return datatypes.JSON([]byte(`{}`)), nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

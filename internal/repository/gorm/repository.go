package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"allocator/internal/models"
	"allocator/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Ledger = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- holdings ----------------------------------------------------------------

func (s *Store) GetHoldings(ctx context.Context, mode, strategy string) (map[int64]int64, bool, error) {
	if s == nil || s.db == nil {
		return map[int64]int64{}, false, nil
	}
	row, err := getHoldings(s.db.WithContext(ctx), mode, strategy, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return map[int64]int64{}, false, nil
		}
		return nil, false, err
	}
	positions, err := row.PositionMap()
	if err != nil {
		return nil, false, err
	}
	return positions, true, nil
}

func (s *Store) ListHoldings(ctx context.Context, mode string) (map[string]map[int64]int64, error) {
	if s == nil || s.db == nil {
		return map[string]map[int64]int64{}, nil
	}
	var rows []models.StrategyHoldings
	if err := s.db.WithContext(ctx).
		Where("trading_mode = ?", mode).
		Order("strategy ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]map[int64]int64, len(rows))
	for i := range rows {
		positions, err := rows[i].PositionMap()
		if err != nil {
			return nil, err
		}
		out[rows[i].Strategy] = positions
	}
	return out, nil
}

func (s *Store) ApplyHoldingsDelta(ctx context.Context, mode, strategy string, instrumentID, qty int64, consumeOrderID string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		// Seed an empty row so the locking read below always has a row to lock.
		seed := &models.StrategyHoldings{TradingMode: mode, Strategy: strategy}
		if err := seed.SetPositions(map[int64]int64{}); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trading_mode"}, {Name: "strategy"}},
			DoNothing: true,
		}).Create(seed).Error; err != nil {
			return err
		}

		row, err := getHoldings(tx, mode, strategy, true)
		if err != nil {
			return err
		}
		current, err := row.PositionMap()
		if err != nil {
			return err
		}
		if err := row.SetPositions(repository.ApplyDelta(current, instrumentID, qty)); err != nil {
			return err
		}
		if err := tx.Model(row).Select("positions", "updated_at").Updates(row).Error; err != nil {
			return err
		}

		if consumeOrderID == "" {
			return nil
		}
		return tx.Where("id = ?", consumeOrderID).Delete(&models.OpenOrder{}).Error
	})
}

func getHoldings(tx *gorm.DB, mode, strategy string, forUpdate bool) (*models.StrategyHoldings, error) {
	query := tx.Where("trading_mode = ? AND strategy = ?", mode, strategy)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.StrategyHoldings
	if err := query.Take(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// --- open orders -------------------------------------------------------------

func (s *Store) InsertOpenOrder(ctx context.Context, item *models.OpenOrder) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) FindOpenOrderByPermID(ctx context.Context, mode string, permID int64) (*models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrNotFound
	}
	return s.findOpenOrder(ctx, s.db.WithContext(ctx).Where("trading_mode = ? AND perm_id = ?", mode, permID))
}

func (s *Store) FindOpenOrderByOrderID(ctx context.Context, mode string, orderID, instrumentID int64) (*models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, repository.ErrNotFound
	}
	return s.findOpenOrder(ctx, s.db.WithContext(ctx).
		Where("trading_mode = ? AND order_id = ? AND instrument_id = ?", mode, orderID, instrumentID))
}

func (s *Store) findOpenOrder(_ context.Context, query *gorm.DB) (*models.OpenOrder, error) {
	var item models.OpenOrder
	if err := query.Order("created_at ASC").Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListOpenOrders(ctx context.Context, mode string) ([]models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OpenOrder
	if err := s.db.WithContext(ctx).
		Where("trading_mode = ?", mode).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteOpenOrdersByPermID(ctx context.Context, mode string, permID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("trading_mode = ? AND perm_id = ?", mode, permID).
		Delete(&models.OpenOrder{})
	return res.RowsAffected, res.Error
}

func (s *Store) DeleteUnassignedOpenOrders(ctx context.Context, mode string, orderID, instrumentID int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("trading_mode = ? AND order_id = ? AND instrument_id = ? AND perm_id IS NULL", mode, orderID, instrumentID).
		Delete(&models.OpenOrder{})
	return res.RowsAffected, res.Error
}

// --- activity log ------------------------------------------------------------

func (s *Store) InsertActivityLog(ctx context.Context, item *models.ActivityLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) CountActivityLogs(ctx context.Context, params repository.ActivityLogQuery) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ActivityLog{})
	if params.TradingMode != "" {
		query = query.Where("trading_mode = ?", params.TradingMode)
	}
	if params.Signature != "" {
		query = query.Where("signature = ?", params.Signature)
	}
	if !params.Since.IsZero() {
		query = query.Where("created_at > ?", params.Since)
	}
	if params.WithOrders {
		query = query.Where("has_orders = ?", true)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// --- runtime config ----------------------------------------------------------

func (s *Store) ListRuntimeConfigs(ctx context.Context, scopes ...string) ([]models.RuntimeConfig, error) {
	if s == nil || s.db == nil || len(scopes) == 0 {
		return nil, nil
	}
	var rows []models.RuntimeConfig
	if err := s.db.WithContext(ctx).Where("scope IN ?", scopes).Find(&rows).Error; err != nil {
		return nil, err
	}
	byScope := make(map[string]models.RuntimeConfig, len(rows))
	for _, row := range rows {
		byScope[row.Scope] = row
	}
	out := make([]models.RuntimeConfig, 0, len(rows))
	for _, scope := range scopes {
		if row, ok := byScope[scope]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *Store) UpsertRuntimeConfig(ctx context.Context, item *models.RuntimeConfig) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_at",
		}),
	}).Create(item).Error
}

package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ocbot/ocbot/pkg/types"
)

type PositionService struct {
	DB *sqlx.DB
}

func NewPositionService(db *sqlx.DB) *PositionService {
	return &PositionService{DB: db}
}

func (s *PositionService) CountOpen(ctx context.Context, botID int64) (int, error) {
	var count int
	err := s.DB.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM positions WHERE bot_id = ? AND status = 'open'", botID)
	return count, err
}

func (s *PositionService) LoadOpen(ctx context.Context, botID int64) ([]types.Position, error) {
	rows, err := s.DB.NamedQueryContext(ctx,
		"SELECT * FROM positions WHERE bot_id = :bot_id AND status = :status ORDER BY opened_at DESC",
		map[string]interface{}{
			"bot_id": botID,
			"status": types.PositionStatusOpen,
		})
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return s.scanRows(rows)
}

func (s *PositionService) scanRows(rows *sqlx.Rows) (positions []types.Position, err error) {
	for rows.Next() {
		var p types.Position
		if err := rows.StructScan(&p); err != nil {
			return positions, err
		}

		positions = append(positions, p)
	}

	return positions, rows.Err()
}

func (s *PositionService) Insert(ctx context.Context, position *types.Position) error {
	_, err := s.DB.NamedExecContext(ctx, `
		INSERT INTO positions (
			bot_id,
			strategy_id,
			exchange,
			symbol,
			side,
			entry_price,
			quantity,
			status,
			opened_at
		) VALUES (
			:bot_id,
			:strategy_id,
			:exchange,
			:symbol,
			:side,
			:entry_price,
			:quantity,
			:status,
			:opened_at
	    )`,
		map[string]interface{}{
			"bot_id":      position.BotID,
			"strategy_id": position.StrategyID,
			"exchange":    position.Exchange,
			"symbol":      position.Symbol,
			"side":        position.Side,
			"entry_price": position.EntryPrice,
			"quantity":    position.Quantity,
			"status":      types.PositionStatusOpen,
			"opened_at":   time.Now(),
		})
	return err
}

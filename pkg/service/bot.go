package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ocbot/ocbot/pkg/types"
)

var ErrBotNotFound = errors.New("bot not found")

type BotService struct {
	DB *sqlx.DB
}

func NewBotService(db *sqlx.DB) *BotService {
	return &BotService{DB: db}
}

func (s *BotService) Load(ctx context.Context, id int64) (*types.Bot, error) {
	var bot types.Bot

	rows, err := s.DB.NamedQueryContext(ctx, "SELECT * FROM bots WHERE id = :id", map[string]interface{}{
		"id": id,
	})
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	if rows.Next() {
		err = rows.StructScan(&bot)
		return &bot, err
	}

	return nil, errors.Wrapf(ErrBotNotFound, "bot id:%d not found", id)
}

// LoadSubscriptions returns the enabled strategy rows for the bot joined
// with the bot's exchange, one Subscription per watched symbol/interval.
func (s *BotService) LoadSubscriptions(ctx context.Context, botID int64) ([]types.Subscription, error) {
	rows, err := s.DB.NamedQueryContext(ctx, `
		SELECT
			s.id,
			s.bot_id,
			b.exchange,
			s.symbol,
			s.interval,
			s.oc_threshold,
			s.is_reverse_strategy,
			s.retrace_ratio,
			s.stall_duration
		FROM strategies s
		JOIN bots b ON b.id = s.bot_id
		WHERE s.bot_id = :bot_id AND s.enabled = 1`,
		map[string]interface{}{
			"bot_id": botID,
		})
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var subs []types.Subscription
	for rows.Next() {
		var sub types.Subscription
		if err := rows.StructScan(&sub); err != nil {
			return subs, err
		}

		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

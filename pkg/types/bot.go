package types

import "time"

// Bot is a bots table row. MaxConcurrentTrades is the admission ceiling:
// open positions plus in-flight reservations may never exceed it.
type Bot struct {
	ID       int64        `json:"id" db:"id"`
	Name     string       `json:"name" db:"name"`
	Exchange ExchangeName `json:"exchange" db:"exchange"`
	Testnet  bool         `json:"testnet" db:"binance_testnet"`

	MaxConcurrentTrades int `json:"maxConcurrentTrades" db:"max_concurrent_trades"`

	// LockTimeout overrides the default admission lock wait when positive.
	LockTimeout Duration `json:"lockTimeout" db:"lock_timeout"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Subscription is one armed detection rule, the strategies row joined with
// the symbol/interval it watches.
type Subscription struct {
	ID       int64        `json:"id" db:"id"`
	BotID    int64        `json:"botId" db:"bot_id"`
	Exchange ExchangeName `json:"exchange" db:"exchange"`
	Symbol   string       `json:"symbol" db:"symbol"`
	Interval Interval     `json:"interval" db:"interval"`

	// Threshold is the absolute open-change percentage that arms the rule.
	Threshold float64 `json:"threshold" db:"oc_threshold"`

	// Reverse selects counter-trend mode: hold the peak and fire on
	// retracement instead of firing on the first cross.
	Reverse bool `json:"reverse" db:"is_reverse_strategy"`

	// RetraceRatio is the fraction of the peak that must be given back
	// before a reverse-mode rule fires.
	RetraceRatio float64 `json:"retraceRatio" db:"retrace_ratio"`

	// StallDuration fires a reverse-mode rule when the peak stops advancing
	// for this long, even without a full retracement.
	StallDuration Duration `json:"stallDuration" db:"stall_duration"`
}

type Position struct {
	ID         int64        `json:"id" db:"id"`
	BotID      int64        `json:"botId" db:"bot_id"`
	StrategyID int64        `json:"strategyId" db:"strategy_id"`
	Exchange   ExchangeName `json:"exchange" db:"exchange"`
	Symbol     string       `json:"symbol" db:"symbol"`
	Side       string       `json:"side" db:"side"`
	EntryPrice float64      `json:"entryPrice" db:"entry_price"`
	Quantity   float64      `json:"quantity" db:"quantity"`
	Status     string       `json:"status" db:"status"`
	OpenedAt   time.Time    `json:"openedAt" db:"opened_at"`
	CreatedAt  time.Time    `json:"createdAt" db:"created_at"`
}

const PositionStatusOpen = "open"
const PositionStatusClosed = "closed"

package trader

import (
	"context"
	"strconv"

	"github.com/adshao/go-binance/v2"

	"github.com/ocbot/ocbot/pkg/types"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OpenRequest is what the pipeline asks an exchange to do. Precision,
// margin and order-type details belong to the placer, not the pipeline.
type OpenRequest struct {
	Symbol   string
	Side     Side
	Quantity float64
	Price    float64
}

// OrderPlacer is the opaque outbound execution collaborator. The scheduler
// only sees its success, latency and error.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req OpenRequest) error
}

// BinancePlacer places plain market orders through the binance spot API.
type BinancePlacer struct {
	client *binance.Client
}

func NewBinancePlacer(client *binance.Client) *BinancePlacer {
	return &BinancePlacer{client: client}
}

func (p *BinancePlacer) PlaceOrder(ctx context.Context, req OpenRequest) error {
	side := binance.SideTypeBuy
	if req.Side == SideSell {
		side = binance.SideTypeSell
	}

	_, err := p.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64)).
		Do(ctx)
	return err
}

func sideForMatch(direction types.Direction, reverse bool) Side {
	up := direction == types.DirectionUp
	if reverse {
		up = !up
	}

	if up {
		return SideBuy
	}
	return SideSell
}

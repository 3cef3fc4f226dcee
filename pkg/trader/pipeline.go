package trader

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ocbot/ocbot/pkg/admission"
	"github.com/ocbot/ocbot/pkg/dispatch"
	"github.com/ocbot/ocbot/pkg/oc"
	"github.com/ocbot/ocbot/pkg/service"
	"github.com/ocbot/ocbot/pkg/types"
)

// Pipeline wires the trading path: feed events into the bucket tracker,
// ticks through the trigger matcher, matches through admission and out via
// the request scheduler.
type Pipeline struct {
	tracker   *oc.Tracker
	matcher   *oc.Matcher
	admission *admission.Controller
	scheduler *dispatch.Scheduler
	placer    OrderPlacer
	positions *service.PositionService

	bots          map[int64]types.Bot
	subsBySymbol  map[string][]types.Subscription
	orderQuantity float64

	ctx    context.Context
	logger *logrus.Entry
}

type PipelineOptions struct {
	// OrderQuantity is the fixed base quantity for opened positions.
	// Real sizing (risk %, notional) stays with the placer's callers.
	OrderQuantity float64
}

func NewPipeline(
	tracker *oc.Tracker,
	matcher *oc.Matcher,
	adm *admission.Controller,
	scheduler *dispatch.Scheduler,
	placer OrderPlacer,
	positions *service.PositionService,
	bots []types.Bot,
	subs []types.Subscription,
	opts PipelineOptions,
) *Pipeline {
	p := &Pipeline{
		tracker:       tracker,
		matcher:       matcher,
		admission:     adm,
		scheduler:     scheduler,
		placer:        placer,
		positions:     positions,
		bots:          make(map[int64]types.Bot),
		subsBySymbol:  make(map[string][]types.Subscription),
		orderQuantity: opts.OrderQuantity,
		ctx:           context.Background(),
		logger:        logrus.WithField("component", "pipeline"),
	}

	for _, bot := range bots {
		p.bots[bot.ID] = bot
	}

	for _, sub := range subs {
		p.subsBySymbol[sub.Symbol] = append(p.subsBySymbol[sub.Symbol], sub)
	}

	return p
}

// Bind sets the lifecycle context used for work spawned off the feed path.
func (p *Pipeline) Bind(ctx context.Context) {
	p.ctx = ctx
}

func (p *Pipeline) HandleKLine(kline types.KLine) {
	p.tracker.HandleKLine(kline)
}

func (p *Pipeline) HandleTick(tick types.PriceTick) {
	for _, sub := range p.subsBySymbol[tick.Symbol] {
		p.tracker.HandleTick(tick, sub.Interval)

		m := p.matcher.Evaluate(p.ctx, sub, tick)
		if m == nil {
			continue
		}

		p.logger.Infof("%s", m)

		// opening blocks on the admission lock and the outbound queue;
		// keep the feed dispatch loop off that path
		go p.openPosition(p.ctx, sub, m)
	}
}

func (p *Pipeline) openPosition(ctx context.Context, sub types.Subscription, m *oc.Match) {
	// non-locking fast path: skip the lock entirely when the bot is full
	if st, err := p.admission.Status(ctx, sub.BotID); err == nil && st.IsFull {
		p.logger.Debugf("bot %d full (%d/%d used), skipping match", sub.BotID, st.CurrentCount, st.CurrentCount+st.Available)
		return
	}

	token, err := p.reserve(ctx, sub.BotID)
	if err != nil {
		p.logger.WithError(err).Warnf("admission failed for bot %d", sub.BotID)
		return
	}

	if token == "" {
		// limit reached: a legitimate outcome, never retried within the
		// same trigger
		return
	}

	bot := p.bots[sub.BotID]
	req := OpenRequest{
		Symbol:   m.Symbol,
		Side:     sideForMatch(m.Direction, sub.Reverse),
		Quantity: p.orderQuantity,
		Price:    m.Price,
	}

	err = p.scheduler.Do(ctx, dispatch.Job{
		Lane:         dispatch.LanePrimary,
		RequiresAuth: true,
		Testnet:      bot.Testnet,
		Payload: func(ctx context.Context) error {
			return p.placer.PlaceOrder(ctx, req)
		},
	})

	if err != nil {
		if ferr := p.admission.Finalize(ctx, sub.BotID, token, admission.OutcomeCancelled); ferr != nil {
			p.logger.WithError(ferr).Error("failed to cancel reservation")
		}

		p.logger.WithError(err).Warnf("open order failed for %s", m.Symbol)
		return
	}

	if err := p.positions.Insert(ctx, &types.Position{
		BotID:      sub.BotID,
		StrategyID: sub.ID,
		Exchange:   bot.Exchange,
		Symbol:     m.Symbol,
		Side:       string(req.Side),
		EntryPrice: m.Price,
		Quantity:   req.Quantity,
		Status:     types.PositionStatusOpen,
	}); err != nil {
		p.logger.WithError(err).Error("failed to record opened position")
	}

	if err := p.admission.Finalize(ctx, sub.BotID, token, admission.OutcomeReleased); err != nil {
		p.logger.WithError(err).Error("failed to release reservation")
	}
}

// reserve retries lock timeouts once; limit-reached comes back as an empty
// token and is final for this trigger.
func (p *Pipeline) reserve(ctx context.Context, botID int64) (string, error) {
	token, err := p.admission.Reserve(ctx, botID)
	if err == nil {
		return token, nil
	}

	if !errors.Is(err, admission.ErrLockTimeout) {
		return "", err
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	return p.admission.Reserve(ctx, botID)
}

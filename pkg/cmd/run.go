package cmd

import (
	"context"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ocbot/ocbot/pkg/admission"
	"github.com/ocbot/ocbot/pkg/config"
	"github.com/ocbot/ocbot/pkg/dispatch"
	"github.com/ocbot/ocbot/pkg/feed"
	"github.com/ocbot/ocbot/pkg/oc"
	"github.com/ocbot/ocbot/pkg/persistence"
	"github.com/ocbot/ocbot/pkg/service"
	"github.com/ocbot/ocbot/pkg/trader"
	"github.com/ocbot/ocbot/pkg/types"
)

func init() {
	RunCmd.Flags().Int64Slice("bot", nil, "bot ids to run")
	RootCmd.AddCommand(RunCmd)
}

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "run the trading bot",

	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return err
		}

		dbService := service.NewDatabaseService("mysql", viper.GetString("dsn"))
		if err := dbService.Connect(); err != nil {
			return err
		}
		defer dbService.Close()

		botIDs, err := cmd.Flags().GetInt64Slice("bot")
		if err != nil {
			return err
		}

		botService := service.NewBotService(dbService.DB)

		var bots []types.Bot
		var subs []types.Subscription
		for _, id := range botIDs {
			bot, err := botService.Load(ctx, id)
			if err != nil {
				return err
			}

			botSubs, err := botService.LoadSubscriptions(ctx, id)
			if err != nil {
				return err
			}

			bots = append(bots, *bot)
			subs = append(subs, botSubs...)

			if bot.Testnet {
				binance.UseTestnet = true
			}
		}

		client := binance.NewClient(
			viper.GetString("binance-api-key"),
			viper.GetString("binance-api-secret"))

		tracker := oc.NewTracker(types.ExchangeBinance,
			feed.NewRestOpenPriceFetcher(client),
			oc.TrackerOptions{
				GracePeriod:      cfg.DurationDefault("oc.grace_period", 10*time.Second),
				FetchConcurrency: cfg.IntDefault("oc.fetch_concurrency", 2),
			})

		matcher := oc.NewMatcher(tracker)

		adm := admission.NewController(dbService.DB, admission.Options{
			ReservationTTL: cfg.DurationDefault("admission.reservation_ttl", 30*time.Second),
			LockTimeout:    cfg.DurationDefault("admission.lock_timeout", 10*time.Second),
		})

		sweeper := admission.NewSweeper(adm)
		if err := sweeper.Start(); err != nil {
			return err
		}
		defer sweeper.Stop()

		var ps persistence.PersistenceService = persistence.NewMemoryService()
		if host := cfg.StringDefault("redis.host", ""); host != "" {
			ps = persistence.NewRedisService(&persistence.RedisConfig{
				Host:      host,
				Port:      cfg.StringDefault("redis.port", "6379"),
				Password:  cfg.StringDefault("redis.password", ""),
				DB:        cfg.IntDefault("redis.db", 0),
				Namespace: cfg.StringDefault("redis.namespace", "ocbot"),
			})
		}

		subs = filterSupportedSubscriptions(subs)
		subs = applySubscriptionOverrides(ps, subs)

		gate := dispatch.NewRateGate(dispatch.RateGateOptions{
			SignedInterval:   cfg.DurationDefault("rategate.signed_interval", 250*time.Millisecond),
			UnsignedInterval: cfg.DurationDefault("rategate.unsigned_interval", 100*time.Millisecond),
			CooldownDuration: cfg.DurationDefault("rategate.cooldown", 15*time.Second),
		})
		defer gate.Close()

		gateStore := ps.NewStore("rategate", "throttle")
		if err := gate.RestoreFrom(gateStore); err != nil {
			log.WithError(err).Warn("failed to restore throttle snapshot")
		}
		defer func() {
			if err := gate.SaveTo(gateStore); err != nil {
				log.WithError(err).Warn("failed to save throttle snapshot")
			}
		}()

		scheduler := dispatch.NewScheduler(gate, dispatch.SchedulerOptions{
			PrimaryBurst: cfg.IntDefault("dispatch.primary_burst", 5),
			MaxQueueSize: cfg.IntDefault("dispatch.max_queue_size", 256),
		})

		pipeline := trader.NewPipeline(
			tracker, matcher, adm, scheduler,
			trader.NewBinancePlacer(client),
			service.NewPositionService(dbService.DB),
			bots, subs,
			trader.PipelineOptions{
				OrderQuantity: cfg.FloatDefault("trader.order_quantity", 0.001),
			})
		pipeline.Bind(ctx)

		symbols, intervals := collectSubscriptionTargets(subs)
		stream := feed.NewStream(symbols, intervals, pipeline)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			scheduler.Run(gctx)
			return nil
		})
		g.Go(func() error {
			stream.Run(gctx)
			return nil
		})

		metricsAddr := cfg.StringDefault("metrics.addr", ":9090")
		metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})

		log.Infof("ocbot started: %d bots, %d subscriptions, %d symbols", len(bots), len(subs), len(symbols))
		return g.Wait()
	},
}

// filterSupportedSubscriptions drops rules whose interval the bucket math
// cannot align. The strategies table is operator-edited; one bad row must
// not take down the process.
func filterSupportedSubscriptions(subs []types.Subscription) []types.Subscription {
	kept := subs[:0]
	for _, sub := range subs {
		if _, ok := types.SupportedIntervals[sub.Interval]; !ok {
			log.Errorf("subscription %d has unsupported interval %q, skipping", sub.ID, sub.Interval)
			continue
		}

		kept = append(kept, sub)
	}

	return kept
}

// subscriptionOverride lets operators retune a live rule through the
// persistence store without touching the strategies table or restarting.
type subscriptionOverride struct {
	Threshold    *float64 `json:"threshold"`
	RetraceRatio *float64 `json:"retraceRatio"`
	StallSeconds *int64   `json:"stallSeconds"`
}

func applySubscriptionOverrides(ps persistence.PersistenceService, subs []types.Subscription) []types.Subscription {
	for i := range subs {
		store := ps.NewStore("subscription", strconv.FormatInt(subs[i].ID, 10))

		var o subscriptionOverride
		if err := store.Load(&o); err != nil {
			continue
		}

		if o.Threshold != nil {
			subs[i].Threshold = *o.Threshold
		}
		if o.RetraceRatio != nil {
			subs[i].RetraceRatio = *o.RetraceRatio
		}
		if o.StallSeconds != nil {
			subs[i].StallDuration = types.Duration(time.Duration(*o.StallSeconds) * time.Second)
		}

		log.Infof("applied override for subscription %d: %+v", subs[i].ID, o)
	}

	return subs
}

func collectSubscriptionTargets(subs []types.Subscription) (symbols []string, intervals []types.Interval) {
	seenSymbol := map[string]struct{}{}
	seenInterval := map[types.Interval]struct{}{}

	for _, sub := range subs {
		if _, ok := seenSymbol[sub.Symbol]; !ok {
			seenSymbol[sub.Symbol] = struct{}{}
			symbols = append(symbols, sub.Symbol)
		}

		if _, ok := seenInterval[sub.Interval]; !ok {
			seenInterval[sub.Interval] = struct{}{}
			intervals = append(intervals, sub.Interval)
		}
	}

	return symbols, intervals
}

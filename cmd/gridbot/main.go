// Command gridbot bootstraps the grid market-making engine: load config,
// build the logger and telemetry, construct the adapter/schedule/monitor/
// mirror/controller stack, and run until a stop signal arrives. Grounded on
// the teacher's cmd/live_server/main.go bootstrap sequence and
// internal/bootstrap/app.go's errgroup+signal.NotifyContext shutdown.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gridbot/internal/config"
	"gridbot/internal/controller"
	"gridbot/internal/exchange"
	"gridbot/internal/exchange/restclient"
	"gridbot/internal/logging"
	"gridbot/internal/mirror"
	"gridbot/internal/position"
	"gridbot/internal/schedule"
	"gridbot/internal/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting gridbot", "version", version, "config", cfg.String())

	tel, err := telemetry.Setup("gridbot")
	if err != nil {
		logger.Warn("telemetry setup failed, continuing without metrics export", "error", err)
	}

	adapter := restclient.New(restclient.Config{
		BaseURL:   cfg.BaseURL,
		StreamURL: streamURL(cfg.BaseURL),
		APIKey:    fmt.Sprintf("%d", cfg.AccountID),
		APISecret: cfg.StarkPrivateKey,
		Symbol:    cfg.Symbol,
		Tick:      cfg.PriceTick,
		// The spec defines no separate lot-size env var; EDGEX_GRID_SIZE
		// fixes every rung's quantity, so the quantization step only needs
		// to be fine enough not to distort that fixed value.
		Step: decimal.New(1, -4),
	}, logger)

	thresholds := position.Thresholds{
		PositionLossCutPct:      nilIfZero(cfg.PositionLossCutPct),
		PositionTakeProfitPct:   nilIfZero(cfg.PositionTakeProfitPct),
		AssetLossCutPct:         nilIfZero(cfg.AssetLossCutPct),
		AssetTakeProfitPct:      nilIfZero(cfg.AssetTakeProfitPct),
		RecoveryEnabled:         cfg.BalanceRecoveryEnabled,
		InitialBalanceUSD:       cfg.InitialBalanceUSD,
		RecoveryEnforceLevelUSD: cfg.RecoveryEnforceLevelUSD,
		Leverage:                cfg.Leverage,
	}
	monitor := position.New(cfg.Symbol, thresholds, logger)
	defer monitor.Close()
	localMirror := mirror.New(cfg.Symbol)

	var sched *schedule.Manager
	if cfg.UseSchedule {
		sched = schedule.New(scheduleURL(cfg.BaseURL), scheduleTypeName(cfg), logger)
	}

	ctrl := controller.New(cfg, adapter, monitor, localMirror, sched, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eventPump(gctx, adapter, monitor)
	})
	g.Go(func() error {
		return ctrl.Run(gctx)
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		logger.Error("gridbot stopped with error", "error", err)
	}

	if tel != nil {
		_ = tel.Shutdown(context.Background())
	}
	logger.Info("gridbot shut down")
}

// eventPump forwards the adapter's streamed events to the position monitor
// until ctx is cancelled or the adapter's event channel closes.
func eventPump(ctx context.Context, adapter exchange.Adapter, monitor *position.Monitor) error {
	events := adapter.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			monitor.OnEvent(ctx, ev)
		}
	}
}

func streamURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	return "wss://" + trimScheme(baseURL) + "/ws/private"
}

func scheduleURL(baseURL string) string {
	if baseURL == "" {
		return ""
	}
	return "https://" + trimScheme(baseURL) + "/schedule"
}

func trimScheme(url string) string {
	for _, prefix := range []string{"https://", "http://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			return url[len(prefix):]
		}
	}
	return url
}

func scheduleTypeName(cfg *config.Config) string {
	if cfg.UseScheduleType == config.ScheduleRemote {
		return "remote"
	}
	return "default"
}

// nilIfZero treats an unset (zero-value) threshold env var as "not
// configured", matching config.Load leaving absent EDGEX_* vars at their
// decimal.Zero default.
func nilIfZero(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

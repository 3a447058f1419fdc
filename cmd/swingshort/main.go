// Command swingshort runs the NIFTY index-option shorting engine. It loads
// configuration (.env, required-secret fatal check, rotating file logger)
// then hands off to internal/engine for the autonomous session. Command
// dispatch goes through cobra so schema migration can run as its own
// explicit step ahead of a live session.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"swingshort/internal/broker"
	"swingshort/internal/broker/dryrun"
	"swingshort/internal/broker/live"
	"swingshort/internal/config"
	"swingshort/internal/engine"
	"swingshort/internal/feed/backup"
	"swingshort/internal/feed/primary"
	"swingshort/internal/logger"
	"swingshort/internal/models"
	"swingshort/internal/notify"
	"swingshort/internal/state"
	"swingshort/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:   "swingshort",
		Short: "NIFTY index-option shorting engine",
	}
	root.AddCommand(serveCmd(), migrateCmd())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply outstanding schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			store, err := state.Open(cfg.StateDSN)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()
			log.Println("swingshort: migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the trading session until killed or market close",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	logger.Setup(cfg.InstanceName+".log", cfg.MaxLogSizeMB, cfg.MaxLogBackups)

	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		log.Printf("swingshort: could not load Asia/Kolkata, using local time: %v", err)
		loc = time.Local
	}

	if err := os.MkdirAll(cfg.SentinelDir, 0o755); err != nil {
		return fmt.Errorf("create sentinel dir: %w", err)
	}
	sentinels := storage.NewSentinels(cfg.SentinelDir)

	store, err := state.Open(cfg.StateDSN)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	notifier := notify.New(cfg.TelegramBotToken, cfg.TelegramChatID, "["+cfg.InstanceName+"]", cfg.TelegramBotToken == "")

	var b broker.Broker
	if cfg.DryRun {
		b = dryrun.New(decimal.NewFromInt(1_000_000))
		log.Println("swingshort: running in PAPER_TRADING mode")
	} else {
		b = live.New(cfg.BrokerBaseURL, cfg.BrokerAPIKey, 3, time.Second)
	}

	universe, err := buildUniverse(ctx, b, cfg.StrikeScanRange)
	if err != nil {
		return fmt.Errorf("build option universe: %w", err)
	}
	log.Printf("swingshort: scanning %d instruments across %d strikes", len(universe), cfg.StrikeScanRange*2+1)

	e := engine.New(engine.Deps{
		Config:    cfg,
		Broker:    b,
		Primary:   primary.New(cfg.BrokerBaseURL),
		Backup:    backup.New(cfg.BrokerBaseURL),
		Store:     store,
		Sentinels: sentinels,
		Notifier:  notifier,
		Universe:  universe,
		Location:  loc,
	})
	return e.Run(ctx)
}

// buildUniverse scans StrikeScanRange strikes either side of the underlying
// index's current at-the-money strike and builds a CE/PE symbol for each.
// Expiry-code resolution (weekly/monthly rollover) is left to the broker's
// symbol-lookup convention and is out of scope here: the scanned strikes use
// the nearest-50 round number directly as the symbol's numeric suffix.
func buildUniverse(ctx context.Context, b broker.Broker, scanRange int) ([]engine.SymbolInfo, error) {
	now := time.Now()
	rows, err := b.History(ctx, "NIFTY", "NSE_INDEX", "1minute", now.Add(-time.Hour), now)
	if err != nil || len(rows) == 0 {
		return nil, fmt.Errorf("resolve underlying spot: %w", err)
	}
	spot := rows[len(rows)-1].Close

	step := decimal.NewFromInt(50)
	atm := spot.Div(step).Round(0).Mul(step).IntPart()

	var universe []engine.SymbolInfo
	for i := -scanRange; i <= scanRange; i++ {
		strike := int(atm) + i*50
		universe = append(universe,
			engine.SymbolInfo{Symbol: fmt.Sprintf("NIFTY%dCE", strike), OptionType: models.CE, Strike: strike},
			engine.SymbolInfo{Symbol: fmt.Sprintf("NIFTY%dPE", strike), OptionType: models.PE, Strike: strike},
		)
	}
	return universe, nil
}

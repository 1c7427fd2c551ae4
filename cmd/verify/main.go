package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"pf-scalp-bot/internal/config"
	"pf-scalp-bot/internal/logging"
	"pf-scalp-bot/internal/pacifica/exchange"
	"pf-scalp-bot/internal/pacifica/rest"
	"pf-scalp-bot/internal/state"
	"pf-scalp-bot/internal/state/sqlite"
	"pf-scalp-bot/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	mark := flag.Float64("mark", 0, "mark price used to derive the order size and TP/SL (0 skips)")
	side := flag.String("side", "long", "position side for the TP/SL preview: long or short")
	live := flag.Bool("live", false, "query the live open position for the configured symbol")
	journal := flag.Int("journal", 5, "number of recent journal entries to print (0 skips)")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	s := cfg.Strategy
	if *mark > 0 {
		if err := printDryRun(s, *mark, *side); err != nil {
			fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *live {
		if err := printLivePosition(ctx, cfg, log); err != nil {
			fatal(err)
		}
	}
	if err := printJournal(ctx, cfg.State.SQLitePath, *journal); err != nil {
		fatal(err)
	}
}

func printDryRun(s config.StrategyConfig, mark float64, sideFlag string) error {
	size := strategy.OrderSize(s.CollateralUSD, s.Leverage, mark, s.LotPrecision())
	fmt.Printf("order: symbol=%s mark=%g size=%s notional=%s slippage=%s%%\n",
		s.Symbol, mark, size.String(), size.Mul(decimal.NewFromFloat(mark)).StringFixed(2), s.SlippagePercent)
	if !size.IsPositive() {
		return errors.New("size rounds to zero; increase collateral_usd or leverage")
	}
	side := strategy.Side(strings.ToLower(strings.TrimSpace(sideFlag)))
	prot, err := strategy.ProtectivePrices(side, mark, size.InexactFloat64(), s.CollateralUSD,
		s.TakeProfitPercent, s.StopLossPercent, s.PricePrecision)
	if err != nil {
		return err
	}
	fmt.Printf("protective (%s, entry at mark): take_profit=%s stop_loss=%s exit_side=%s\n",
		side, prot.TakeProfit.String(), prot.StopLoss.String(), side.ExitSide())
	return nil
}

func printLivePosition(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	privateKey := strings.TrimSpace(os.Getenv("PF_PRIVATE_KEY"))
	if privateKey == "" {
		return errors.New("PF_PRIVATE_KEY is required for -live")
	}
	apiKey := strings.TrimSpace(os.Getenv("PF_API_KEY"))
	if apiKey == "" {
		return errors.New("PF_API_KEY is required for -live")
	}
	signer, err := exchange.NewSigner(privateKey)
	if err != nil {
		return err
	}
	restClient := rest.New(cfg.REST.BaseURL, apiKey, cfg.REST.Timeout, log)
	exClient, err := exchange.NewClient(restClient, nil, signer, cfg.Strategy.SlippagePercent, log)
	if err != nil {
		return err
	}
	pos, ok, err := exClient.Position(ctx, cfg.Strategy.Symbol)
	if err != nil {
		return fmt.Errorf("query position: %w", err)
	}
	if !ok {
		fmt.Printf("live position: none (account=%s symbol=%s)\n", exClient.Account(), cfg.Strategy.Symbol)
		return nil
	}
	fmt.Printf("live position: account=%s symbol=%s side=%s amount=%s entry=%s\n",
		exClient.Account(), pos.Symbol, pos.Side, pos.Amount.String(), pos.EntryPrice.String())
	return nil
}

func printJournal(ctx context.Context, path string, limit int) error {
	if limit <= 0 {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("journal: no state database at %s\n", path)
			return nil
		}
		return err
	}
	store, err := sqlite.New(path)
	if err != nil {
		return err
	}
	defer store.Close()

	last, ok, err := state.LoadLastTrade(ctx, store)
	if err != nil {
		return fmt.Errorf("load last trade: %w", err)
	}
	if !ok {
		fmt.Println("last trade: none")
		return nil
	}
	fmt.Printf("last trade: %s\n", formatEntry(last))
	entries, err := store.RecentJournal(ctx, limit)
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	for _, e := range entries {
		fmt.Printf("  %s\n", formatEntry(e))
	}
	return nil
}

func formatEntry(e state.JournalEntry) string {
	at := time.UnixMilli(e.AtMS).UTC().Format(time.RFC3339)
	out := fmt.Sprintf("%s %s phase=%s symbol=%s", at, e.Kind, e.Phase, e.Symbol)
	if e.Side != "" {
		out += fmt.Sprintf(" side=%s size=%g entry=%g", e.Side, e.Size, e.EntryPrice)
	}
	if e.Reason != "" {
		out += " reason=" + e.Reason
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

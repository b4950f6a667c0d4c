// venue_probe checks connectivity and credentials of the configured venues:
// a public ticker and the private balance, without trading
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange"
	"kimchi_arb/pkg/cli"
	"kimchi_arb/pkg/logging"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const krwQuote = "KRW"

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to the credentials env file")
	venueFlag := flag.String("venues", "", "Comma separated venues to probe (default: all)")
	baseFlag := flag.String("base", "BTC", "Base asset of the probe symbol")
	timeout := flag.Duration("timeout", 15*time.Second, "Timeout per venue")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfigWith(*configPath, func(c *config.Config) { c.App.DryRun = true })
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	names, err := selectVenues(cfg, *venueFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	logger, err := logging.NewZapLogger("WARN")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	results := probeAll(context.Background(), cfg, names, strings.ToUpper(*baseFlag), *timeout, logger)
	if failed := report(os.Stdout, results); failed > 0 {
		os.Exit(1)
	}
}

type probeResult struct {
	venue    string
	symbol   string
	ticker   *core.Ticker
	balances core.Balances
	err      error
}

func selectVenues(cfg *config.Config, input string) ([]string, error) {
	names, err := cli.ParseVenueList(input)
	if err != nil {
		return nil, err
	}
	if names == nil {
		return cfg.VenueNames(), nil
	}
	for _, n := range names {
		if _, ok := cfg.Venues[n]; !ok {
			return nil, fmt.Errorf("venue %s is not configured", n)
		}
	}
	sort.Strings(names)
	return names, nil
}

// probeSymbol quotes KRW venues in KRW and everything else in USDT. Mock
// venues take the kind from their name.
func probeSymbol(name string, v config.VenueConfig, base string) string {
	kind := v.Kind
	if kind == "mock" {
		kind = strings.SplitN(name, "_", 2)[0]
	}
	switch kind {
	case "upbit", "bithumb":
		return base + "/" + krwQuote
	}
	return base + "/USDT"
}

func probeAll(ctx context.Context, cfg *config.Config, names []string, base string, timeout time.Duration, logger core.ILogger) []probeResult {
	registry := exchange.NewRegistry()
	results := make([]probeResult, len(names))

	var g errgroup.Group
	for i, name := range names {
		vc := cfg.Venues[name]
		results[i] = probeResult{venue: name, symbol: probeSymbol(name, vc, base)}
		g.Go(func() error {
			r := &results[i]
			venue, err := registry.Build(name, vc, logger)
			if err != nil {
				r.err = err
				return nil
			}
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			r.ticker, err = venue.GetTicker(pctx, r.symbol)
			if err != nil {
				r.err = fmt.Errorf("ticker: %w", err)
				return nil
			}
			r.balances, err = venue.GetBalance(pctx)
			if err != nil {
				r.err = fmt.Errorf("balance: %w", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// report prints one row per venue and returns the number of failures
func report(w io.Writer, results []probeResult) int {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VENUE\tSYMBOL\tBID\tASK\tFREE BASE\tFREE QUOTE\tSTATUS")
	failed := 0
	for _, r := range results {
		bid, ask, freeBase, freeQuote := "-", "-", "-", "-"
		if r.ticker != nil {
			bid, ask = r.ticker.Bid.String(), r.ticker.Ask.String()
		}
		if r.balances != nil {
			if base, quote, err := core.SplitSymbol(r.symbol); err == nil {
				freeBase = r.balances.Free(base).String()
				freeQuote = r.balances.Free(quote).String()
			}
		}
		status := "ok"
		if r.err != nil {
			status = "FAIL: " + r.err.Error()
			failed++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.venue, r.symbol, bid, ask, freeBase, freeQuote, status)
	}
	tw.Flush()
	return failed
}

package arbengine

import (
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/risk"
	"kimchi_arb/internal/trading/arbitrage"
	"kimchi_arb/internal/trading/execution"
	"kimchi_arb/internal/trading/monitor"
	"kimchi_arb/internal/trading/orchestrator"
	"kimchi_arb/internal/trading/portfolio"
	"kimchi_arb/internal/trading/tuning"
	"kimchi_arb/pkg/concurrency"
	"sort"
	"time"
)

// Dependencies are the collaborators built outside the engine. Venues should
// already be guarded by Breaker. Notifier may be nil.
type Dependencies struct {
	Venues   map[string]core.IVenue
	Breaker  *risk.ExchangeBreaker
	Store    core.IStateStore
	Journal  core.ITradeJournal
	Notifier core.INotifier
}

// New wires the engine from configuration. Call Load before the first tick.
func New(cfg *config.Config, deps Dependencies, logger core.ILogger) (*Engine, error) {
	if deps.Store == nil || deps.Breaker == nil {
		return nil, fmt.Errorf("engine requires a state store and an exchange breaker")
	}
	if err := checkVenues(cfg, deps.Venues); err != nil {
		return nil, err
	}

	log := logger.WithField("component", "arb_engine")
	valuer := portfolio.NewValuer()
	riskMgr := risk.NewManager(cfg.Risk, deps.Store, valuer, deps.Notifier, logger)
	executor := execution.NewPairExecutor(logger)
	predictor := monitor.NewPredictor(cfg.Predictor)
	tuner := tuning.NewTuner(cfg.Tuner, cfg.Predictor.VolatilityBorder)
	filter := arbitrage.NewZScoreFilter(cfg.Filter)
	fees := venueFees(cfg)

	orch := orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Filter:   filter,
		Tuner:    tuner,
		Risk:     riskMgr,
		Breaker:  deps.Breaker,
		Executor: executor,
		Journal:  deps.Journal,
		Notifier: deps.Notifier,
	}, cfg.App.DryRun, logger)

	fundingVenues := make(map[string]core.IVenue, len(cfg.Funding.Venues))
	for _, name := range cfg.Funding.Venues {
		if v, ok := deps.Venues[name]; ok {
			fundingVenues[name] = v
		}
	}
	funding := NewFundingArb(cfg.Funding, FundingDeps{
		Venues:   fundingVenues,
		Fees:     fees,
		Monitor:  monitor.NewFundingMonitor(fundingVenues, logger, cfg.Funding.Symbol),
		Executor: executor,
		Store:    deps.Store,
		Risk:     riskMgr,
		Journal:  deps.Journal,
		Notifier: deps.Notifier,
	}, cfg.App.DryRun, logger)

	rebalancer, err := portfolio.NewRebalancer(cfg.Rebalance, deps.Venues, valuer, logger)
	if err != nil {
		return nil, err
	}

	krwSymbol := cfg.Cross.Symbol
	if cfg.Spread.Enabled {
		krwSymbol = cfg.Spread.Symbol
	}
	base, _, err := core.SplitSymbol(krwSymbol)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:           cfg,
		venues:        deps.Venues,
		fees:          fees,
		books:         bookRequests(cfg),
		balanceVenues: balanceVenues(cfg),
		krwVenues:     krwVenues(cfg),
		krwSymbol:     krwSymbol,
		baseAsset:     base,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "snapshot",
			MaxWorkers: cfg.System.SnapshotPool,
		}, logger),
		estimator:  arbitrage.NewEstimator(),
		predictor:  predictor,
		tuner:      tuner,
		filter:     filter,
		orch:       orch,
		funding:    funding,
		rebalancer: rebalancer,
		valuer:     valuer,
		risk:       riskMgr,
		breaker:    deps.Breaker,
		journal:    deps.Journal,
		notifier:   deps.Notifier,
		logger:     log,
		now:        time.Now,
	}
	log.Info("Engine wired",
		"books", len(e.books),
		"balance_venues", e.balanceVenues,
		"spread", cfg.Spread.Enabled,
		"cross", cfg.Cross.Enabled,
		"funding", cfg.Funding.Enabled,
		"rebalance", cfg.Rebalance.Enabled)
	return e, nil
}

// Risk exposes the risk manager
func (e *Engine) Risk() *risk.Manager {
	return e.risk
}

// Valuer exposes the equity valuer
func (e *Engine) Valuer() *portfolio.Valuer {
	return e.valuer
}

// Funding exposes the funding state machine
func (e *Engine) Funding() *FundingArb {
	return e.funding
}

func checkVenues(cfg *config.Config, venues map[string]core.IVenue) error {
	for _, k := range bookRequests(cfg) {
		if _, ok := venues[k.venue]; !ok {
			return fmt.Errorf("venue %s is used by a layer but not configured", k.venue)
		}
	}
	for _, name := range balanceVenues(cfg) {
		if _, ok := venues[name]; !ok {
			return fmt.Errorf("venue %s is used by a layer but not configured", name)
		}
	}
	return nil
}

func krwVenues(cfg *config.Config) []string {
	set := make(map[string]bool)
	if cfg.Spread.Enabled {
		for _, v := range cfg.Spread.Venues {
			set[v] = true
		}
	}
	if cfg.Cross.Enabled {
		for _, v := range cfg.Cross.Venues {
			set[v] = true
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

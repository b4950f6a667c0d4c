package portfolio

import (
	"context"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/tradingutils"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

const amountDecimals = 6

// Rebalancer moves each venue's asset shares toward their targets on a
// schedule. A pass corrects only a fraction of the drift.
type Rebalancer struct {
	cfg      config.RebalanceConfig
	schedule cron.Schedule
	venues   map[string]core.IVenue
	valuer   *Valuer
	logger   core.ILogger

	mu   sync.Mutex
	next time.Time
}

// NewRebalancer parses the schedule, a standard cron spec or a descriptor
// such as "@every 6h"
func NewRebalancer(cfg config.RebalanceConfig, venues map[string]core.IVenue, valuer *Valuer, logger core.ILogger) (*Rebalancer, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = "@every 6h"
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid rebalance schedule %q: %w", spec, err)
	}
	return &Rebalancer{
		cfg:      cfg,
		schedule: sched,
		venues:   venues,
		valuer:   valuer,
		logger:   logger.WithField("component", "rebalancer"),
	}, nil
}

// Due reports whether a pass should run at now. The first call only arms
// the schedule.
func (r *Rebalancer) Due(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next.IsZero() {
		r.next = r.schedule.Next(now)
		return false
	}
	if now.Before(r.next) {
		return false
	}
	r.next = r.schedule.Next(now)
	return true
}

// Next returns the armed run time
func (r *Rebalancer) Next() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Plan computes the corrective actions for every configured venue.
// Reductions are ordered before additions so sells fund the buys.
func (r *Rebalancer) Plan() []RebalanceAction {
	var actions []RebalanceAction
	for _, venue := range r.cfg.Venues {
		actions = append(actions, r.planVenue(venue)...)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority < actions[j].Priority
	})
	return actions
}

func (r *Rebalancer) planVenue(venue string) []RebalanceAction {
	holdings, total := r.valuer.Holdings(venue)
	if !total.IsPositive() {
		return nil
	}
	shares := make(map[string]Holding, len(holdings))
	for _, h := range holdings {
		shares[h.Asset] = h
	}

	assets := make([]string, 0, len(r.cfg.Targets))
	for asset := range r.cfg.Targets {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	var actions []RebalanceAction
	for _, asset := range assets {
		if asset == QuoteCurrency {
			continue
		}
		mark, ok := r.valuer.Mark(asset)
		if !ok {
			r.logger.Debug("No mark for asset, skipping", "venue", venue, "asset", asset)
			continue
		}

		drift := shares[asset].Share - r.cfg.Targets[asset]
		if math.Abs(drift) <= r.cfg.Band {
			continue
		}

		notional := total.Mul(decimal.NewFromFloat(r.cfg.Fraction * math.Abs(drift)))
		amount := tradingutils.RoundQuantity(notional.Div(mark), amountDecimals)
		action := RebalanceAction{
			Venue:  venue,
			Symbol: asset + "/" + QuoteCurrency,
			Asset:  asset,
			Drift:  drift,
			Amount: amount,
		}
		if drift > 0 {
			action.Side = core.SideSell
			action.Priority = 1
		} else {
			action.Side = core.SideBuy
			action.Priority = 2
		}
		action.Notional = amount.Mul(mark)

		if !amount.IsPositive() || action.Notional.LessThan(decimal.NewFromFloat(r.cfg.MinNotionalKRW)) {
			r.logger.Debug("Drift correction below minimum notional",
				"venue", venue, "asset", asset, "drift", drift, "notional", action.Notional.String())
			continue
		}
		actions = append(actions, action)
	}
	return actions
}

// Run executes a pass when due. A disabled trading flag skips the pass but
// keeps the schedule moving.
func (r *Rebalancer) Run(ctx context.Context, now time.Time, tradingEnabled bool) []RebalanceResult {
	if !r.cfg.Enabled || !r.Due(now) {
		return nil
	}
	if !tradingEnabled {
		r.logger.Info("Rebalance skipped, trading disabled")
		return nil
	}

	actions := r.Plan()
	results := make([]RebalanceResult, 0, len(actions))
	for _, a := range actions {
		res := RebalanceResult{Action: a}
		v, ok := r.venues[a.Venue]
		if !ok {
			res.Err = fmt.Errorf("unknown rebalance venue %s", a.Venue)
			results = append(results, res)
			continue
		}
		res.Order, res.Err = v.SubmitMarketOrder(ctx, a.Symbol, a.Side, a.Amount)
		if res.Err != nil {
			r.logger.Error("Rebalance order failed", "venue", a.Venue, "symbol", a.Symbol, "side", a.Side, "error", res.Err)
		} else {
			r.logger.Info("Rebalance order filled",
				"venue", a.Venue,
				"symbol", a.Symbol,
				"side", a.Side,
				"drift", a.Drift,
				"filled", res.Order.Filled.String())
		}
		results = append(results, res)
	}
	return results
}

package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nickelnine37/sportfolios-server/internal/docstore"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/portfolio"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// valuationTimeframes are the windows a portfolio document carries returns
// for. The hourly window is chart-only and has no returns field.
func valuationTimeframes() []types.Timeframe {
	return []types.Timeframe{types.Daily, types.Weekly, types.Monthly, types.LongMonthly}
}

// PortfolioValuer marks every active portfolio to market: the current value
// and the returns against each reference time.
type PortfolioValuer struct {
	store  state.Store
	docs   docstore.Store
	logger *slog.Logger
}

// NewPortfolioValuer wires the valuer.
func NewPortfolioValuer(store state.Store, docs docstore.Store, logger *slog.Logger) *PortfolioValuer {
	return &PortfolioValuer{
		store:  store,
		docs:   docs,
		logger: logger.With("component", "portfolio_valuer"),
	}
}

// Run revalues every active portfolio. Each transaction contributes its
// mark-to-market profit value(q) − price; the per-timeframe totals value the
// same positions at the oldest retained history row, skipping transactions
// younger than the reference time. Totals sit on top of the starting cash.
func (v *PortfolioValuer) Run(ctx context.Context, t int64) error {
	tl, err := v.store.TimeLog(ctx)
	if err != nil {
		return fmt.Errorf("read time log: %w", err)
	}
	refs := make(map[types.Timeframe]int64, 4)
	for _, tf := range valuationTimeframes() {
		if tl.Len(tf) > 0 {
			refs[tf] = tl[tf][0]
		}
	}

	cache := newMarketCache(v.store, v.logger)
	updates := make(map[string][]docstore.Update)
	portfolios := 0

	err = v.docs.Stream(ctx, "portfolios", func(id string, doc map[string]any) error {
		if active, ok := doc["active"].(bool); ok && !active {
			return nil
		}
		txs, err := types.DecodeTransactions(doc["transactions"])
		if err != nil {
			v.logger.Error("bad transaction log, skipping portfolio", "portfolio", id, "error", err)
			return nil
		}
		if len(txs) == 0 {
			return nil
		}
		up, err := v.valueOne(ctx, cache, refs, txs)
		if err != nil {
			return err
		}
		updates[id] = up
		portfolios++
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream portfolios: %w", err)
	}

	batches := chunkDocs("portfolios", updates)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for _, b := range batches {
		g.Go(func() error {
			return v.docs.BatchUpdate(gCtx, b.collection, b.docs)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("commit portfolio updates: %w", err)
	}

	v.logger.Info("portfolio valuation complete", "t", t,
		"portfolios", portfolios, "batches", len(batches))
	return nil
}

func (v *PortfolioValuer) valueOne(ctx context.Context, cache *marketCache, refs map[types.Timeframe]int64, txs []types.Transaction) ([]docstore.Update, error) {
	markets := make([]string, 0, len(txs))
	seen := make(map[string]bool, len(txs))
	for _, tx := range txs {
		if !seen[tx.Market] {
			seen[tx.Market] = true
			markets = append(markets, tx.Market)
		}
	}
	if err := cache.fetch(ctx, markets); err != nil {
		return nil, err
	}

	var current float64
	hist := make(map[types.Timeframe]float64, 4)
	for _, tx := range txs {
		cm := cache.get(tx.Market)
		if cm == nil {
			// missing from the state store, logged at fetch time
			continue
		}
		nowVal, err := positionValue(cm.current, tx.Quantity)
		if err != nil {
			v.logger.Error("cannot value transaction", "market", tx.Market, "error", err)
			continue
		}
		current += nowVal - tx.Price

		for _, tf := range valuationTimeframes() {
			if tx.Time > float64(refs[tf]) {
				continue
			}
			refVal, err := positionValue(cm.refs[tf], tx.Quantity)
			if err != nil {
				continue
			}
			hist[tf] += refVal - tx.Price
		}
	}

	currentValue := current + portfolio.InitialCash
	updates := make([]docstore.Update, 0, 5)
	for _, tf := range valuationTimeframes() {
		histValue := hist[tf] + portfolio.InitialCash
		updates = append(updates, docstore.Update{
			Path:  []string{"returns_" + string(tf)},
			Value: currentValue/histValue - 1,
		})
	}
	updates = append(updates, docstore.Update{Path: []string{"current_value"}, Value: currentValue})
	return updates, nil
}

// positionValue marks one held quantity to a market snapshot.
func positionValue(snap types.Snapshot, q types.Quantity) (float64, error) {
	if snap.IsTeam() != q.IsVector() {
		return 0, fmt.Errorf("quantity shape does not match market")
	}
	if snap.IsTeam() {
		maker, err := lmsr.NewMaker(snap.X, snap.B)
		if err != nil {
			return 0, err
		}
		return maker.SpotValue(q.Vec)
	}
	ls, err := lmsr.NewLongShort(snap.Net(), snap.B)
	if err != nil {
		return 0, err
	}
	return ls.PositionValue(q.Scalar), nil
}

// cachedMarket pairs the live snapshot with the oldest retained history row
// per timeframe, which is the valuation reference.
type cachedMarket struct {
	current types.Snapshot
	refs    map[types.Timeframe]types.Snapshot
}

// marketCache memoises market state for one valuation run so a market held
// by many portfolios is read once.
type marketCache struct {
	store  state.Store
	logger *slog.Logger
	m      map[string]*cachedMarket
}

func newMarketCache(store state.Store, logger *slog.Logger) *marketCache {
	return &marketCache{store: store, logger: logger, m: make(map[string]*cachedMarket)}
}

// fetch loads any ids not yet cached. Markets missing from the store are
// cached as absent so they are neither re-fetched nor valued.
func (c *marketCache) fetch(ctx context.Context, ids []string) error {
	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.m[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	snaps, err := c.store.Snapshots(ctx, missing)
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}
	hists, err := c.store.Histories(ctx, missing)
	if err != nil {
		return fmt.Errorf("read histories: %w", err)
	}

	for i, id := range missing {
		if snaps[i] == nil || hists[i] == nil {
			c.logger.Error("market missing from store, positions ignored", "market", id)
			c.m[id] = nil
			continue
		}
		cm := &cachedMarket{current: *snaps[i], refs: make(map[types.Timeframe]types.Snapshot, 4)}
		ok := true
		for _, tf := range valuationTimeframes() {
			row, err := hists[i].Row(tf, 0)
			if err != nil {
				c.logger.Error("market history empty, positions ignored", "market", id, "timeframe", tf)
				ok = false
				break
			}
			cm.refs[tf] = row
		}
		if !ok {
			c.m[id] = nil
			continue
		}
		c.m[id] = cm
	}
	return nil
}

func (c *marketCache) get(id string) *cachedMarket { return c.m[id] }

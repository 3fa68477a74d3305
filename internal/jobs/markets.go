package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/nickelnine37/sportfolios-server/internal/docstore"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/market"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

const (
	// batchLimit matches the document store's per-batch write ceiling.
	batchLimit = 499
	// maxConcurrentBatches bounds parallel batch commits.
	maxConcurrentBatches = 8
	// chartPoints is the target sample count per price chart.
	chartPoints = 30
)

// marketTimeframes returns the chart windows to rebuild at minute t. The
// job runs hourly; the daily window refreshes every run, the slower windows
// on the first run of their day, week and four-week period.
func marketTimeframes(t int64) []types.Timeframe {
	out := []types.Timeframe{types.Daily}
	if t%weeklyInterval < dailyInterval {
		out = append(out, types.Weekly)
	}
	if t%monthlyInterval < dailyInterval {
		out = append(out, types.Monthly)
	}
	if t%(4*monthlyInterval) < dailyInterval {
		out = append(out, types.LongMonthly)
	}
	return out
}

// leagueGroups splits ids into per-league slices, ordered by league.
// Per-league chunks bound the pipelined state reads and the document
// batches.
func leagueGroups(ids []string) [][]string {
	byLeague := market.SplitByLeague(ids)
	leagues := make([]string, 0, len(byLeague))
	for league := range byLeague {
		leagues = append(leagues, league)
	}
	sort.Strings(leagues)
	out := make([][]string, 0, len(leagues))
	for _, league := range leagues {
		out = append(out, byLeague[league])
	}
	return out
}

// MarketValuer rebuilds the long-price charts and returns figures on every
// market document from the state store's histories.
type MarketValuer struct {
	store   state.Store
	docs    docstore.Store
	dataDir string
	logger  *slog.Logger
}

// NewMarketValuer returns a valuer reading market lists from dataDir.
func NewMarketValuer(store state.Store, docs docstore.Store, dataDir string, logger *slog.Logger) *MarketValuer {
	return &MarketValuer{
		store:   store,
		docs:    docs,
		dataDir: dataDir,
		logger:  logger.With("component", "market_valuer"),
	}
}

type docBatch struct {
	collection string
	docs       map[string][]docstore.Update
}

// Run rebuilds the charts due at minute t and commits them as batched
// document updates, batches in parallel.
func (v *MarketValuer) Run(ctx context.Context, t int64) error {
	tfs := marketTimeframes(t)

	teams, err := state.ReadMarketList(filepath.Join(v.dataDir, state.TeamListFile))
	if err != nil {
		return fmt.Errorf("team list: %w", err)
	}
	players, err := state.ReadMarketList(filepath.Join(v.dataDir, state.PlayerListFile))
	if err != nil {
		return fmt.Errorf("player list: %w", err)
	}

	var batches []docBatch
	for _, group := range leagueGroups(teams) {
		docs, err := v.groupUpdates(ctx, group, tfs)
		if err != nil {
			return err
		}
		batches = append(batches, chunkDocs("teams", docs)...)
	}
	for _, group := range leagueGroups(players) {
		docs, err := v.groupUpdates(ctx, group, tfs)
		if err != nil {
			return err
		}
		batches = append(batches, chunkDocs("players", docs)...)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentBatches)
	for _, b := range batches {
		g.Go(func() error {
			return v.docs.BatchUpdate(gCtx, b.collection, b.docs)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("commit market updates: %w", err)
	}

	v.logger.Info("market valuation complete", "t", t, "timeframes", tfs,
		"teams", len(teams), "players", len(players), "batches", len(batches))
	return nil
}

func (v *MarketValuer) groupUpdates(ctx context.Context, ids []string, tfs []types.Timeframe) (map[string][]docstore.Update, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	snaps, err := v.store.Snapshots(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read snapshots: %w", err)
	}
	hists, err := v.store.Histories(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("read histories: %w", err)
	}

	docs := make(map[string][]docstore.Update, len(ids))
	for i, id := range ids {
		if snaps[i] == nil || hists[i] == nil {
			v.logger.Error("market missing from store, skipping", "market", id)
			continue
		}
		mkt, err := market.Parse(id)
		if err != nil {
			v.logger.Error("unparseable market id, skipping", "market", id, "error", err)
			continue
		}
		updates, err := marketUpdates(mkt, *snaps[i], hists[i], tfs)
		if err != nil {
			v.logger.Error("cannot value market, skipping", "market", id, "error", err)
			continue
		}
		docs[id] = updates
	}
	return docs, nil
}

// marketUpdates builds the field mutations for one market document: a chart
// series and a returns figure per timeframe, plus the current long price.
func marketUpdates(mkt market.Market, snap types.Snapshot, hist *types.History, tfs []types.Timeframe) ([]docstore.Update, error) {
	var q []float64
	if snap.IsTeam() {
		q = lmsr.BackClaim(len(snap.X), mkt.BackDivisor())
	}

	updates := make([]docstore.Update, 0, 2*len(tfs)+1)
	var current float64
	for _, tf := range tfs {
		series, err := longSeries(snap, hist, tf, q)
		if err != nil {
			return nil, fmt.Errorf("%s series: %w", tf, err)
		}
		first := series[0]
		current = series[len(series)-1]
		updates = append(updates,
			docstore.Update{Path: []string{"long_price_hist", string(tf)}, Value: series},
			docstore.Update{Path: []string{"long_price_returns_" + string(tf)}, Value: current/first - 1},
		)
	}
	updates = append(updates, docstore.Update{Path: []string{"long_price_current"}, Value: current})
	return updates, nil
}

// longSeries samples the tf history at roughly chartPoints points and
// appends the current snapshot, then values the long position at every
// sampled row.
func longSeries(snap types.Snapshot, hist *types.History, tf types.Timeframe, q []float64) ([]float64, error) {
	n := hist.Len(tf)
	stride := n / chartPoints
	if stride < 1 {
		stride = 1
	}

	if snap.IsTeam() {
		xs := make([][]float64, 0, n/stride+2)
		bs := make([]float64, 0, n/stride+2)
		for i := 0; i < n; i += stride {
			xs = append(xs, hist.X[tf][i])
			bs = append(bs, hist.B[tf][i])
		}
		xs = append(xs, snap.X)
		bs = append(bs, snap.B)
		mm, err := lmsr.NewMultiMaker(xs, bs)
		if err != nil {
			return nil, err
		}
		return mm.SpotValues(q)
	}

	ns := make([]float64, 0, n/stride+2)
	bs := make([]float64, 0, n/stride+2)
	for i := 0; i < n; i += stride {
		ns = append(ns, hist.N[tf][i])
		bs = append(bs, hist.B[tf][i])
	}
	ns = append(ns, snap.Net())
	bs = append(bs, snap.B)
	mls, err := lmsr.NewMultiLongShort(ns, bs)
	if err != nil {
		return nil, err
	}
	return mls.SpotLongs(), nil
}

func chunkDocs(collection string, docs map[string][]docstore.Update) []docBatch {
	if len(docs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []docBatch
	for start := 0; start < len(ids); start += batchLimit {
		end := start + batchLimit
		if end > len(ids) {
			end = len(ids)
		}
		part := make(map[string][]docstore.Update, end-start)
		for _, id := range ids[start:end] {
			part[id] = docs[id]
		}
		out = append(out, docBatch{collection: collection, docs: part})
	}
	return out
}

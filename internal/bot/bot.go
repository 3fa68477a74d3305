// Package bot simulates liquidity. On each run it selects a random subset
// of markets, perturbs the target belief for each one and commits a
// bounded-budget trade that pushes the quoted price toward that belief.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// selectionDivisor: one in six markets trades per run.
const selectionDivisor = 6

// EventSink receives an event for every committed bot trade. Implementations
// must not block.
type EventSink interface {
	Publish(types.MarketEvent)
}

// TradeRecord is one committed bot trade, as written to the run's log file.
type TradeRecord struct {
	Market   string         `json:"market"`
	Quantity types.Quantity `json:"quantity"`
	Team     bool           `json:"team"`
	Long     *bool          `json:"long"`
	Cost     float64        `json:"cost"`
}

// Bot nudges market prices toward the belief files in the data directory.
// It is the only writer at its cadence, so it reads the selected snapshots
// in bulk, edits them in place and writes them back in bulk.
type Bot struct {
	store        state.Store
	dataDir      string
	logDir       string
	budgetFactor float64
	noise        bool
	events       EventSink
	logger       *slog.Logger
	rng          *rand.Rand
	now          func() time.Time
}

// New wires the bot. events may be nil.
func New(store state.Store, cfg config.BotConfig, dataDir string, events EventSink, logger *slog.Logger) *Bot {
	return &Bot{
		store:        store,
		dataDir:      dataDir,
		logDir:       cfg.LogDir,
		budgetFactor: cfg.BudgetFactor,
		noise:        cfg.Noise,
		events:       events,
		logger:       logger.With("component", "bot"),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
	}
}

// Run executes one trading pass. Per-market failures are logged and skipped;
// only belief-file and store errors abort the run.
func (b *Bot) Run(ctx context.Context, t int64) error {
	playerBeliefs, err := b.playerBeliefs()
	if err != nil {
		return err
	}
	teamBeliefs, err := b.teamBeliefs()
	if err != nil {
		return err
	}

	changed := make(map[string]*types.Snapshot)
	var records []TradeRecord

	players := b.sample(keysOf(playerBeliefs))
	snaps, err := b.store.Snapshots(ctx, players)
	if err != nil {
		return fmt.Errorf("read player snapshots: %w", err)
	}
	for i, market := range players {
		snap := snaps[i]
		if snap == nil || snap.IsTeam() {
			b.logger.Error("player market missing or malformed, skipping", "market", market)
			continue
		}
		m := playerBeliefs[market]
		if b.noise {
			m = b.perturbPlayer(m)
		}
		n, long, cost, err := b.optimalPlayerTrade(m, snap.Net(), snap.B)
		if err != nil {
			b.logger.Error("player trade failed", "market", market, "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		net := snap.Net() + n*directionSign(long)
		snap.N = &net
		changed[market] = snap
		isLong := long
		records = append(records, TradeRecord{
			Market:   market,
			Quantity: types.ScalarQuantity(round2(n)),
			Team:     false,
			Long:     &isLong,
			Cost:     round2(cost),
		})
	}

	teams := b.sample(keysOf(teamBeliefs))
	snaps, err = b.store.Snapshots(ctx, teams)
	if err != nil {
		return fmt.Errorf("read team snapshots: %w", err)
	}
	for i, market := range teams {
		snap := snaps[i]
		if snap == nil || !snap.IsTeam() {
			b.logger.Error("team market missing or malformed, skipping", "market", market)
			continue
		}
		m := teamBeliefs[market]
		if len(m) != len(snap.X) {
			b.logger.Error("belief length does not match market, skipping",
				"market", market, "belief", len(m), "outcomes", len(snap.X))
			continue
		}
		if b.noise {
			m = b.perturbTeam(m)
		}
		q, cost, err := b.optimalTeamTrade(m, snap.X, snap.B)
		if err != nil {
			b.logger.Error("team trade failed", "market", market, "error", err)
			continue
		}
		if q == nil {
			continue
		}
		for j, v := range q {
			snap.X[j] += v
		}
		changed[market] = snap
		records = append(records, TradeRecord{
			Market:   market,
			Quantity: types.VectorQuantity(q),
			Team:     true,
			Long:     nil,
			Cost:     round2(cost),
		})
	}

	if len(changed) > 0 {
		if err := b.store.PutSnapshots(ctx, changed); err != nil {
			return fmt.Errorf("write bot trades: %w", err)
		}
	}

	now := b.now()
	if err := b.writeTradeLog(records, now); err != nil {
		b.logger.Error("cannot write trade log", "error", err)
	}
	b.publish(records, now)

	b.logger.Info("trading pass complete", "t", t,
		"players", len(players), "teams", len(teams), "trades", len(records))
	return nil
}

// sample draws len/6 ids uniformly without replacement.
func (b *Bot) sample(ids []string) []string {
	k := len(ids) / selectionDivisor
	if k == 0 && len(ids) > 0 {
		k = 1
	}
	perm := b.rng.Perm(len(ids))
	out := make([]string, 0, k)
	for _, i := range perm[:k] {
		out = append(out, ids[i])
	}
	return out
}

func (b *Bot) playerBeliefs() (map[string]float64, error) {
	raw, err := os.ReadFile(filepath.Join(b.dataDir, state.PlayerBeliefsFile))
	if err != nil {
		return nil, fmt.Errorf("read player beliefs: %w", err)
	}
	var out map[string]float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode player beliefs: %w", err)
	}
	return out, nil
}

func (b *Bot) teamBeliefs() (map[string][]float64, error) {
	raw, err := os.ReadFile(filepath.Join(b.dataDir, state.TeamBeliefsFile))
	if err != nil {
		return nil, fmt.Errorf("read team beliefs: %w", err)
	}
	var out map[string][]float64
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode team beliefs: %w", err)
	}
	return out, nil
}

// writeTradeLog drops the run's trades under logs/trades/DD_MM_YYYY, one
// file per run named by the Unix second.
func (b *Bot) writeTradeLog(records []TradeRecord, now time.Time) error {
	if records == nil {
		records = []TradeRecord{}
	}
	dir := filepath.Join(b.logDir, "trades", now.Format("02_01_2006"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create trade log dir: %w", err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode trade log: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.json", now.Unix()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write trade log: %w", err)
	}
	return nil
}

func (b *Bot) publish(records []TradeRecord, now time.Time) {
	if b.events == nil {
		return
	}
	for _, r := range records {
		b.events.Publish(types.MarketEvent{
			Type:   types.EventBotTrade,
			Market: r.Market,
			Price:  r.Cost,
			Time:   now,
		})
	}
}

func keysOf[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func directionSign(long bool) float64 {
	if long {
		return 1
	}
	return -1
}

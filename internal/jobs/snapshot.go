package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// Minute intervals between appends for the fixed rolling windows. The
// long-monthly interval is persisted in the store because it doubles over
// time.
const (
	hourlyInterval  = 2
	dailyInterval   = 60
	weeklyInterval  = 1440
	monthlyInterval = 10080
)

// ActiveTimeframes returns the rolling windows due an append at minute
// counter t. The long-monthly window fires every maxInterval minutes.
func ActiveTimeframes(t, maxInterval int64) []types.Timeframe {
	if maxInterval <= 0 {
		maxInterval = state.DefaultMaxInterval
	}
	var out []types.Timeframe
	for _, c := range []struct {
		tf       types.Timeframe
		interval int64
	}{
		{types.Hourly, hourlyInterval},
		{types.Daily, dailyInterval},
		{types.Weekly, weeklyInterval},
		{types.Monthly, monthlyInterval},
		{types.LongMonthly, maxInterval},
	} {
		if t%c.interval == 0 {
			out = append(out, c.tf)
		}
	}
	return out
}

// Snapshotter appends the current inventory of every market to its rolling
// histories, one series per active timeframe, and keeps the shared time log
// aligned with them.
type Snapshotter struct {
	store   state.Store
	dataDir string
	logger  *slog.Logger
	now     func() time.Time
}

// NewSnapshotter returns a snapshotter reading market lists from dataDir.
func NewSnapshotter(store state.Store, dataDir string, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		store:   store,
		dataDir: dataDir,
		logger:  logger.With("component", "snapshotter"),
		now:     time.Now,
	}
}

// Run performs one snapshot pass for minute counter t. Market lists are
// re-read from disk every pass so newly listed markets are picked up without
// a restart. All history writes land before the time-log write; readers
// tolerate the brief skew by truncating series to the time log's length.
func (s *Snapshotter) Run(ctx context.Context, t int64) error {
	maxInterval, err := s.store.MaxInterval(ctx)
	if err != nil {
		return fmt.Errorf("read max_interval: %w", err)
	}

	tfs := ActiveTimeframes(t, maxInterval)
	if len(tfs) == 0 {
		return nil
	}

	teams, err := state.ReadMarketList(filepath.Join(s.dataDir, state.TeamListFile))
	if err != nil {
		return fmt.Errorf("team list: %w", err)
	}
	if err := s.appendHistories(ctx, teams, tfs); err != nil {
		return err
	}

	players, err := state.ReadMarketList(filepath.Join(s.dataDir, state.PlayerListFile))
	if err != nil {
		return fmt.Errorf("player list: %w", err)
	}
	for _, group := range leagueGroups(players) {
		if err := s.appendHistories(ctx, group, tfs); err != nil {
			return err
		}
	}

	double, err := s.appendTimeLog(ctx, tfs)
	if err != nil {
		return err
	}
	if double {
		if err := s.store.SetMaxInterval(ctx, maxInterval*2); err != nil {
			return fmt.Errorf("double max_interval: %w", err)
		}
		s.logger.Info("long-monthly interval doubled", "max_interval", maxInterval*2)
	}

	s.logger.Info("snapshot pass complete", "t", t, "timeframes", tfs,
		"teams", len(teams), "players", len(players))
	return nil
}

func (s *Snapshotter) appendHistories(ctx context.Context, markets []string, tfs []types.Timeframe) error {
	if len(markets) == 0 {
		return nil
	}
	snaps, err := s.store.Snapshots(ctx, markets)
	if err != nil {
		return fmt.Errorf("read snapshots: %w", err)
	}
	hists, err := s.store.Histories(ctx, markets)
	if err != nil {
		return fmt.Errorf("read histories: %w", err)
	}

	updated := make(map[string]*types.History, len(markets))
	for i, id := range markets {
		if snaps[i] == nil || hists[i] == nil {
			s.logger.Error("market missing from store, skipping", "market", id)
			continue
		}
		hist := hists[i]
		for _, tf := range tfs {
			hist.Append(tf, *snaps[i])
			if hist.Len(tf) > tf.RetentionCap() {
				if tf == types.LongMonthly {
					hist.Thin(tf)
				} else {
					hist.DropOldest(tf)
				}
			}
		}
		updated[id] = hist
	}
	if len(updated) == 0 {
		return nil
	}
	return s.store.PutHistories(ctx, updated)
}

// appendTimeLog stamps now onto each updated timeframe. It reports whether
// the long-monthly series overflowed, which is the signal to double
// max_interval.
func (s *Snapshotter) appendTimeLog(ctx context.Context, tfs []types.Timeframe) (bool, error) {
	tl, err := s.store.TimeLog(ctx)
	if errors.Is(err, state.ErrNotFound) {
		tl = types.NewTimeLog()
	} else if err != nil {
		return false, fmt.Errorf("read time log: %w", err)
	}

	now := s.now().Unix()
	var double bool
	for _, tf := range tfs {
		tl.Append(tf, now)
		if tl.Len(tf) > tf.RetentionCap() {
			if tf == types.LongMonthly {
				tl.Thin(tf)
				double = true
			} else {
				tl.DropOldest(tf)
			}
		}
	}
	if err := s.store.PutTimeLog(ctx, tl); err != nil {
		return false, fmt.Errorf("write time log: %w", err)
	}
	return double, nil
}

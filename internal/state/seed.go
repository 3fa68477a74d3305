package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// Initial liquidity for freshly seeded markets.
const (
	TeamLiquidity   = 4000
	PlayerLiquidity = 100
)

// DefaultTeamOutcomes sizes a team inventory vector when the belief file has
// no entry for the market.
const DefaultTeamOutcomes = 20

// Seed rows give new markets a full flat history so charts render
// immediately.
const seedRows = 60

// Well-known files in the data directory.
const (
	TeamListFile      = "teams.txt"
	PlayerListFile    = "players.txt"
	TeamBeliefsFile   = "team_ms.json"
	PlayerBeliefsFile = "player_ms.json"
)

// Seed describes the initial market universe consumed by the admin init
// operation: team markets with their outcome counts and player market ids
// (which start flat at N=0).
type Seed struct {
	Teams   map[string]int
	Players []string
}

// LoadSeed builds a seed from the data directory. teams.txt and players.txt
// hold newline-delimited market ids; team_ms.json sizes each team's outcome
// vector.
func LoadSeed(dir string) (*Seed, error) {
	teams, err := ReadMarketList(filepath.Join(dir, TeamListFile))
	if err != nil {
		return nil, err
	}
	players, err := ReadMarketList(filepath.Join(dir, PlayerListFile))
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]int, len(teams))
	raw, err := os.ReadFile(filepath.Join(dir, TeamBeliefsFile))
	switch {
	case err == nil:
		var beliefs map[string][]float64
		if err := json.Unmarshal(raw, &beliefs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", TeamBeliefsFile, err)
		}
		for market, m := range beliefs {
			sizes[market] = len(m)
		}
	case os.IsNotExist(err):
		// sizes fall back to the default below
	default:
		return nil, fmt.Errorf("read %s: %w", TeamBeliefsFile, err)
	}

	s := &Seed{Teams: make(map[string]int, len(teams)), Players: players}
	for _, market := range teams {
		n := sizes[market]
		if n == 0 {
			n = DefaultTeamOutcomes
		}
		s.Teams[market] = n
	}
	return s, nil
}

// ReadMarketList reads a newline-delimited market-id file, skipping blanks.
func ReadMarketList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read market list: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// Apply seeds every market absent from the store with its initial snapshot
// and a flat prefilled history, leaving existing markets untouched. On a
// store with no time log yet it also writes a backdated time log and resets
// the minute counter and long-monthly cadence. Returns the number of
// markets created.
func (s *Seed) Apply(ctx context.Context, store Store, now time.Time) (int, error) {
	snaps := make(map[string]*types.Snapshot)
	hists := make(map[string]*types.History)

	add := func(market string, snap types.Snapshot) error {
		ok, err := store.Exists(ctx, market)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		hist := types.NewHistory(snap.IsTeam())
		for _, tf := range types.Timeframes() {
			for i := 0; i < seedRows; i++ {
				hist.Append(tf, snap)
			}
		}
		snaps[market] = &snap
		hists[market] = hist
		return nil
	}

	for market, n := range s.Teams {
		if n <= 0 {
			return 0, fmt.Errorf("seed team %s has outcome count %d", market, n)
		}
		if err := add(market, types.TeamSnapshot(make([]float64, n), TeamLiquidity)); err != nil {
			return 0, err
		}
	}
	for _, market := range s.Players {
		if err := add(market, types.PlayerSnapshot(0, PlayerLiquidity)); err != nil {
			return 0, err
		}
	}

	if len(snaps) > 0 {
		if err := store.PutSnapshots(ctx, snaps); err != nil {
			return 0, err
		}
		if err := store.PutHistories(ctx, hists); err != nil {
			return 0, err
		}
	}

	if _, err := store.TimeLog(ctx); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return 0, err
		}
		if err := store.PutTimeLog(ctx, backdatedTimeLog(now, DefaultMaxInterval)); err != nil {
			return 0, err
		}
		if err := store.SetMinute(ctx, 0); err != nil {
			return 0, err
		}
		if err := store.SetMaxInterval(ctx, DefaultMaxInterval); err != nil {
			return 0, err
		}
	}

	return len(snaps), nil
}

// backdatedTimeLog spaces the prefilled rows by each timeframe's cadence so
// that seeded histories read as a flat line over a plausible span.
func backdatedTimeLog(now time.Time, maxInterval int64) types.TimeLog {
	intervals := map[types.Timeframe]int64{
		types.Hourly:      2,
		types.Daily:       60,
		types.Weekly:      60 * 24,
		types.Monthly:     60 * 24 * 7,
		types.LongMonthly: maxInterval,
	}

	tl := types.NewTimeLog()
	for tf, step := range intervals {
		for i := int64(seedRows - 1); i >= 0; i-- {
			tl.Append(tf, now.Add(-time.Duration(i*step)*time.Minute).Unix())
		}
	}
	return tl
}

// Sportfolios inspect — operator CLI that dumps live market state from the
// state store as a table: inventory shape, liquidity and current back price.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/redis/go-redis/v9"

	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/market"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the config file")
	marketsFlag := flag.String("markets", "", "comma-separated market ids (default: every listed market)")
	flag.Parse()

	if err := run(*cfgPath, *marketsFlag); err != nil {
		slog.Error("inspect failed", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath, marketsFlag string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ids, err := resolveMarkets(marketsFlag, cfg.Data.Dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no markets to inspect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()
	store := state.NewRedis(client)
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
	}

	snaps, err := store.Snapshots(ctx, ids)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Market", "Kind", "League", "b", "Inventory", "Back price")

	var missing int
	for i, id := range ids {
		snap := snaps[i]
		if snap == nil {
			missing++
			table.Append(id, "-", "-", "-", "absent", "-")
			continue
		}
		m, err := market.Parse(id)
		if err != nil {
			table.Append(id, "-", "-", "-", "unparseable", "-")
			continue
		}
		table.Append(
			id,
			m.Kind.String(),
			m.League,
			fmt.Sprintf("%.0f", snap.B),
			describeInventory(*snap),
			describeBackPrice(m, *snap),
		)
	}
	table.Render()

	fmt.Printf("%d markets, %d absent\n", len(ids), missing)
	return nil
}

// resolveMarkets takes the explicit csv if given, otherwise the full listed
// universe from the data directory.
func resolveMarkets(marketsFlag, dataDir string) ([]string, error) {
	if marketsFlag != "" {
		return strings.Split(marketsFlag, ","), nil
	}

	teams, err := state.ReadMarketList(filepath.Join(dataDir, state.TeamListFile))
	if err != nil {
		return nil, err
	}
	players, err := state.ReadMarketList(filepath.Join(dataDir, state.PlayerListFile))
	if err != nil {
		return nil, err
	}
	return append(teams, players...), nil
}

func describeInventory(snap types.Snapshot) string {
	if !snap.IsTeam() {
		return fmt.Sprintf("net %.2f", snap.Net())
	}
	var total float64
	for _, v := range snap.X {
		total += math.Abs(v)
	}
	return fmt.Sprintf("%d outcomes, |x| %.2f", len(snap.X), total)
}

func describeBackPrice(m market.Market, snap types.Snapshot) string {
	if snap.IsTeam() {
		maker, err := lmsr.NewMaker(snap.X, snap.B)
		if err != nil {
			return "-"
		}
		return fmt.Sprintf("%.4f", maker.BackPrice(m.BackDivisor()))
	}
	ls, err := lmsr.NewLongShort(snap.Net(), snap.B)
	if err != nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", ls.SpotLong())
}

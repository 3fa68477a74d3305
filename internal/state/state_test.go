package state

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

func TestMemorySnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	team := types.TeamSnapshot([]float64{1, 2, 3}, 4000)
	player := types.PlayerSnapshot(-7.5, 100)
	err := m.PutSnapshots(ctx, map[string]*types.Snapshot{
		"1:8:17420T":  &team,
		"99:8:17420P": &player,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := m.Snapshot(ctx, "1:8:17420T")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(team) {
		t.Errorf("team snapshot round trip: got %+v", got)
	}

	got, err = m.Snapshot(ctx, "99:8:17420P")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(player) {
		t.Errorf("player snapshot round trip: got %+v", got)
	}

	if _, err := m.Snapshot(ctx, "0:0:0T"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing market: got %v, want ErrNotFound", err)
	}

	ok, err := m.Exists(ctx, "1:8:17420T")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestMemorySnapshotsAlignment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	a := types.TeamSnapshot([]float64{0, 0}, 4000)
	c := types.PlayerSnapshot(2, 100)
	if err := m.PutSnapshots(ctx, map[string]*types.Snapshot{"aT": &a, "cP": &c}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Snapshots(ctx, []string{"aT", "missingT", "cP"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 aligned entries, got %d", len(got))
	}
	if got[0] == nil || got[2] == nil {
		t.Fatal("present markets decoded as nil")
	}
	if got[1] != nil {
		t.Errorf("missing market should be nil, got %+v", got[1])
	}
}

func TestMemoryUpdateSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	snap := types.TeamSnapshot([]float64{0, 0, 0}, 4000)
	if err := m.PutSnapshots(ctx, map[string]*types.Snapshot{"mT": &snap}); err != nil {
		t.Fatal(err)
	}

	committed, err := m.UpdateSnapshot(ctx, "mT", 100, func(s *types.Snapshot) error {
		s.X[0] += 5
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if committed.X[0] != 5 {
		t.Errorf("committed x[0] = %v", committed.X[0])
	}

	stored, err := m.Snapshot(ctx, "mT")
	if err != nil {
		t.Fatal(err)
	}
	if stored.X[0] != 5 {
		t.Errorf("stored x[0] = %v", stored.X[0])
	}

	boom := errors.New("boom")
	if _, err := m.UpdateSnapshot(ctx, "mT", 100, func(*types.Snapshot) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("apply error should propagate, got %v", err)
	}
	stored, _ = m.Snapshot(ctx, "mT")
	if stored.X[0] != 5 {
		t.Errorf("failed apply must not write, x[0] = %v", stored.X[0])
	}

	if _, err := m.UpdateSnapshot(ctx, "nopeT", 100, func(*types.Snapshot) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown market: got %v, want ErrNotFound", err)
	}
}

func TestMemoryPendingOneShot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	payload := []byte(`{"market":"mT"}`)
	if err := m.SetPending(ctx, "abc123", payload, time.Minute); err != nil {
		t.Fatal(err)
	}

	got, err := m.TakePending(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload round trip: %s", got)
	}

	if _, err := m.TakePending(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second take: got %v, want ErrNotFound", err)
	}

	if err := m.SetPending(ctx, "expired", payload, -time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := m.TakePending(ctx, "expired"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired take: got %v, want ErrNotFound", err)
	}
}

func TestMemoryUndoQueue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	if err := m.EnqueueUndo(ctx, "due", []byte("a"), now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := m.EnqueueUndo(ctx, "later", []byte("b"), now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	ids, err := m.DueUndos(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "due" {
		t.Fatalf("due ids = %v", ids)
	}

	payload, err := m.ClaimUndo(ctx, "due")
	if err != nil {
		t.Fatal(err)
	}
	if string(payload) != "a" {
		t.Errorf("payload = %s", payload)
	}

	// The claim is the lock: a second claim loses.
	if _, err := m.ClaimUndo(ctx, "due"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second claim: got %v, want ErrNotFound", err)
	}
}

func TestMemoryCounters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	if n, err := m.Minute(ctx); err != nil || n != 0 {
		t.Errorf("fresh minute counter = %d, %v", n, err)
	}
	if err := m.SetMinute(ctx, 62); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.Minute(ctx); n != 62 {
		t.Errorf("minute counter = %d", n)
	}

	if n, err := m.MaxInterval(ctx); err != nil || n != DefaultMaxInterval {
		t.Errorf("fresh max interval = %d, %v", n, err)
	}
	if err := m.SetMaxInterval(ctx, 2*DefaultMaxInterval); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.MaxInterval(ctx); n != 2*DefaultMaxInterval {
		t.Errorf("max interval = %d", n)
	}
}

func TestSeedApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	now := time.Unix(1_700_000_000, 0)

	seed := &Seed{
		Teams:   map[string]int{"1:8:17420T": 4},
		Players: []string{"99:8:17420P", "100:8:17420P"},
	}

	created, err := seed.Apply(ctx, m, now)
	if err != nil {
		t.Fatal(err)
	}
	if created != 3 {
		t.Fatalf("created = %d, want 3", created)
	}

	team, err := m.Snapshot(ctx, "1:8:17420T")
	if err != nil {
		t.Fatal(err)
	}
	if !team.IsTeam() || team.B != TeamLiquidity || len(team.X) != 4 {
		t.Errorf("team seed snapshot = %+v", team)
	}

	player, err := m.Snapshot(ctx, "99:8:17420P")
	if err != nil {
		t.Fatal(err)
	}
	if player.IsTeam() || player.B != PlayerLiquidity || player.Net() != 0 {
		t.Errorf("player seed snapshot = %+v", player)
	}

	hist, err := m.History(ctx, "1:8:17420T")
	if err != nil {
		t.Fatal(err)
	}
	for _, tf := range types.Timeframes() {
		if hist.Len(tf) != 60 {
			t.Errorf("seed history %q length = %d", tf, hist.Len(tf))
		}
		if len(hist.X[tf]) != len(hist.B[tf]) {
			t.Errorf("seed history %q axis skew", tf)
		}
	}

	tl, err := m.TimeLog(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, tf := range types.Timeframes() {
		if tl.Len(tf) != 60 {
			t.Errorf("seed time log %q length = %d", tf, tl.Len(tf))
		}
		rows := tl[tf]
		for i := 1; i < len(rows); i++ {
			if rows[i] <= rows[i-1] {
				t.Errorf("seed time log %q not increasing at %d", tf, i)
				break
			}
		}
		if rows[len(rows)-1] != now.Unix() {
			t.Errorf("seed time log %q should end at now", tf)
		}
	}

	if n, _ := m.MaxInterval(ctx); n != DefaultMaxInterval {
		t.Errorf("seed max interval = %d", n)
	}

	// A second apply must leave live state untouched.
	if _, err := m.UpdateSnapshot(ctx, "1:8:17420T", 1, func(s *types.Snapshot) error {
		s.X[0] = 42
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	created, err = seed.Apply(ctx, m, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if created != 0 {
		t.Errorf("re-apply created = %d, want 0", created)
	}
	team, _ = m.Snapshot(ctx, "1:8:17420T")
	if team.X[0] != 42 {
		t.Errorf("re-apply overwrote live inventory: %v", team.X)
	}
}

func TestLoadSeed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(TeamListFile, "1:8:17420T\n2:8:17420T\n\n")
	write(PlayerListFile, "99:8:17420P\n")
	write(TeamBeliefsFile, `{"1:8:17420T": [0.1, 0.2, 0.3, 0.4]}`)

	seed, err := LoadSeed(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(seed.Teams) != 2 || len(seed.Players) != 1 {
		t.Fatalf("seed = %+v", seed)
	}
	if seed.Teams["1:8:17420T"] != 4 {
		t.Errorf("belief-sized team has %d outcomes", seed.Teams["1:8:17420T"])
	}
	if seed.Teams["2:8:17420T"] != DefaultTeamOutcomes {
		t.Errorf("unsized team has %d outcomes, want default", seed.Teams["2:8:17420T"])
	}

	if _, err := LoadSeed(filepath.Join(dir, "absent")); err == nil {
		t.Error("missing data dir should error")
	}
}

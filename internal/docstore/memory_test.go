package docstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryAddGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "portfolios", map[string]any{
		"user": "u1",
		"cash": 500,
		"holdings": map[string]any{
			"1:8:17420T": []any{1.0, 2.0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty generated id")
	}

	doc, err := m.Get(ctx, "portfolios", id)
	if err != nil {
		t.Fatal(err)
	}
	// Numbers normalize to float64 like the real backend wire shape.
	if doc["cash"].(float64) != 500 {
		t.Errorf("cash = %v", doc["cash"])
	}

	// Mutating the returned copy must not leak into the store.
	doc["cash"] = 0.0
	again, _ := m.Get(ctx, "portfolios", id)
	if again["cash"].(float64) != 500 {
		t.Error("Get returned an aliased document")
	}

	if _, err := m.Get(ctx, "portfolios", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing doc: got %v, want ErrNotFound", err)
	}
}

func TestMemoryUpdateSentinels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	id, err := m.Add(ctx, "portfolios", map[string]any{
		"cash": 500.0,
		"holdings": map[string]any{
			"aT": []any{1.0},
			"bP": 2.0,
		},
		"transactions": []any{},
	})
	if err != nil {
		t.Fatal(err)
	}

	tx := map[string]any{"market": "bP", "quantity": 3.0, "price": 1.5, "time": 1000.0}
	err = m.Update(ctx, "portfolios", id, []Update{
		{Path: []string{"cash"}, Value: Increment(-1.5)},
		{Path: []string{"holdings", "aT"}, Value: Delete},
		{Path: []string{"holdings", "bP"}, Value: 5.0},
		{Path: []string{"transactions"}, Value: ArrayUnion(tx)},
	})
	if err != nil {
		t.Fatal(err)
	}

	doc, _ := m.Get(ctx, "portfolios", id)
	if doc["cash"].(float64) != 498.5 {
		t.Errorf("cash = %v", doc["cash"])
	}
	holdings := doc["holdings"].(map[string]any)
	if _, ok := holdings["aT"]; ok {
		t.Error("deleted field still present")
	}
	if holdings["bP"].(float64) != 5.0 {
		t.Errorf("holdings.bP = %v", holdings["bP"])
	}
	txs := doc["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("transactions = %v", txs)
	}

	// Union skips elements already present.
	if err := m.Update(ctx, "portfolios", id, []Update{
		{Path: []string{"transactions"}, Value: ArrayUnion(tx)},
	}); err != nil {
		t.Fatal(err)
	}
	doc, _ = m.Get(ctx, "portfolios", id)
	if got := len(doc["transactions"].([]any)); got != 1 {
		t.Errorf("array union duplicated: len = %d", got)
	}

	if err := m.Update(ctx, "portfolios", "missing", []Update{{Path: []string{"cash"}, Value: 1.0}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("update on missing doc: got %v, want ErrNotFound", err)
	}
}

func TestMemoryMergeCreates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	if err := m.Merge(ctx, "users", "u1", map[string]any{
		"portfolios": ArrayUnion("p1"),
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Merge(ctx, "users", "u1", map[string]any{
		"portfolios": ArrayUnion("p2", "p1"),
	}); err != nil {
		t.Fatal(err)
	}

	doc, err := m.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatal(err)
	}
	got := doc["portfolios"].([]any)
	if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
		t.Errorf("portfolios = %v", got)
	}
}

func TestMemoryBatchUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	ids := make([]string, 3)
	for i := range ids {
		id, err := m.Add(ctx, "teams", map[string]any{"long_price_current": 0.0})
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = id
	}

	docs := make(map[string][]Update, len(ids))
	for i, id := range ids {
		docs[id] = []Update{{Path: []string{"long_price_current"}, Value: float64(i + 1)}}
	}
	if err := m.BatchUpdate(ctx, "teams", docs); err != nil {
		t.Fatal(err)
	}
	for i, id := range ids {
		doc, _ := m.Get(ctx, "teams", id)
		if doc["long_price_current"].(float64) != float64(i+1) {
			t.Errorf("doc %d price = %v", i, doc["long_price_current"])
		}
	}

	// One missing document fails the whole batch before any write.
	docs["missing"] = []Update{{Path: []string{"long_price_current"}, Value: 9.0}}
	docs[ids[0]] = []Update{{Path: []string{"long_price_current"}, Value: 99.0}}
	if err := m.BatchUpdate(ctx, "teams", docs); !errors.Is(err, ErrNotFound) {
		t.Fatalf("batch with missing doc: got %v", err)
	}
	doc, _ := m.Get(ctx, "teams", ids[0])
	if doc["long_price_current"].(float64) == 99.0 {
		t.Error("failed batch applied a partial write")
	}
}

func TestMemoryStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := m.Merge(ctx, "portfolios", name, map[string]any{"name": name}); err != nil {
			t.Fatal(err)
		}
	}

	var seen []string
	err := m.Stream(ctx, "portfolios", func(id string, doc map[string]any) error {
		seen = append(seen, id)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != "alpha" || seen[2] != "gamma" {
		t.Errorf("streamed ids = %v", seen)
	}

	boom := errors.New("boom")
	err = m.Stream(ctx, "portfolios", func(string, map[string]any) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("stream error should propagate, got %v", err)
	}
}

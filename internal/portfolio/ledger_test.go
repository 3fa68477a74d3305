package portfolio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/nickelnine37/sportfolios-server/internal/docstore"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

func testLedger(t *testing.T) (*Ledger, *docstore.Memory) {
	t.Helper()
	docs := docstore.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(docs, logger), docs
}

func seedPortfolio(t *testing.T, docs *docstore.Memory, id string, doc map[string]any) {
	t.Helper()
	if err := docs.Merge(context.Background(), "portfolios", id, doc); err != nil {
		t.Fatalf("seed portfolio %s: %v", id, err)
	}
}

func TestApplyPostsTrade(t *testing.T) {
	t.Parallel()

	ledger, docs := testLedger(t)
	ctx := context.Background()

	seedPortfolio(t, docs, "p1", map[string]any{
		"user": "u1",
		"cash": 500.0,
		"holdings": map[string]any{
			"1:8:17420T": []float64{1, 0, 0, 0},
		},
		"transactions": []any{},
	})

	trade := Trade{
		UID:         "u1",
		PortfolioID: "p1",
		Market:      "1:8:17420T",
		Quantity:    types.VectorQuantity([]float64{0, 2, 0, 1}),
		Price:       1.57,
		Time:        1700000000,
	}
	if err := ledger.Apply(ctx, trade); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	doc, err := docs.Get(ctx, "portfolios", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if cash := doc["cash"].(float64); math.Abs(cash-498.43) > 1e-9 {
		t.Errorf("cash = %v, want 498.43", cash)
	}

	held := doc["holdings"].(map[string]any)["1:8:17420T"].([]any)
	want := []float64{1, 2, 0, 1}
	for i, v := range held {
		if v.(float64) != want[i] {
			t.Errorf("holdings[%d] = %v, want %v", i, v, want[i])
		}
	}

	txs := doc["transactions"].([]any)
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}
	entry := txs[0].(map[string]any)
	if entry["market"] != "1:8:17420T" {
		t.Errorf("entry market = %v", entry["market"])
	}
	if entry["price"].(float64) != 1.57 {
		t.Errorf("entry price = %v, want 1.57", entry["price"])
	}
	if entry["time"].(float64) != 1700000000 {
		t.Errorf("entry time = %v, want 1700000000", entry["time"])
	}
	q := entry["quantity"].([]any)
	if len(q) != 4 || q[1].(float64) != 2 {
		t.Errorf("entry quantity = %v", q)
	}
}

func TestApplyScalarHolding(t *testing.T) {
	t.Parallel()

	ledger, docs := testLedger(t)
	ctx := context.Background()

	seedPortfolio(t, docs, "p1", map[string]any{
		"user":         "u1",
		"cash":         100.0,
		"holdings":     map[string]any{"99:8:17420P": 4.0},
		"transactions": []any{},
	})

	trade := Trade{
		UID:         "u1",
		PortfolioID: "p1",
		Market:      "99:8:17420P",
		Quantity:    types.ScalarQuantity(-10),
		Price:       -48.2,
		Time:        1700000000,
	}
	if err := ledger.Apply(ctx, trade); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	doc, _ := docs.Get(ctx, "portfolios", "p1")
	if held := doc["holdings"].(map[string]any)["99:8:17420P"].(float64); held != -6 {
		t.Errorf("holding = %v, want -6", held)
	}
	if cash := doc["cash"].(float64); math.Abs(cash-148.2) > 1e-9 {
		t.Errorf("cash = %v, want 148.2 after a sale", cash)
	}
}

func TestApplyNearZeroDeletesHolding(t *testing.T) {
	t.Parallel()

	ledger, docs := testLedger(t)
	ctx := context.Background()

	seedPortfolio(t, docs, "p1", map[string]any{
		"user":         "u1",
		"cash":         500.0,
		"holdings":     map[string]any{"1:8:17420T": []float64{1, 0, 2, 0}},
		"transactions": []any{},
	})

	trade := Trade{
		UID:         "u1",
		PortfolioID: "p1",
		Market:      "1:8:17420T",
		Quantity:    types.VectorQuantity([]float64{-1, 0, -1.999, 0}),
		Price:       -2.9,
		Time:        1700000000,
	}
	if err := ledger.Apply(ctx, trade); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	doc, _ := docs.Get(ctx, "portfolios", "p1")
	if _, ok := doc["holdings"].(map[string]any)["1:8:17420T"]; ok {
		t.Error("near-zero holding should have been deleted")
	}
}

func TestApplyRejections(t *testing.T) {
	t.Parallel()

	ledger, docs := testLedger(t)
	ctx := context.Background()

	seedPortfolio(t, docs, "p1", map[string]any{
		"user":         "u1",
		"cash":         5.0,
		"holdings":     map[string]any{},
		"transactions": []any{},
	})

	base := Trade{
		UID:         "u1",
		PortfolioID: "p1",
		Market:      "1:8:17420T",
		Quantity:    types.VectorQuantity([]float64{1, 0}),
		Price:       1,
	}

	missing := base
	missing.PortfolioID = "nope"
	if err := ledger.Apply(ctx, missing); !errors.Is(err, ErrMissing) {
		t.Errorf("missing portfolio: got %v, want ErrMissing", err)
	}

	wrongUser := base
	wrongUser.UID = "u2"
	if err := ledger.Apply(ctx, wrongUser); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("uid mismatch: got %v, want ErrUnauthorized", err)
	}

	broke := base
	broke.Price = 5.01
	if err := ledger.Apply(ctx, broke); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("cash 5 vs price 5.01: got %v, want ErrInsufficientFunds", err)
	}

	// None of the rejections may have touched the document.
	doc, _ := docs.Get(ctx, "portfolios", "p1")
	if cash := doc["cash"].(float64); cash != 5 {
		t.Errorf("cash = %v after rejections, want 5", cash)
	}
	if txs := doc["transactions"].([]any); len(txs) != 0 {
		t.Errorf("got %d transactions after rejections, want 0", len(txs))
	}
}

func TestCreatePortfolio(t *testing.T) {
	t.Parallel()

	ledger, docs := testLedger(t)
	ctx := context.Background()

	if err := docs.Merge(ctx, "users", "u1", map[string]any{"username": "josé"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	id, err := ledger.Create(ctx, "u1", "Top Picks", "my first portfolio", true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a portfolio id")
	}

	doc, err := docs.Get(ctx, "portfolios", id)
	if err != nil {
		t.Fatalf("Get created portfolio: %v", err)
	}
	if doc["user"] != "u1" || doc["name"] != "Top Picks" {
		t.Errorf("owner/name = %v/%v", doc["user"], doc["name"])
	}
	if doc["cash"].(float64) != InitialCash || doc["current_value"].(float64) != InitialCash {
		t.Errorf("cash/current_value = %v/%v, want %v", doc["cash"], doc["current_value"], InitialCash)
	}
	if doc["active"] != true || doc["public"] != true {
		t.Errorf("active/public = %v/%v", doc["active"], doc["public"])
	}
	if colours := doc["colours"].([]any); len(colours) != 2 || colours[0] == colours[1] {
		t.Errorf("colours = %v, want two distinct entries", colours)
	}

	terms := doc["search_terms"].([]any)
	got := make(map[string]bool, len(terms))
	for _, term := range terms {
		got[term.(string)] = true
	}
	for _, want := range []string{"t", "top", "picks", "jose"} {
		if !got[want] {
			t.Errorf("search_terms missing %q: %v", want, terms)
		}
	}
	if got["josé"] {
		t.Error("search_terms should be diacritic-folded")
	}

	user, err := docs.Get(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("Get user: %v", err)
	}
	ids := user["portfolios"].([]any)
	if len(ids) != 1 || ids[0] != id {
		t.Errorf("user portfolios = %v, want [%s]", ids, id)
	}

	// A second portfolio appends rather than replaces.
	id2, err := ledger.Create(ctx, "u1", "Second", "", false)
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}
	user, _ = docs.Get(ctx, "users", "u1")
	if ids := user["portfolios"].([]any); len(ids) != 2 || ids[1] != id2 {
		t.Errorf("user portfolios = %v, want two entries ending in %s", ids, id2)
	}
}

func TestSearchTerms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		portName string
		username string
		want     []string
	}{
		{
			name:     "single word",
			portName: "Top",
			username: "",
			want:     []string{"t", "to", "top"},
		},
		{
			name:     "overlapping prefixes deduplicate",
			portName: "aa ab",
			username: "",
			want:     []string{"a", "aa", "ab"},
		},
		{
			name:     "diacritics fold",
			portName: "José",
			username: "",
			want:     []string{"j", "jo", "jos", "jose"},
		},
		{
			name:     "empty inputs",
			portName: "",
			username: "  ",
			want:     []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := SearchTerms(tc.portName, tc.username)
			if len(got) != len(tc.want) {
				t.Fatalf("SearchTerms(%q, %q) = %v, want %v", tc.portName, tc.username, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("term[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

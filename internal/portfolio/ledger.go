// Package portfolio maintains user portfolio documents: cash, the holdings
// map and the append-only transaction ledger.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/docstore"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

var (
	// ErrMissing means the portfolio document does not exist.
	ErrMissing = errors.New("portfolio not found")

	// ErrUnauthorized means the portfolio belongs to a different user.
	ErrUnauthorized = errors.New("portfolio owned by another user")

	// ErrInsufficientFunds means the portfolio cannot cover the trade price.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	// InitialCash is the starting balance of a fresh portfolio.
	InitialCash = 500.0

	// Holdings whose every component ends up within this tolerance of zero
	// are removed from the document rather than stored as numerical dust.
	nearZeroTolerance = 5e-3

	portfolioCollection = "portfolios"
	userCollection      = "users"
)

// Trade is one settled purchase to post against a portfolio. Price is the
// server-side settled price, not the client's expectation. Time is Unix
// seconds; zero means the current wall clock.
type Trade struct {
	UID         string
	PortfolioID string
	Market      string
	Quantity    types.Quantity
	Price       float64
	Time        float64
}

// Ledger posts trades to portfolio documents and creates new portfolios.
type Ledger struct {
	docs   docstore.Store
	logger *slog.Logger
	rng    *rand.Rand
}

func NewLedger(docs docstore.Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		docs:   docs,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Precheck verifies the portfolio exists, belongs to uid and can cover
// price. Apply runs the same checks again at posting time; this front-runs
// them so a doomed purchase never touches market inventory.
func (l *Ledger) Precheck(ctx context.Context, uid, portfolioID string, price float64) error {
	_, err := l.check(ctx, uid, portfolioID, price)
	return err
}

// check loads the portfolio and enforces the ownership and funds rules.
func (l *Ledger) check(ctx context.Context, uid, portfolioID string, price float64) (map[string]any, error) {
	doc, err := l.docs.Get(ctx, portfolioCollection, portfolioID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, portfolioID)
	}
	if err != nil {
		return nil, fmt.Errorf("read portfolio %s: %w", portfolioID, err)
	}

	if owner, _ := doc["user"].(string); owner != uid {
		return nil, fmt.Errorf("%w: portfolio %s", ErrUnauthorized, portfolioID)
	}

	cash, _ := toFloat(doc["cash"])
	if cash < price {
		return nil, fmt.Errorf("%w: cash %.2f, price %.2f", ErrInsufficientFunds, cash, price)
	}
	return doc, nil
}

// Apply posts one settled trade: holdings gain the trade quantity, cash
// drops by the settled price and the transaction ledger records the entry.
// All three mutations go out in a single document update so a crash cannot
// leave the portfolio half-posted.
func (l *Ledger) Apply(ctx context.Context, t Trade) error {
	doc, err := l.check(ctx, t.UID, t.PortfolioID, t.Price)
	if err != nil {
		return err
	}

	newQ := t.Quantity
	if held, ok := holdingQuantity(doc, t.Market); ok {
		newQ, err = held.Add(t.Quantity)
		if err != nil {
			return fmt.Errorf("portfolio %s market %s: %w", t.PortfolioID, t.Market, err)
		}
	}

	holdingValue := any(newQ.Value())
	if newQ.NearZero(nearZeroTolerance) {
		holdingValue = docstore.Delete
	}

	ts := t.Time
	if ts == 0 {
		ts = float64(time.Now().UnixNano()) / 1e9
	}

	updates := []docstore.Update{
		{Path: []string{"holdings", t.Market}, Value: holdingValue},
		{Path: []string{"cash"}, Value: docstore.Increment(-t.Price)},
		{Path: []string{"transactions"}, Value: docstore.ArrayUnion(map[string]any{
			"market":   t.Market,
			"quantity": t.Quantity.Value(),
			"price":    t.Price,
			"time":     ts,
		})},
	}

	if err := l.docs.Update(ctx, portfolioCollection, t.PortfolioID, updates); err != nil {
		return fmt.Errorf("post trade to portfolio %s: %w", t.PortfolioID, err)
	}

	l.logger.Info("trade posted",
		"portfolio", t.PortfolioID,
		"market", t.Market,
		"price", t.Price,
	)
	return nil
}

// Create composes a fresh portfolio document for uid and registers its id
// under the owning user document. Returns the new portfolio id.
func (l *Ledger) Create(ctx context.Context, uid, name, description string, public bool) (string, error) {
	username := l.username(ctx, uid)
	now := float64(time.Now().UnixNano()) / 1e9

	doc := map[string]any{
		"user":          uid,
		"name":          name,
		"description":   description,
		"public":        public,
		"cash":          InitialCash,
		"current_value": InitialCash,
		"holdings":      map[string]any{},
		"transactions":  []any{},
		"returns_d":     0.0,
		"returns_w":     0.0,
		"returns_m":     0.0,
		"returns_M":     0.0,
		"created":       now,
		"active":        true,
		"colours":       l.gradientColours(),
		"search_terms":  SearchTerms(name, username),
	}

	id, err := l.docs.Add(ctx, portfolioCollection, doc)
	if err != nil {
		return "", fmt.Errorf("create portfolio: %w", err)
	}

	if err := l.docs.Merge(ctx, userCollection, uid, map[string]any{
		"portfolios": docstore.ArrayUnion(id),
	}); err != nil {
		return "", fmt.Errorf("register portfolio %s for user %s: %w", id, uid, err)
	}

	l.logger.Info("portfolio created", "portfolio", id, "user", uid)
	return id, nil
}

// username reads the display name off the user document. A missing document
// or field only costs search coverage, so both are tolerated.
func (l *Ledger) username(ctx context.Context, uid string) string {
	doc, err := l.docs.Get(ctx, userCollection, uid)
	if err != nil {
		return ""
	}
	name, _ := doc["username"].(string)
	return name
}

// palette feeds the client's portfolio card gradients.
var palette = []string{
	"#16a085", "#27ae60", "#2980b9", "#8e44ad", "#f39c12",
	"#d35400", "#c0392b", "#1abc9c", "#3498db", "#9b59b6",
}

func (l *Ledger) gradientColours() []string {
	i := l.rng.Intn(len(palette))
	j := l.rng.Intn(len(palette) - 1)
	if j >= i {
		j++
	}
	return []string{palette[i], palette[j]}
}

// holdingQuantity pulls the current position for market out of the document's
// holdings map, coercing the store's dynamic types back into a Quantity.
func holdingQuantity(doc map[string]any, market string) (types.Quantity, bool) {
	holdings, ok := doc["holdings"].(map[string]any)
	if !ok {
		return types.Quantity{}, false
	}

	switch v := holdings[market].(type) {
	case nil:
		return types.Quantity{}, false
	case []float64:
		return types.VectorQuantity(append([]float64(nil), v...)), true
	case []any:
		vec := make([]float64, len(v))
		for i, e := range v {
			f, ok := toFloat(e)
			if !ok {
				return types.Quantity{}, false
			}
			vec[i] = f
		}
		return types.VectorQuantity(vec), true
	default:
		f, ok := toFloat(v)
		if !ok {
			return types.Quantity{}, false
		}
		return types.ScalarQuantity(f), true
	}
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	}
	return 0, false
}

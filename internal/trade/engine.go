package trade

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nickelnine37/sportfolios-server/internal/audit"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/portfolio"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

const (
	commitAttempts = 100
	undoAttempts   = 200

	// pendingTTL bounds how long a disagreed order waits for confirmation
	// before its compensating undo fires.
	pendingTTL = 60 * time.Second
)

var (
	// ErrMarketNotFound reports a purchase against an unknown market.
	ErrMarketNotFound = errors.New("market not found")

	// ErrConfirmationTooLate reports a confirmation whose pending order has
	// expired or whose scheduled undo has already run.
	ErrConfirmationTooLate = errors.New("confirmation too late")

	// ErrTransactionFailed reports a ledger failure after the inventory
	// commit; the inventory has been unwound by the time it surfaces.
	ErrTransactionFailed = errors.New("transaction failed and was unwound")
)

// EventSink receives market events after committed inventory changes.
// Implementations must not block.
type EventSink interface {
	Publish(types.MarketEvent)
}

// Receipt is the outcome of a quoted purchase. When the settled price
// disagrees with the client's expectation, Success is false and CancelID
// identifies the parked order awaiting confirmation.
type Receipt struct {
	Success  bool    `json:"success"`
	Price    float64 `json:"price"`
	CancelID string  `json:"cancelId,omitempty"`
}

// pendingOrder is the JSON payload parked under a cancelId while the client
// decides whether to accept a moved price.
type pendingOrder struct {
	Form   *PurchaseForm `json:"form"`
	UndoID string        `json:"undoId"`
}

// Engine runs the quote/commit protocol against the state store and settles
// agreed trades through the portfolio ledger.
type Engine struct {
	store  state.Store
	ledger *portfolio.Ledger
	audit  *audit.Log
	events EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine wires the trade engine. auditLog and events may be nil.
func NewEngine(store state.Store, ledger *portfolio.Ledger, auditLog *audit.Log, events EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		ledger: ledger,
		audit:  auditLog,
		events: events,
		logger: logger.With("component", "trade"),
		now:    time.Now,
	}
}

// Purchase quotes and commits one purchase. The inventory change commits
// unconditionally once the optimistic lock is won; price agreement only
// decides whether the portfolio settles now or the client is asked to
// confirm while a compensating undo waits in the queue.
func (e *Engine) Purchase(ctx context.Context, form *PurchaseForm) (*Receipt, error) {
	if err := e.ledger.Precheck(ctx, form.UID, form.PortfolioID, form.Price); err != nil {
		return nil, err
	}

	ok, err := e.store.Exists(ctx, form.Market)
	if err != nil {
		return nil, fmt.Errorf("check market %s: %w", form.Market, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, form.Market)
	}

	var truePrice float64
	_, err = e.store.UpdateSnapshot(ctx, form.Market, commitAttempts, func(s *types.Snapshot) error {
		p, err := quote(s, form)
		if err != nil {
			return err
		}
		truePrice = p
		return shift(s, form.Quantity, +1)
	})
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, form.Market)
	}
	if err != nil {
		return nil, err
	}

	expected := form.Price
	agreed := lmsr.Agree(expected, truePrice)
	form.Price = truePrice
	e.emit(types.EventTrade, form.Market, truePrice)
	e.record(ctx, form, agreed)

	if agreed {
		if err := e.settle(ctx, form); err != nil {
			return nil, err
		}
		return &Receipt{Success: true, Price: lmsr.Round2(truePrice)}, nil
	}

	cancelID := freshID()
	undoID := freshID()

	formJSON, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("encode purchase form: %w", err)
	}
	pending, err := json.Marshal(pendingOrder{Form: form, UndoID: undoID})
	if err != nil {
		return nil, fmt.Errorf("encode pending order: %w", err)
	}

	if err := e.store.EnqueueUndo(ctx, undoID, formJSON, e.now().Add(pendingTTL)); err != nil {
		// No scheduled undo exists, so the committed inventory must be
		// unwound right away.
		if undoErr := e.undo(ctx, form); undoErr != nil {
			e.logger.Error("unwind after enqueue failure", "market", form.Market, "error", undoErr)
		}
		return nil, fmt.Errorf("schedule undo: %w", err)
	}
	if err := e.store.SetPending(ctx, cancelID, pending, pendingTTL); err != nil {
		// The queued undo will unwind the inventory on schedule.
		return nil, fmt.Errorf("park pending order: %w", err)
	}

	e.logger.Info("price moved, confirmation pending",
		"market", form.Market,
		"expected", lmsr.Round2(expected),
		"quoted", lmsr.Round2(truePrice),
		"cancel_id", cancelID,
	)
	return &Receipt{Success: false, Price: lmsr.Round2(truePrice), CancelID: cancelID}, nil
}

// Confirm resolves a parked order: accept the moved price or cancel it now.
// Returns the status string reported to the client.
func (e *Engine) Confirm(ctx context.Context, uid, cancelID string, confirm bool) (string, error) {
	payload, err := e.store.TakePending(ctx, cancelID)
	if errors.Is(err, state.ErrNotFound) {
		return "", fmt.Errorf("%w: cancelId %s", ErrConfirmationTooLate, cancelID)
	}
	if err != nil {
		return "", fmt.Errorf("load pending order: %w", err)
	}

	var pending pendingOrder
	if err := json.Unmarshal(payload, &pending); err != nil {
		return "", fmt.Errorf("decode pending order: %w", err)
	}
	form := pending.Form

	if form.UID != uid {
		return "", fmt.Errorf("%w: order belongs to another user", portfolio.ErrUnauthorized)
	}

	if !confirm {
		_, err := e.store.ClaimUndo(ctx, pending.UndoID)
		switch {
		case errors.Is(err, state.ErrNotFound):
			// The scheduled undo already ran.
			return "Order cancelled", nil
		case err != nil:
			return "", fmt.Errorf("claim undo: %w", err)
		}
		if err := e.undo(ctx, form); err != nil {
			return "", err
		}
		return "Order cancelled", nil
	}

	// Funds recheck happens before the undo claim: a broke portfolio leaves
	// the scheduled undo in place so the inventory still unwinds on time.
	if err := e.ledger.Precheck(ctx, uid, form.PortfolioID, form.Price); err != nil {
		return "", err
	}

	if _, err := e.store.ClaimUndo(ctx, pending.UndoID); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return "", fmt.Errorf("%w: undo already executed", ErrConfirmationTooLate)
		}
		return "", fmt.Errorf("claim undo: %w", err)
	}

	if err := e.settle(ctx, form); err != nil {
		return "", err
	}
	return "Order confirmed", nil
}

// ExecuteUndo runs one claimed payload from the delayed undo queue.
func (e *Engine) ExecuteUndo(ctx context.Context, payload []byte) error {
	var form PurchaseForm
	if err := json.Unmarshal(payload, &form); err != nil {
		return fmt.Errorf("decode undo payload: %w", err)
	}
	return e.undo(ctx, &form)
}

// settle posts the committed trade to the portfolio. A ledger failure
// unwinds the inventory before surfacing.
func (e *Engine) settle(ctx context.Context, form *PurchaseForm) error {
	err := e.ledger.Apply(ctx, portfolio.Trade{
		UID:         form.UID,
		PortfolioID: form.PortfolioID,
		Market:      form.Market,
		Quantity:    form.Quantity,
		Price:       form.Price,
	})
	if err == nil {
		return nil
	}

	if undoErr := e.undo(ctx, form); undoErr != nil {
		e.logger.Error("unwind after ledger failure", "market", form.Market, "error", undoErr)
	}

	if errors.Is(err, portfolio.ErrInsufficientFunds) ||
		errors.Is(err, portfolio.ErrMissing) ||
		errors.Is(err, portfolio.ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
}

// undo reverses a committed inventory change, bounded at undoAttempts.
func (e *Engine) undo(ctx context.Context, form *PurchaseForm) error {
	_, err := e.store.UpdateSnapshot(ctx, form.Market, undoAttempts, func(s *types.Snapshot) error {
		return shift(s, form.Quantity, -1)
	})
	if err != nil {
		return fmt.Errorf("undo %s: %w", form.Market, err)
	}
	e.emit(types.EventUndo, form.Market, form.Price)
	return nil
}

// quote prices the form's quantity against the snapshot as read.
func quote(s *types.Snapshot, form *PurchaseForm) (float64, error) {
	if form.Team {
		maker, err := lmsr.NewMaker(s.X, s.B)
		if err != nil {
			return 0, err
		}
		return maker.PriceTrade(form.Quantity.Vec)
	}

	maker, err := lmsr.NewLongShort(s.Net(), s.B)
	if err != nil {
		return 0, err
	}
	// Recover the wire quantity from the collapsed signed position.
	n := form.Quantity.Scalar * directionSign(form.Long)
	return maker.PriceTrade(n, form.Long), nil
}

// shift applies the inventory change: dir +1 commits, -1 undoes.
func shift(s *types.Snapshot, q types.Quantity, dir float64) error {
	if s.IsTeam() {
		if !q.IsVector() || len(q.Vec) != len(s.X) {
			return fmt.Errorf("%w: quantity does not match market shape", ErrMalformed)
		}
		for i, v := range q.Vec {
			s.X[i] += dir * v
		}
		return nil
	}

	if q.IsVector() {
		return fmt.Errorf("%w: quantity does not match market shape", ErrMalformed)
	}
	n := s.Net() + dir*q.Scalar
	s.N = &n
	return nil
}

func (e *Engine) emit(eventType, market string, price float64) {
	if e.events == nil {
		return
	}
	e.events.Publish(types.MarketEvent{
		Type:   eventType,
		Market: market,
		Price:  price,
		Time:   e.now(),
	})
}

// record writes the audit row. Logging must never fail a trade.
func (e *Engine) record(ctx context.Context, form *PurchaseForm, agreed bool) {
	err := e.audit.RecordOrder(ctx, audit.Order{
		UID:         form.UID,
		PortfolioID: form.PortfolioID,
		Market:      form.Market,
		Quantity:    form.Quantity,
		Price:       form.Price,
		Agreed:      agreed,
	})
	if err != nil {
		e.logger.Warn("audit order failed", "market", form.Market, "error", err)
	}
}

func freshID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

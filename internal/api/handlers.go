package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/auth"
	"github.com/nickelnine37/sportfolios-server/internal/config"
	"github.com/nickelnine37/sportfolios-server/internal/lmsr"
	"github.com/nickelnine37/sportfolios-server/internal/market"
	"github.com/nickelnine37/sportfolios-server/internal/portfolio"
	"github.com/nickelnine37/sportfolios-server/internal/state"
	"github.com/nickelnine37/sportfolios-server/internal/trade"
	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// maxBulkMarkets caps the markets= csv parameter.
const maxBulkMarkets = 100

// adminKeyHeader carries the admin credential on admin routes.
const adminKeyHeader = "X-Admin-Key"

// Handlers holds the route implementations.
type Handlers struct {
	deps   Deps
	hub    *Hub
	cfg    config.Config
	logger *slog.Logger
}

// Health reports liveness, including the state-store connection.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		http.Error(w, "state store unreachable", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, map[string]string{"status": "ok"})
}

// CurrentHoldings returns the live snapshot for one market (?market=) or a
// map of snapshots for up to 100 (?markets=csv, null for unknown ids).
func (h *Handlers) CurrentHoldings(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ids, single, err := parseMarketArgs(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.recordPriceRequest(r, ident, ids)

	snaps, err := h.deps.Store.Snapshots(r.Context(), ids)
	if err != nil {
		h.fail(w, err)
		return
	}

	if single {
		if snaps[0] == nil {
			h.fail(w, fmt.Errorf("%w: %s", trade.ErrMarketNotFound, ids[0]))
			return
		}
		h.writeJSON(w, snaps[0])
		return
	}

	out := make(map[string]*types.Snapshot, len(ids))
	for i, id := range ids {
		out[id] = snaps[i]
	}
	h.writeJSON(w, out)
}

// historicalResponse pairs history data with the shared time log so clients
// can label every row.
type historicalResponse struct {
	Data any           `json:"data"`
	Time types.TimeLog `json:"time"`
}

// HistoricalHoldings returns the rolling history for one or many markets,
// truncated per timeframe to the time log's length: the snapshotter writes
// the time log last, so a history may briefly run one row ahead of it.
func (h *Handlers) HistoricalHoldings(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ids, single, err := parseMarketArgs(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.recordPriceRequest(r, ident, ids)

	tl, err := h.deps.Store.TimeLog(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	hists, err := h.deps.Store.Histories(r.Context(), ids)
	if err != nil {
		h.fail(w, err)
		return
	}
	for _, hist := range hists {
		if hist != nil {
			truncateToTimeLog(hist, tl)
		}
	}

	if single {
		if hists[0] == nil {
			h.fail(w, fmt.Errorf("%w: %s", trade.ErrMarketNotFound, ids[0]))
			return
		}
		h.writeJSON(w, historicalResponse{Data: hists[0], Time: tl})
		return
	}

	out := make(map[string]*types.History, len(ids))
	for i, id := range ids {
		out[id] = hists[i]
	}
	h.writeJSON(w, historicalResponse{Data: out, Time: tl})
}

// CurrentBackPrices returns the live back price per market: the reference
// claim's spot value for teams, the spot long price for players. Unknown
// ids map to null.
func (h *Handlers) CurrentBackPrices(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ids, _, err := parseMarketArgs(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.recordPriceRequest(r, ident, ids)

	snaps, err := h.deps.Store.Snapshots(r.Context(), ids)
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make(map[string]*float64, len(ids))
	for i, id := range ids {
		out[id] = nil
		if snaps[i] == nil {
			continue
		}
		p, err := currentBackPrice(id, *snaps[i])
		if err != nil {
			h.logger.Warn("cannot price market", "market", id, "error", err)
			continue
		}
		out[id] = &p
	}
	h.writeJSON(w, out)
}

// DailyBackPrices returns the back-price series over the daily history per
// market. Unknown ids map to null.
func (h *Handlers) DailyBackPrices(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	ids, _, err := parseMarketArgs(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.recordPriceRequest(r, ident, ids)

	tl, err := h.deps.Store.TimeLog(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	hists, err := h.deps.Store.Histories(r.Context(), ids)
	if err != nil {
		h.fail(w, err)
		return
	}

	out := make(map[string][]float64, len(ids))
	for i, id := range ids {
		out[id] = nil
		if hists[i] == nil {
			continue
		}
		truncateToTimeLog(hists[i], tl)
		series, err := dailyBackPrices(id, hists[i])
		if err != nil {
			h.logger.Warn("cannot price market history", "market", id, "error", err)
			continue
		}
		out[id] = series
	}
	h.writeJSON(w, out)
}

// Purchase quotes and commits a purchase on behalf of the caller.
func (h *Handlers) Purchase(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", trade.ErrMalformed, err))
		return
	}
	form, err := trade.ParsePurchaseForm(ident.UID, r.PostForm)
	if err != nil {
		h.fail(w, err)
		return
	}
	receipt, err := h.deps.Engine.Purchase(r.Context(), form)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, receipt)
}

// ConfirmOrder resolves a parked purchase whose price moved.
func (h *Handlers) ConfirmOrder(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", trade.ErrMalformed, err))
		return
	}
	cancelID, confirm, err := trade.ParseConfirmationForm(r.PostForm)
	if err != nil {
		h.fail(w, err)
		return
	}
	status, err := h.deps.Engine.Confirm(r.Context(), ident.UID, cancelID, confirm)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, status)
}

// CreatePortfolio opens a fresh portfolio for the caller.
func (h *Handlers) CreatePortfolio(w http.ResponseWriter, r *http.Request) {
	ident, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", trade.ErrMalformed, err))
		return
	}
	for _, field := range []string{"name", "public"} {
		if !r.PostForm.Has(field) {
			h.fail(w, fmt.Errorf("%w: %s", trade.ErrMissingField, field))
			return
		}
	}
	name := strings.TrimSpace(r.PostForm.Get("name"))
	if name == "" {
		h.fail(w, fmt.Errorf("%w: name is empty", trade.ErrMalformed))
		return
	}
	public, err := strconv.ParseBool(r.PostForm.Get("public"))
	if err != nil {
		h.fail(w, fmt.Errorf("%w: public %q", trade.ErrMalformed, r.PostForm.Get("public")))
		return
	}

	id, err := h.deps.Ledger.Create(r.Context(), ident.UID, name, r.PostForm.Get("description"), public)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, map[string]any{"success": true, "portfolioId": id})
}

// InitRedis seeds every listed market absent from the state store. Existing
// keys are never touched, so re-running is safe.
func (h *Handlers) InitRedis(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	seed, err := state.LoadSeed(h.deps.DataDir)
	if err != nil {
		h.fail(w, err)
		return
	}
	n, err := seed.Apply(r.Context(), h.deps.Store, time.Now())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("seed import complete", "created", n)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "seeded %d markets", n)
}

// UpdateB sets the liquidity parameter on one or more markets, posted as
// <market>=<b> form pairs.
func (h *Handlers) UpdateB(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.fail(w, fmt.Errorf("%w: %v", trade.ErrMalformed, err))
		return
	}

	updated := 0
	for key, vals := range r.PostForm {
		m, err := market.Parse(key)
		if err != nil {
			h.fail(w, fmt.Errorf("%w: %v", trade.ErrInvalidMarket, err))
			return
		}
		if len(vals) == 0 {
			continue
		}
		b, err := strconv.ParseFloat(vals[0], 64)
		if err != nil {
			h.fail(w, fmt.Errorf("%w: b %q for %s", trade.ErrMalformed, vals[0], key))
			return
		}
		if b <= 0 {
			h.fail(w, fmt.Errorf("%w: liquidity b must be positive, got %v", lmsr.ErrNumericDomain, b))
			return
		}

		_, err = h.deps.Store.UpdateSnapshot(r.Context(), m.ID, 100, func(s *types.Snapshot) error {
			s.B = b
			return nil
		})
		if errors.Is(err, state.ErrNotFound) {
			h.fail(w, fmt.Errorf("%w: %s", trade.ErrMarketNotFound, m.ID))
			return
		}
		if err != nil {
			h.fail(w, err)
			return
		}
		updated++
		h.logger.Info("liquidity updated", "market", m.ID, "b", b)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "updated %d markets", updated)
}

// Stream upgrades the connection and subscribes it to market events.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeWS(w, r)
}

// ————————————————————————————————————————————————————————————————————————
// Helpers
// ————————————————————————————————————————————————————————————————————————

// authenticate resolves the bearer token. A missing Authorization header is
// 407; verification failures are 401 with the failure category in the body.
func (h *Handlers) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	token := r.Header.Get("Authorization")
	if token == "" {
		http.Error(w, "missing Authorization header", http.StatusProxyAuthRequired)
		return nil, false
	}
	token = strings.TrimPrefix(token, "Bearer ")

	ident, err := h.deps.Verifier.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, tokenMessage(err), http.StatusUnauthorized)
		return nil, false
	}
	if h.cfg.Auth.RequireVerifiedEmail && !ident.EmailVerified {
		http.Error(w, "email not verified", http.StatusUnauthorized)
		return nil, false
	}
	return ident, true
}

func tokenMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token Expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		return "Token Revoked"
	case errors.Is(err, auth.ErrCertificateFetch):
		return "Certificate Fetch Error"
	default:
		return "Malformed Token"
	}
}

// requireAdmin checks the hashed admin credential. Admin routes are disabled
// entirely when no hash is configured.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !auth.CheckAdminKey(h.cfg.Auth.AdminKeyHash, r.Header.Get(adminKeyHeader)) {
		http.Error(w, "admin credential invalid", http.StatusUnauthorized)
		return false
	}
	return true
}

// parseMarketArgs accepts ?market=<id> (single) or ?markets=<csv> (bulk,
// capped at maxBulkMarkets). Every id must parse as a market identifier.
func parseMarketArgs(r *http.Request) (ids []string, single bool, err error) {
	q := r.URL.Query()
	switch {
	case q.Has("market"):
		ids = []string{q.Get("market")}
		single = true
	case q.Has("markets"):
		ids = strings.Split(q.Get("markets"), ",")
	default:
		return nil, false, fmt.Errorf("%w: market or markets", trade.ErrMissingField)
	}

	if len(ids) > maxBulkMarkets {
		return nil, false, fmt.Errorf("%w: %d markets requested, maximum %d", trade.ErrMalformed, len(ids), maxBulkMarkets)
	}
	for _, id := range ids {
		if _, err := market.Parse(id); err != nil {
			return nil, false, fmt.Errorf("%w: %v", trade.ErrInvalidMarket, err)
		}
	}
	return ids, single, nil
}

func currentBackPrice(id string, snap types.Snapshot) (float64, error) {
	m, err := market.Parse(id)
	if err != nil {
		return 0, err
	}
	if snap.IsTeam() {
		maker, err := lmsr.NewMaker(snap.X, snap.B)
		if err != nil {
			return 0, err
		}
		return maker.BackPrice(m.BackDivisor()), nil
	}
	ls, err := lmsr.NewLongShort(snap.Net(), snap.B)
	if err != nil {
		return 0, err
	}
	return ls.SpotLong(), nil
}

func dailyBackPrices(id string, hist *types.History) ([]float64, error) {
	m, err := market.Parse(id)
	if err != nil {
		return nil, err
	}
	if hist.IsTeam() {
		mm, err := lmsr.NewMultiMaker(hist.X[types.Daily], hist.B[types.Daily])
		if err != nil {
			return nil, err
		}
		return mm.BackPrices(m.BackDivisor()), nil
	}
	mls, err := lmsr.NewMultiLongShort(hist.N[types.Daily], hist.B[types.Daily])
	if err != nil {
		return nil, err
	}
	return mls.SpotLongs(), nil
}

// truncateToTimeLog clips each timeframe's series to the time log's length.
func truncateToTimeLog(hist *types.History, tl types.TimeLog) {
	for _, tf := range types.Timeframes() {
		n := tl.Len(tf)
		if hist.Len(tf) <= n {
			continue
		}
		if hist.IsTeam() {
			hist.X[tf] = hist.X[tf][:n]
		} else {
			hist.N[tf] = hist.N[tf][:n]
		}
		hist.B[tf] = hist.B[tf][:n]
	}
}

// recordPriceRequest audits one read. Best-effort: failures are logged.
func (h *Handlers) recordPriceRequest(r *http.Request, ident *auth.Identity, ids []string) {
	if h.deps.Audit == nil {
		return
	}
	if err := h.deps.Audit.PriceRequest(r.Context(), ident.UID, ident.Email, ids); err != nil {
		h.logger.Warn("audit price request failed", "error", err)
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

// fail maps an error to its response status, keeping the kind in the body.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, trade.ErrMissingField),
		errors.Is(err, trade.ErrMalformed),
		errors.Is(err, trade.ErrInvalidMarket),
		errors.Is(err, trade.ErrConfirmationTooLate),
		errors.Is(err, portfolio.ErrInsufficientFunds),
		errors.Is(err, lmsr.ErrNumericDomain):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, trade.ErrMarketNotFound),
		errors.Is(err, portfolio.ErrMissing):
		return http.StatusNotFound
	case errors.Is(err, state.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the server — market snapshots,
// rolling histories, the time log, trade quantities, and stream event
// payloads. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Timeframes
// ————————————————————————————————————————————————————————————————————————

// Timeframe tags one resolution of the rolling history: hourly, daily,
// weekly, monthly and long-monthly. The tags double as JSON object keys in
// the history and time-log encodings.
type Timeframe string

const (
	Hourly      Timeframe = "h"
	Daily       Timeframe = "d"
	Weekly      Timeframe = "w"
	Monthly     Timeframe = "m"
	LongMonthly Timeframe = "M"
)

// Timeframes returns all tags in canonical order, shortest window first.
func Timeframes() []Timeframe {
	return []Timeframe{Hourly, Daily, Weekly, Monthly, LongMonthly}
}

// RetentionCap is the maximum series length per timeframe: 60 rows for the
// fixed windows, 120 for the long-monthly window (which thins itself and
// doubles its sampling interval instead of dropping the oldest row).
func (tf Timeframe) RetentionCap() int {
	if tf == LongMonthly {
		return 120
	}
	return 60
}

// Valid reports whether tf is one of the five known tags.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Hourly, Daily, Weekly, Monthly, LongMonthly:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Market snapshots
// ————————————————————————————————————————————————————————————————————————

// Snapshot is the current state of one market's inventory. Team markets
// carry an inventory vector x; player markets carry a scalar net long
// position N (negative = net short). Exactly one of X and N is set; B is
// the LMSR liquidity parameter and must be positive.
//
// JSON shape matches the store layout: {"x": [...], "b": ...} for teams,
// {"N": ..., "b": ...} for players.
type Snapshot struct {
	X []float64 `json:"x,omitempty"`
	N *float64  `json:"N,omitempty"`
	B float64   `json:"b"`
}

// TeamSnapshot builds a team-market snapshot over the inventory vector x.
func TeamSnapshot(x []float64, b float64) Snapshot {
	return Snapshot{X: x, B: b}
}

// PlayerSnapshot builds a player-market snapshot with net position n.
func PlayerSnapshot(n, b float64) Snapshot {
	return Snapshot{N: &n, B: b}
}

// IsTeam reports whether the snapshot holds a vector inventory.
func (s Snapshot) IsTeam() bool { return s.X != nil }

// Net returns the scalar net position of a player snapshot. Zero for team
// snapshots.
func (s Snapshot) Net() float64 {
	if s.N == nil {
		return 0
	}
	return *s.N
}

// Clone returns a deep copy, so callers can propose a mutated snapshot
// without aliasing the original.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{B: s.B}
	if s.X != nil {
		out.X = make([]float64, len(s.X))
		copy(out.X, s.X)
	}
	if s.N != nil {
		n := *s.N
		out.N = &n
	}
	return out
}

// Equal reports exact equality of two snapshots, including variant.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.B != other.B || s.IsTeam() != other.IsTeam() {
		return false
	}
	if s.IsTeam() {
		if len(s.X) != len(other.X) {
			return false
		}
		for i := range s.X {
			if s.X[i] != other.X[i] {
				return false
			}
		}
		return true
	}
	return s.Net() == other.Net()
}

// ————————————————————————————————————————————————————————————————————————
// Rolling history and time log
// ————————————————————————————————————————————————————————————————————————

// History is the rolling multi-resolution record of one market's snapshots.
// The value axis is X (teams, one vector per row) or N (players, one scalar
// per row); B is always present and aligned row-for-row with the value axis.
//
// JSON shape: {"x"|"N": {tf: [rows]}, "b": {tf: [rows]}}.
type History struct {
	X map[Timeframe][][]float64 `json:"x,omitempty"`
	N map[Timeframe][]float64   `json:"N,omitempty"`
	B map[Timeframe][]float64   `json:"b"`
}

// NewHistory returns an empty history for the given market variant.
func NewHistory(team bool) *History {
	h := &History{B: make(map[Timeframe][]float64)}
	if team {
		h.X = make(map[Timeframe][][]float64)
	} else {
		h.N = make(map[Timeframe][]float64)
	}
	return h
}

// IsTeam reports whether the value axis is the vector one.
func (h *History) IsTeam() bool { return h.X != nil }

// Len returns the series length at tf, taken from the b axis.
func (h *History) Len(tf Timeframe) int { return len(h.B[tf]) }

// Append pushes the snapshot onto the end of the tf series. The caller is
// responsible for retention (DropOldest / Thin).
func (h *History) Append(tf Timeframe, s Snapshot) {
	if h.IsTeam() {
		row := make([]float64, len(s.X))
		copy(row, s.X)
		h.X[tf] = append(h.X[tf], row)
	} else {
		h.N[tf] = append(h.N[tf], s.Net())
	}
	h.B[tf] = append(h.B[tf], s.B)
}

// DropOldest removes index 0 from the tf series on both axes.
func (h *History) DropOldest(tf Timeframe) {
	if h.IsTeam() {
		h.X[tf] = dropFront(h.X[tf])
	} else {
		h.N[tf] = dropFront(h.N[tf])
	}
	h.B[tf] = dropFront(h.B[tf])
}

// Thin removes every second element starting at index 1 (keeping even
// indices) from the tf series on both axes. A series of length 121 thins
// to 61.
func (h *History) Thin(tf Timeframe) {
	if h.IsTeam() {
		h.X[tf] = thin(h.X[tf])
	} else {
		h.N[tf] = thin(h.N[tf])
	}
	h.B[tf] = thin(h.B[tf])
}

// Row returns the value-axis row at index i of tf as a team vector or a
// one-element player wrapper, paired with its b.
func (h *History) Row(tf Timeframe, i int) (Snapshot, error) {
	if i < 0 || i >= h.Len(tf) {
		return Snapshot{}, fmt.Errorf("history row %d out of range for %q (len %d)", i, tf, h.Len(tf))
	}
	if h.IsTeam() {
		return TeamSnapshot(h.X[tf][i], h.B[tf][i]), nil
	}
	return PlayerSnapshot(h.N[tf][i], h.B[tf][i]), nil
}

// TimeLog records the wall-clock instant of every history row, one list per
// timeframe in Unix seconds, aligned index-for-index with History.
type TimeLog map[Timeframe][]int64

// NewTimeLog returns a time log with all five timeframes present and empty.
func NewTimeLog() TimeLog {
	tl := make(TimeLog, len(Timeframes()))
	for _, tf := range Timeframes() {
		tl[tf] = []int64{}
	}
	return tl
}

// Append pushes ts onto the tf list.
func (tl TimeLog) Append(tf Timeframe, ts int64) { tl[tf] = append(tl[tf], ts) }

// Len returns the list length at tf.
func (tl TimeLog) Len(tf Timeframe) int { return len(tl[tf]) }

// DropOldest removes index 0 from the tf list.
func (tl TimeLog) DropOldest(tf Timeframe) { tl[tf] = dropFront(tl[tf]) }

// Thin removes every second element starting at index 1 from the tf list.
func (tl TimeLog) Thin(tf Timeframe) { tl[tf] = thin(tl[tf]) }

func dropFront[T any](s []T) []T {
	if len(s) == 0 {
		return s
	}
	return append(s[:0], s[1:]...)
}

func thin[T any](s []T) []T {
	out := s[:0]
	for i := 0; i < len(s); i += 2 {
		out = append(out, s[i])
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Trade quantities and transactions
// ————————————————————————————————————————————————————————————————————————

// Quantity is a trade size: a claim vector for team markets or a signed
// scalar for player markets. The JSON form is a bare array or a bare
// number; tagging is by market variant, not by the encoding.
type Quantity struct {
	Vec    []float64
	Scalar float64
}

// VectorQuantity wraps a team claim vector.
func VectorQuantity(v []float64) Quantity { return Quantity{Vec: v} }

// ScalarQuantity wraps a signed player quantity.
func ScalarQuantity(s float64) Quantity { return Quantity{Scalar: s} }

// IsVector reports whether the quantity is the team form.
func (q Quantity) IsVector() bool { return q.Vec != nil }

// Value returns the dynamic form used in document payloads: []float64 for
// vectors, float64 for scalars.
func (q Quantity) Value() any {
	if q.IsVector() {
		return q.Vec
	}
	return q.Scalar
}

// Add returns q + other. Both must be the same form; vector lengths must
// match.
func (q Quantity) Add(other Quantity) (Quantity, error) {
	if q.IsVector() != other.IsVector() {
		return Quantity{}, fmt.Errorf("cannot add %s to %s quantity", other.form(), q.form())
	}
	if !q.IsVector() {
		return ScalarQuantity(q.Scalar + other.Scalar), nil
	}
	if len(q.Vec) != len(other.Vec) {
		return Quantity{}, fmt.Errorf("cannot add vector quantities of length %d and %d", len(other.Vec), len(q.Vec))
	}
	sum := make([]float64, len(q.Vec))
	for i := range q.Vec {
		sum[i] = q.Vec[i] + other.Vec[i]
	}
	return VectorQuantity(sum), nil
}

// NearZero reports whether every component is within tol of zero.
func (q Quantity) NearZero(tol float64) bool {
	if !q.IsVector() {
		return q.Scalar >= -tol && q.Scalar <= tol
	}
	for _, v := range q.Vec {
		if v < -tol || v > tol {
			return false
		}
	}
	return true
}

func (q Quantity) form() string {
	if q.IsVector() {
		return "vector"
	}
	return "scalar"
}

// UnmarshalJSON accepts either a JSON array (vector) or a JSON number
// (scalar).
func (q *Quantity) UnmarshalJSON(data []byte) error {
	var vec []float64
	if err := json.Unmarshal(data, &vec); err == nil {
		q.Vec = vec
		q.Scalar = 0
		return nil
	}
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err != nil {
		return fmt.Errorf("quantity must be a number or an array of numbers")
	}
	q.Vec = nil
	q.Scalar = scalar
	return nil
}

// MarshalJSON emits the bare array or bare number form.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Value())
}

// Transaction is one settled purchase recorded in a portfolio document.
// Time is Unix seconds (fractional) to match the document-store encoding.
type Transaction struct {
	Market   string   `json:"market"`
	Quantity Quantity `json:"quantity"`
	Price    float64  `json:"price"`
	Time     float64  `json:"time"`
}

// DecodeTransactions converts the dynamic transactions field of a portfolio
// document (as returned by the document store) into typed entries.
func DecodeTransactions(raw any) ([]Transaction, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode transactions: %w", err)
	}
	var txs []Transaction
	if err := json.Unmarshal(data, &txs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	return txs, nil
}

// ————————————————————————————————————————————————————————————————————————
// Stream events
// ————————————————————————————————————————————————————————————————————————

// MarketEvent is broadcast to stream subscribers whenever inventory moves:
// a user purchase, a confirmed order, a compensating undo or a bot trade.
type MarketEvent struct {
	Type   string    `json:"type"`
	Market string    `json:"market"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// Event types.
const (
	EventTrade    = "trade"
	EventUndo     = "undo"
	EventBotTrade = "bot_trade"
)

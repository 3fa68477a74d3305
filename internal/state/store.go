// Package state persists market snapshots, histories, the shared time log
// and trade-undo plumbing in a key-value store.
//
// Key layout: `<market>` holds the current snapshot JSON, `<market>:hist`
// the history JSON, `time` the shared time log, `t` the scheduler minute
// counter and `max_interval` the long-monthly cadence. Pending confirmations
// live under their cancelId with a TTL; scheduled undos are a sorted set
// (`undo:queue`, scored by fire time) pointing at `undo:job:<id>` payloads.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

var (
	// ErrNotFound reports a missing key: unknown market, expired cancelId
	// or an undo job that has already been claimed.
	ErrNotFound = errors.New("not found in state store")
	// ErrConflict reports optimistic-lock exhaustion on a contended market.
	ErrConflict = errors.New("state store conflict")
)

const (
	timeKey        = "time"
	minuteKey      = "t"
	maxIntervalKey = "max_interval"
	undoQueueKey   = "undo:queue"

	// DefaultMaxInterval is the starting long-monthly cadence in minutes.
	DefaultMaxInterval = 672

	retryBackoff = 10 * time.Millisecond
)

func histKey(market string) string { return market + ":hist" }

func undoJobKey(id string) string { return "undo:job:" + id }

// Store is the state-store surface shared by the HTTP tier, the trade
// engine and the background jobs. Implementations must be safe for
// concurrent use.
type Store interface {
	// Exists reports whether a market snapshot is present.
	Exists(ctx context.Context, market string) (bool, error)

	// Snapshot loads one market snapshot. Missing markets return ErrNotFound.
	Snapshot(ctx context.Context, market string) (*types.Snapshot, error)
	// Snapshots loads many snapshots in one pipelined round trip. The result
	// aligns with markets; missing entries are nil.
	Snapshots(ctx context.Context, markets []string) ([]*types.Snapshot, error)
	// History loads one market history. Missing markets return ErrNotFound.
	History(ctx context.Context, market string) (*types.History, error)
	// Histories loads many histories pipelined, aligned, nil for missing.
	Histories(ctx context.Context, markets []string) ([]*types.History, error)
	// TimeLog loads the shared time log. ErrNotFound before first seed.
	TimeLog(ctx context.Context) (types.TimeLog, error)

	PutSnapshots(ctx context.Context, snaps map[string]*types.Snapshot) error
	PutHistories(ctx context.Context, hists map[string]*types.History) error
	PutTimeLog(ctx context.Context, tl types.TimeLog) error

	// UpdateSnapshot runs apply against the current snapshot under an
	// optimistic lock, retrying up to attempts times with a short back-off,
	// and returns the committed snapshot. Exhaustion returns ErrConflict.
	// Errors from apply abort the update and propagate unchanged.
	UpdateSnapshot(ctx context.Context, market string, attempts int, apply func(*types.Snapshot) error) (*types.Snapshot, error)

	// SetPending stores a pending-confirmation payload under id with a TTL.
	SetPending(ctx context.Context, id string, payload []byte, ttl time.Duration) error
	// TakePending atomically loads and deletes a pending payload. A missing
	// or expired id returns ErrNotFound.
	TakePending(ctx context.Context, id string) ([]byte, error)

	// Minute returns the persisted scheduler counter, zero before first run.
	Minute(ctx context.Context) (int64, error)
	SetMinute(ctx context.Context, t int64) error
	// MaxInterval returns the long-monthly cadence in minutes,
	// DefaultMaxInterval before first seed.
	MaxInterval(ctx context.Context) (int64, error)
	SetMaxInterval(ctx context.Context, minutes int64) error

	// EnqueueUndo schedules an undo payload to become due at fireAt.
	EnqueueUndo(ctx context.Context, id string, payload []byte, fireAt time.Time) error
	// DueUndos lists job ids due at or before now, oldest first.
	DueUndos(ctx context.Context, now time.Time) ([]string, error)
	// ClaimUndo removes a job from the queue and returns its payload.
	// Exactly one concurrent caller wins; the rest get ErrNotFound.
	ClaimUndo(ctx context.Context, id string) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

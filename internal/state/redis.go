package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// Redis is the production Store backed by a single Redis database.
type Redis struct {
	c *redis.Client
}

// NewRedis wraps an existing client. The caller owns connection options.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{c: client}
}

func (r *Redis) Exists(ctx context.Context, market string) (bool, error) {
	n, err := r.c.Exists(ctx, market).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", market, err)
	}
	return n > 0, nil
}

func (r *Redis) Snapshot(ctx context.Context, market string) (*types.Snapshot, error) {
	raw, err := r.c.Get(ctx, market).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, market)
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", market, err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", market, err)
	}
	return &snap, nil
}

func (r *Redis) Snapshots(ctx context.Context, markets []string) ([]*types.Snapshot, error) {
	cmds := make([]*redis.StringCmd, len(markets))
	_, err := r.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range markets {
			cmds[i] = pipe.Get(ctx, m)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get snapshots: %w", err)
	}

	out := make([]*types.Snapshot, len(markets))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get snapshot %s: %w", markets[i], err)
		}
		var snap types.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", markets[i], err)
		}
		out[i] = &snap
	}
	return out, nil
}

func (r *Redis) History(ctx context.Context, market string) (*types.History, error) {
	raw, err := r.c.Get(ctx, histKey(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: history %s", ErrNotFound, market)
	}
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", market, err)
	}
	var hist types.History
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", market, err)
	}
	return &hist, nil
}

func (r *Redis) Histories(ctx context.Context, markets []string) ([]*types.History, error) {
	cmds := make([]*redis.StringCmd, len(markets))
	_, err := r.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range markets {
			cmds[i] = pipe.Get(ctx, histKey(m))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get histories: %w", err)
	}

	out := make([]*types.History, len(markets))
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get history %s: %w", markets[i], err)
		}
		var hist types.History
		if err := json.Unmarshal(raw, &hist); err != nil {
			return nil, fmt.Errorf("decode history %s: %w", markets[i], err)
		}
		out[i] = &hist
	}
	return out, nil
}

func (r *Redis) TimeLog(ctx context.Context) (types.TimeLog, error) {
	raw, err := r.c.Get(ctx, timeKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: time log", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get time log: %w", err)
	}
	var tl types.TimeLog
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, fmt.Errorf("decode time log: %w", err)
	}
	return tl, nil
}

func (r *Redis) PutSnapshots(ctx context.Context, snaps map[string]*types.Snapshot) error {
	_, err := r.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for market, snap := range snaps {
			buf, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode snapshot %s: %w", market, err)
			}
			pipe.Set(ctx, market, buf, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put snapshots: %w", err)
	}
	return nil
}

func (r *Redis) PutHistories(ctx context.Context, hists map[string]*types.History) error {
	_, err := r.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for market, hist := range hists {
			buf, err := json.Marshal(hist)
			if err != nil {
				return fmt.Errorf("encode history %s: %w", market, err)
			}
			pipe.Set(ctx, histKey(market), buf, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put histories: %w", err)
	}
	return nil
}

func (r *Redis) PutTimeLog(ctx context.Context, tl types.TimeLog) error {
	buf, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("encode time log: %w", err)
	}
	if err := r.c.Set(ctx, timeKey, buf, 0).Err(); err != nil {
		return fmt.Errorf("put time log: %w", err)
	}
	return nil
}

func (r *Redis) UpdateSnapshot(ctx context.Context, market string, attempts int, apply func(*types.Snapshot) error) (*types.Snapshot, error) {
	var committed *types.Snapshot

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, market).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: market %s", ErrNotFound, market)
		}
		if err != nil {
			return fmt.Errorf("get snapshot %s: %w", market, err)
		}
		var snap types.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return fmt.Errorf("decode snapshot %s: %w", market, err)
		}
		if err := apply(&snap); err != nil {
			return err
		}
		buf, err := json.Marshal(&snap)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", market, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, market, buf, 0)
			return nil
		})
		if err == nil {
			committed = &snap
		}
		return err
	}

	for i := 0; i < attempts; i++ {
		err := r.c.Watch(ctx, txf, market)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
	return nil, fmt.Errorf("%w: market %s after %d attempts", ErrConflict, market, attempts)
}

func (r *Redis) SetPending(ctx context.Context, id string, payload []byte, ttl time.Duration) error {
	if err := r.c.SetEx(ctx, id, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set pending %s: %w", id, err)
	}
	return nil
}

func (r *Redis) TakePending(ctx context.Context, id string) ([]byte, error) {
	raw, err := r.c.GetDel(ctx, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: pending %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("take pending %s: %w", id, err)
	}
	return raw, nil
}

func (r *Redis) Minute(ctx context.Context) (int64, error) {
	n, err := r.c.Get(ctx, minuteKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get minute counter: %w", err)
	}
	return n, nil
}

func (r *Redis) SetMinute(ctx context.Context, t int64) error {
	if err := r.c.Set(ctx, minuteKey, t, 0).Err(); err != nil {
		return fmt.Errorf("set minute counter: %w", err)
	}
	return nil
}

func (r *Redis) MaxInterval(ctx context.Context) (int64, error) {
	n, err := r.c.Get(ctx, maxIntervalKey).Int64()
	if errors.Is(err, redis.Nil) {
		return DefaultMaxInterval, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get max interval: %w", err)
	}
	return n, nil
}

func (r *Redis) SetMaxInterval(ctx context.Context, minutes int64) error {
	if err := r.c.Set(ctx, maxIntervalKey, minutes, 0).Err(); err != nil {
		return fmt.Errorf("set max interval: %w", err)
	}
	return nil
}

func (r *Redis) EnqueueUndo(ctx context.Context, id string, payload []byte, fireAt time.Time) error {
	_, err := r.c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, undoJobKey(id), payload, 0)
		pipe.ZAdd(ctx, undoQueueKey, redis.Z{Score: float64(fireAt.Unix()), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue undo %s: %w", id, err)
	}
	return nil
}

func (r *Redis) DueUndos(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.c.ZRangeByScore(ctx, undoQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due undos: %w", err)
	}
	return ids, nil
}

func (r *Redis) ClaimUndo(ctx context.Context, id string) ([]byte, error) {
	// ZREM is the lock: exactly one caller removes the member.
	n, err := r.c.ZRem(ctx, undoQueueKey, id).Result()
	if err != nil {
		return nil, fmt.Errorf("claim undo %s: %w", id, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: undo job %s", ErrNotFound, id)
	}
	raw, err := r.c.GetDel(ctx, undoJobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: undo payload %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load undo payload %s: %w", id, err)
	}
	return raw, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.c.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.c.Close()
}

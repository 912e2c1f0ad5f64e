// README: Dispatch ledger so each pending request is announced once.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"roadhelper/internal/types"
)

const (
	dispatchedAtKeyFmt = "dispatch:request:%s:dispatched_at"
	notifiedKeyFmt     = "dispatch:request:%s:notified"
)

// Ledger records which requests have been announced.
type Ledger interface {
	// MarkDispatched claims the request for announcement. It reports false
	// when the request was already claimed, by this or another process.
	MarkDispatched(ctx context.Context, requestID types.ID, helperIDs []types.ID) (bool, error)
	// Notified lists the helpers recorded when the request was claimed.
	Notified(ctx context.Context, requestID types.ID) ([]types.ID, error)
}

type RedisLedger struct {
	redis *redis.Client
}

func NewRedisLedger(redis *redis.Client) *RedisLedger {
	return &RedisLedger{redis: redis}
}

func (l *RedisLedger) MarkDispatched(ctx context.Context, requestID types.ID, helperIDs []types.ID) (bool, error) {
	first, err := l.redis.SetNX(ctx, fmt.Sprintf(dispatchedAtKeyFmt, requestID), time.Now().UTC().Format(time.RFC3339), ledgerTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim dispatch %s: %w", requestID, err)
	}
	if !first || len(helperIDs) == 0 {
		return first, nil
	}

	notifiedKey := fmt.Sprintf(notifiedKeyFmt, requestID)
	members := make([]any, len(helperIDs))
	for i, id := range helperIDs {
		members[i] = string(id)
	}
	pipe := l.redis.Pipeline()
	pipe.SAdd(ctx, notifiedKey, members...)
	pipe.Expire(ctx, notifiedKey, ledgerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("record notified helpers %s: %w", requestID, err)
	}
	return true, nil
}

func (l *RedisLedger) Notified(ctx context.Context, requestID types.ID) ([]types.ID, error) {
	vals, err := l.redis.SMembers(ctx, fmt.Sprintf(notifiedKeyFmt, requestID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notified helpers %s: %w", requestID, err)
	}
	out := make([]types.ID, len(vals))
	for i, v := range vals {
		out[i] = types.ID(v)
	}
	return out, nil
}

// MemoryLedger deduplicates within one process.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[types.ID][]types.ID
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[types.ID][]types.ID)}
}

func (l *MemoryLedger) MarkDispatched(_ context.Context, requestID types.ID, helperIDs []types.ID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[requestID]; ok {
		return false, nil
	}
	l.seen[requestID] = append([]types.ID(nil), helperIDs...)
	return true, nil
}

func (l *MemoryLedger) Notified(_ context.Context, requestID types.ID) ([]types.ID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.ID(nil), l.seen[requestID]...), nil
}

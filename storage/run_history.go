package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"olx-watcher/models"
	"olx-watcher/utils"
)

// MemoryRunHistory keeps the last size run records in a ring buffer.
type MemoryRunHistory struct {
	mu      sync.RWMutex
	records []*models.RunRecord
	next    int
	full    bool
}

// NewMemoryRunHistory creates a history holding at most size records.
func NewMemoryRunHistory(size int) *MemoryRunHistory {
	if size <= 0 {
		size = 1
	}
	return &MemoryRunHistory{records: make([]*models.RunRecord, size)}
}

func (h *MemoryRunHistory) Record(_ context.Context, rec *models.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records[h.next] = rec
	h.next = (h.next + 1) % len(h.records)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

func (h *MemoryRunHistory) Recent(_ context.Context, n int) ([]*models.RunRecord, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := h.next
	if h.full {
		count = len(h.records)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]*models.RunRecord, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.records)) % len(h.records)
		out = append(out, h.records[idx])
	}
	return out, nil
}

const runHistoryKey = "olx:runs:recent"

// RedisRunHistory stores run records as a capped JSON list in Redis so that
// several instances share one history.
type RedisRunHistory struct {
	client *redis.Client
	size   int
	logger *utils.Logger
}

// NewRedisRunHistory wraps client; the list is trimmed to size entries.
func NewRedisRunHistory(client *redis.Client, size int, logger *utils.Logger) *RedisRunHistory {
	if size <= 0 {
		size = 1
	}
	return &RedisRunHistory{client: client, size: size, logger: logger}
}

func (h *RedisRunHistory) Record(ctx context.Context, rec *models.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "run history: encode")
	}

	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, runHistoryKey, data)
	pipe.LTrim(ctx, runHistoryKey, 0, int64(h.size-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return eris.Wrap(err, "run history: push")
	}
	return nil
}

func (h *RedisRunHistory) Recent(ctx context.Context, n int) ([]*models.RunRecord, error) {
	if n <= 0 || n > h.size {
		n = h.size
	}

	raw, err := h.client.LRange(ctx, runHistoryKey, 0, int64(n-1)).Result()
	if errors.Is(err, redis.Nil) {
		return []*models.RunRecord{}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "run history: read")
	}

	out := make([]*models.RunRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.RunRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			h.logger.Warn("[history] Dropping undecodable run record: %v", err)
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}

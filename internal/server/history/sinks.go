package history

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"sharebeam/internal/server/database"
)

// PostgresSink stores finished entries in the share_downloads table.
type PostgresSink struct {
	repo *database.Repository
}

func NewPostgresSink(repo *database.Repository) *PostgresSink {
	return &PostgresSink{repo: repo}
}

func (s *PostgresSink) Record(ctx context.Context, e Entry) error {
	return s.repo.SaveDownload(ctx, toRecord(e))
}

func toRecord(e Entry) *database.Download {
	return &database.Download{
		ID:               e.ID,
		Name:             e.Name,
		Archive:          e.Archive,
		BytesTransferred: e.BytesTransferred,
		TotalBytes:       e.TotalBytes,
		Completed:        e.Completed,
		StartedAt:        e.StartedAt,
		FinishedAt:       e.FinishedAt,
	}
}

const (
	KeyCompleted = "sb:dc" // HASH. name -> completed download count
	KeyBytes     = "sb:db" // HASH. name -> bytes served
	KeyEntry     = "sb:de" // HASH per entry, expires after the sink TTL.

	KeySeparator = ":"

	DefaultEntryTTL = 7 * 24 * time.Hour
)

// RedisSink mirrors per-name download counters into Redis and keeps a
// short-lived hash for every finished entry.
type RedisSink struct {
	cl  redis.Cmdable
	ttl time.Duration
}

func NewRedisSink(cl redis.Cmdable, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultEntryTTL
	}
	return &RedisSink{cl: cl, ttl: ttl}
}

func (s *RedisSink) Record(ctx context.Context, e Entry) error {
	key := getKey(KeyEntry, e.ID)

	pipe := s.cl.Pipeline()
	if e.Completed {
		pipe.HIncrBy(ctx, KeyCompleted, e.Name, 1)
	}
	pipe.HIncrBy(ctx, KeyBytes, e.Name, e.BytesTransferred)
	pipe.HSet(ctx, key, entryFields(e))
	pipe.Expire(ctx, key, s.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cannot record download %s: %w", e.ID, err)
	}
	return nil
}

// Counts returns the completed download count per name.
func (s *RedisSink) Counts(ctx context.Context) (map[string]int64, error) {
	raw, err := s.cl.HGetAll(ctx, KeyCompleted).Result()
	if err != nil {
		return nil, fmt.Errorf("cannot get download counters: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for name, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad counter for %s: %w", name, err)
		}
		counts[name] = n
	}
	return counts, nil
}

func entryFields(e Entry) map[string]any {
	return map[string]any{
		"name":              e.Name,
		"archive":           strconv.FormatBool(e.Archive),
		"bytes_transferred": e.BytesTransferred,
		"total_bytes":       e.TotalBytes,
		"completed":         strconv.FormatBool(e.Completed),
		"started_at":        e.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":       e.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
}

func getKey(keys ...string) string {
	return strings.Join(keys, KeySeparator)
}

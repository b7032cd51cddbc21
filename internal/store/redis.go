package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exportlens/eventd/internal/eventbus"
	"github.com/exportlens/eventd/internal/schema"
)

const (
	redisEventKey   = "events:id:"   // + event id -> hash with the event fields
	redisTypeKey    = "events:type:" // + event type -> zset of ids scored by created unixnano
	redisCreatedKey = "events:created"

	prunePageSize = 100
)

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// Redis persists events in Redis for deployments that already run one.
// Each event lives in a hash; a per-type zset and a global zset, both
// scored by creation time, keep queries and pruning ordered.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client, e.g. one shared with other
// components or pointed at a test server.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Close() error { return r.rdb.Close() }

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Insert(ctx context.Context, evt eventbus.Event, status schema.Status) error {
	payloadJSON, err := encodeJSON(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	metadataJSON, err := encodeJSON(evt.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	created := evt.Timestamp.UTC()
	score := float64(created.UnixNano())

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, redisEventKey+evt.ID, map[string]any{
		"type":       evt.Type,
		"source":     evt.Source,
		"priority":   string(evt.Priority),
		"status":     string(status),
		"payload":    payloadJSON,
		"metadata":   metadataJSON,
		"created_at": created.Format(time.RFC3339Nano),
	})
	pipe.ZAdd(ctx, redisTypeKey+evt.Type, redis.Z{Score: score, Member: evt.ID})
	pipe.ZAdd(ctx, redisCreatedKey, redis.Z{Score: score, Member: evt.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// UpdateStatus moves an event to the given status. The bus is the only
// status writer, so the read-then-write here does not need a lock.
func (r *Redis) UpdateStatus(ctx context.Context, eventID string, status schema.Status, processedAt time.Time) error {
	current, err := r.rdb.HGet(ctx, redisEventKey+eventID, "status").Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return fmt.Errorf("load event status: %w", err)
	}
	if schema.Status(current) == status {
		return nil
	}
	if !schema.CanTransition(schema.Status(current), status) {
		return &StatusTransitionError{EventID: eventID, From: schema.Status(current), To: status}
	}

	err = r.rdb.HSet(ctx, redisEventKey+eventID,
		"status", string(status),
		"processed_at", processedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, eventID string) (eventbus.StoredEvent, bool, error) {
	vals, err := r.rdb.HGetAll(ctx, redisEventKey+eventID).Result()
	if err != nil {
		return eventbus.StoredEvent{}, false, fmt.Errorf("load event: %w", err)
	}
	if len(vals) == 0 {
		return eventbus.StoredEvent{}, false, nil
	}
	evt, err := eventFromHash(eventID, vals)
	if err != nil {
		return eventbus.StoredEvent{}, false, err
	}
	return evt, true, nil
}

func (r *Redis) ListByType(ctx context.Context, eventType string, q eventbus.Query) ([]eventbus.StoredEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	min := "-inf"
	if !q.Since.IsZero() {
		min = strconv.FormatInt(q.Since.UTC().UnixNano(), 10)
	}
	ids, err := r.rdb.ZRevRangeByScore(ctx, redisTypeKey+eventType, &redis.ZRangeBy{
		Min:    min,
		Max:    "+inf",
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	out := make([]eventbus.StoredEvent, 0, len(ids))
	for _, id := range ids {
		vals, err := r.rdb.HGetAll(ctx, redisEventKey+id).Result()
		if err != nil {
			return nil, fmt.Errorf("load event %s: %w", id, err)
		}
		if len(vals) == 0 {
			// Pruned between the zset read and here.
			continue
		}
		evt, err := eventFromHash(id, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	return out, nil
}

// PruneProcessed deletes processed events created before the cutoff and
// reports how many went away. Pending events older than the cutoff stay.
func (r *Redis) PruneProcessed(ctx context.Context, before time.Time) (int64, error) {
	max := "(" + strconv.FormatInt(before.UTC().UnixNano(), 10)

	var pruned int64
	var offset int64
	for {
		ids, err := r.rdb.ZRangeByScore(ctx, redisCreatedKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    max,
			Offset: offset,
			Count:  prunePageSize,
		}).Result()
		if err != nil {
			return pruned, fmt.Errorf("scan prune candidates: %w", err)
		}
		if len(ids) == 0 {
			return pruned, nil
		}
		for _, id := range ids {
			removed, err := r.pruneOne(ctx, id)
			if err != nil {
				return pruned, err
			}
			if removed {
				pruned++
			} else {
				// Kept entries shift the next page window forward.
				offset++
			}
		}
	}
}

func (r *Redis) pruneOne(ctx context.Context, id string) (bool, error) {
	status, err := r.rdb.HGet(ctx, redisEventKey+id, "status").Result()
	if errors.Is(err, redis.Nil) {
		// Dangling index entry; drop it everywhere.
		if err := r.removeIndexed(ctx, id, ""); err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load event status: %w", err)
	}
	if schema.Status(status) != schema.StatusProcessed {
		return false, nil
	}

	eventType, err := r.rdb.HGet(ctx, redisEventKey+id, "type").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("load event type: %w", err)
	}
	if err := r.removeIndexed(ctx, id, eventType); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) removeIndexed(ctx context.Context, id, eventType string) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, redisEventKey+id)
	if eventType != "" {
		pipe.ZRem(ctx, redisTypeKey+eventType, id)
	}
	pipe.ZRem(ctx, redisCreatedKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("remove event %s: %w", id, err)
	}
	return nil
}

func eventFromHash(id string, vals map[string]string) (eventbus.StoredEvent, error) {
	var evt eventbus.StoredEvent
	evt.ID = id
	evt.Type = vals["type"]
	evt.Source = vals["source"]
	evt.Priority = schema.Priority(vals["priority"])
	evt.Status = schema.Status(vals["status"])
	evt.Payload = decodeJSON(vals["payload"])
	evt.Metadata = decodeJSONMap(vals["metadata"])

	ts, err := time.Parse(time.RFC3339Nano, vals["created_at"])
	if err != nil {
		return eventbus.StoredEvent{}, fmt.Errorf("parse created_at: %w", err)
	}
	evt.Timestamp = ts

	if v := vals["processed_at"]; v != "" {
		pt, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return eventbus.StoredEvent{}, fmt.Errorf("parse processed_at: %w", err)
		}
		evt.ProcessedAt = pt
	}
	return evt, nil
}

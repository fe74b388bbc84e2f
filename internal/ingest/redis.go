// Package ingest feeds activity events from collectors into the stream.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultStream is the Redis stream collectors append events to.
const DefaultStream = "nuka:collector:events"

// Submitter accepts decoded events. *stream.Stream satisfies it.
type Submitter interface {
	Submit(events []activity.Event) error
}

// RedisSource reads collector events from a Redis stream and submits each
// read as one batch.
type RedisSource struct {
	rdb     *redis.Client
	stream  string
	startID string
	count   int64
	block   time.Duration
	logger  *zap.Logger
}

// NewRedisSource creates a source. startID "$" reads only new entries and
// "0" replays the whole stream.
func NewRedisSource(rdb *redis.Client, stream, startID string, logger *zap.Logger) *RedisSource {
	if stream == "" {
		stream = DefaultStream
	}
	if startID == "" {
		startID = "$"
	}
	return &RedisSource{
		rdb:     rdb,
		stream:  stream,
		startID: startID,
		count:   100,
		block:   2 * time.Second,
		logger:  logger,
	}
}

// Run reads until ctx is cancelled. Submission errors are logged and the
// entries are skipped.
func (r *RedisSource) Run(ctx context.Context, sink Submitter) error {
	lastID := r.startID
	r.logger.Info("collector ingest started", zap.String("stream", r.stream), zap.String("from", lastID))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		results, err := r.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{r.stream, lastID},
			Count:   r.count,
			Block:   r.block,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			r.logger.Warn("collector read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var batch []activity.Event
		for _, res := range results {
			for _, msg := range res.Messages {
				lastID = msg.ID
				events, err := Decode(msg.Values)
				if err != nil {
					r.logger.Warn("skipping undecodable collector entry",
						zap.String("entry", msg.ID), zap.Error(err))
					continue
				}
				batch = append(batch, events...)
			}
		}
		if len(batch) == 0 {
			continue
		}
		if err := sink.Submit(batch); err != nil {
			r.logger.Warn("collector batch rejected",
				zap.Int("events", len(batch)), zap.Error(err))
			continue
		}
		r.logger.Debug("collector batch submitted", zap.Int("events", len(batch)))
	}
}

// Decode reads the "data" field of a stream entry, which holds either one
// JSON event or a JSON array of events. Events of unknown type are dropped.
func Decode(values map[string]interface{}) ([]activity.Event, error) {
	raw, ok := values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data field")
	}
	raw = strings.TrimSpace(raw)

	var events []activity.Event
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return nil, fmt.Errorf("decode event batch: %w", err)
		}
	} else {
		var e activity.Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, e)
	}

	valid := events[:0]
	for _, e := range events {
		if e.Validate() == nil {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no valid events in entry")
	}
	return valid, nil
}

// Publish appends events to a collector stream. Collectors and tests use it.
func Publish(ctx context.Context, rdb *redis.Client, stream string, events []activity.Event) (string, error) {
	if stream == "" {
		stream = DefaultStream
	}
	data, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	id, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", stream, err)
	}
	return id, nil
}

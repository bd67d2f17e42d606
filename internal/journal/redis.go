package journal

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jkyberneees/process-eventemitter/internal/core"
)

const (
	keyPrefix    = "journal:call:"
	notifyPrefix = "journal:update:"
)

// RedisStore keeps one versioned hash per call id.
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	logger  logrus.FieldLogger
}

// NewRedisStore returns a RedisStore with the given options.
func NewRedisStore(opts *redis.Options, logger logrus.FieldLogger) *RedisStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		options: opts,
		logger:  logger.WithField("component", "journal"),
	}
}

// ensureConnection pings Redis and reconnects if needed.
func (s *RedisStore) ensureConnection(ctx context.Context) {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.WithError(err).Warn("reconnecting to redis")
		_ = s.client.Close()
		s.client = redis.NewClient(s.options)
	}
}

func (s *RedisStore) conn(ctx context.Context) *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureConnection(ctx)
	return s.client
}

// Put merges e into the stored hash under an optimistic WATCH transaction.
func (s *RedisStore) Put(ctx context.Context, e Entry, ttl time.Duration) (int64, error) {
	client := s.conn(ctx)
	key := keyPrefix + e.CallID

	var ver int64
	err := client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.HMGet(ctx, key, "version", "state").Result()
		if err != nil {
			return err
		}
		prev, _ := parseInt(current[0])
		ver = prev + 1

		fields := []any{"version", ver, "call_id", e.CallID}
		if e.Emitter != "" {
			fields = append(fields, "emitter", e.Emitter)
		}
		if e.Topic != "" {
			fields = append(fields, "topic", e.Topic)
		}
		prevState, _ := current[1].(string)
		if e.State != "" && !(core.CallState(prevState).Terminal() && !e.State.Terminal()) {
			fields = append(fields, "state", string(e.State), "ok", strconv.FormatBool(e.OK))
		}
		if e.Reason != "" {
			fields = append(fields, "reason", e.Reason)
		}
		if !e.RequestedAt.IsZero() {
			fields = append(fields, "requested_at", e.RequestedAt.Format(time.RFC3339Nano))
		}
		if !e.ResolvedAt.IsZero() {
			fields = append(fields, "resolved_at", e.ResolvedAt.Format(time.RFC3339Nano))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields...)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, err
	}

	if stored, err := s.Get(ctx, e.CallID); err == nil {
		payload, _ := json.Marshal(stored)
		if err := client.Publish(ctx, notifyPrefix+e.CallID, payload).Err(); err != nil {
			s.logger.WithError(err).WithField("call_id", e.CallID).Warn("publish update failed")
		}
	}
	return ver, nil
}

// Get returns the merged entry for callID.
func (s *RedisStore) Get(ctx context.Context, callID string) (*Entry, error) {
	res, err := s.conn(ctx).HGetAll(ctx, keyPrefix+callID).Result()
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	e := &Entry{
		CallID:  callID,
		Emitter: res["emitter"],
		Topic:   res["topic"],
		State:   core.CallState(res["state"]),
		OK:      res["ok"] == "true",
		Reason:  res["reason"],
	}
	e.Version, _ = parseInt(res["version"])
	e.RequestedAt = parseTime(res["requested_at"])
	e.ResolvedAt = parseTime(res["resolved_at"])
	return e, nil
}

func parseInt(v any) (int64, error) {
	s, _ := v.(string)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Watch streams updates for call ids matching a glob pattern.
func (s *RedisStore) Watch(ctx context.Context, pattern string) (<-chan Entry, error) {
	pubsub := s.conn(ctx).PSubscribe(ctx, notifyPrefix+pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	ch := make(chan Entry)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
					return
				}
				s.logger.WithError(err).Warn("watch failed")
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			var e Entry
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				continue
			}
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Delete removes a call from the journal.
func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	return s.conn(ctx).Del(ctx, keyPrefix+callID).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)

package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// Each record is a hash: the immutable payload as JSON under "doc" and the
// mutable lifecycle fields beside it.
const (
	fieldDoc        = "doc"
	fieldStatus     = "status"
	fieldResponse   = "response"
	fieldAnsweredAt = "answered_at"
	fieldAnsweredBy = "answered_by"
)

// KEYS: record, all index, pending index. ARGV: id, created_at, doc, status.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
redis.call('HSET', KEYS[1], 'doc', ARGV[3], 'status', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
if ARGV[4] == 'pending' then
  redis.call('ZADD', KEYS[3], ARGV[2], ARGV[1])
end
return 'ok'
`)

// KEYS: record, pending index. ARGV: id, from, to, has_response, response,
// answered_at, answered_by.
var transitionScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then
  return 'missing'
end
if status ~= ARGV[2] then
  return 'conflict'
end
redis.call('HSET', KEYS[1], 'status', ARGV[3])
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'response', ARGV[5])
end
if ARGV[6] ~= '' then
  redis.call('HSET', KEYS[1], 'answered_at', ARGV[6])
end
if ARGV[7] ~= '' then
  redis.call('HSET', KEYS[1], 'answered_by', ARGV[7])
end
if ARGV[3] ~= 'pending' then
  redis.call('ZREM', KEYS[2], ARGV[1])
end
return 'ok'
`)

// RedisStore keeps the document in Redis. Writes are Lua scripts so the
// status check and the write are one atomic step; changes are broadcast
// on a pub/sub channel that every process subscribes to.
type RedisStore struct {
	Hub

	client *redis.Client
	prefix string
	sub    *redis.PubSub
	done   chan struct{}
	logger *logger.Logger
}

// NewRedisStore connects to redisURL and subscribes to the change channel.
func NewRedisStore(ctx context.Context, redisURL, prefix string, log *logger.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(ctx, client, prefix, log)
}

// NewRedisStoreWithClient creates a store from an existing client.
func NewRedisStoreWithClient(ctx context.Context, client *redis.Client, prefix string, log *logger.Logger) (*RedisStore, error) {
	if prefix == "" {
		prefix = "rishvan:"
	}
	s := &RedisStore{
		client: client,
		prefix: prefix,
		done:   make(chan struct{}),
		logger: log.WithFields(zap.String("component", "redis-store")),
	}
	s.sub = client.Subscribe(ctx, s.channel())
	if _, err := s.sub.Receive(ctx); err != nil {
		_ = s.sub.Close()
		return nil, fmt.Errorf("subscribe to changes: %w", err)
	}
	go s.relay()
	return s, nil
}

func (s *RedisStore) key(id string) string { return s.prefix + "req:" + id }
func (s *RedisStore) allKey() string       { return s.prefix + "all" }
func (s *RedisStore) pendingKey() string   { return s.prefix + "pending" }
func (s *RedisStore) channel() string      { return s.prefix + "changes" }

// relay turns pub/sub messages into observer notifications.
func (s *RedisStore) relay() {
	defer close(s.done)
	for msg := range s.sub.Channel() {
		var rc changeMessage
		if err := json.Unmarshal([]byte(msg.Payload), &rc); err != nil {
			s.logger.Warn("dropping malformed change", zap.Error(err))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r, err := s.Get(ctx, rc.ID)
		cancel()
		if err != nil {
			s.logger.Warn("failed to load changed request", zap.String("request_id", rc.ID), zap.Error(err))
			continue
		}
		s.Notify(Change{Kind: rc.Kind, Request: r, At: time.Now()})
	}
}

func (s *RedisStore) publish(ctx context.Context, kind ChangeKind, id string) {
	payload, _ := json.Marshal(changeMessage{Kind: kind, ID: id})
	if err := s.client.Publish(ctx, s.channel(), payload).Err(); err != nil {
		s.logger.Warn("failed to publish change", zap.String("request_id", id), zap.Error(err))
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*request.InputRequest, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(fields)
}

func decodeHash(fields map[string]string) (*request.InputRequest, error) {
	var r request.InputRequest
	if err := json.Unmarshal([]byte(fields[fieldDoc]), &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	r.Status = lifecycle.Status(fields[fieldStatus])
	r.Response = nil
	r.AnsweredAt = nil
	r.AnsweredBy = fields[fieldAnsweredBy]
	if v, ok := fields[fieldResponse]; ok {
		r.Response = &v
	}
	if v, ok := fields[fieldAnsweredAt]; ok {
		at, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode answered_at: %w", err)
		}
		r.AnsweredAt = &at
	}
	return &r, nil
}

func (s *RedisStore) Insert(ctx context.Context, r *request.InputRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	res, err := insertScript.Run(ctx, s.client,
		[]string{s.key(r.ID), s.allKey(), s.pendingKey()},
		r.ID, r.CreatedAt, string(doc), string(r.Status),
	).Text()
	if err != nil {
		return fmt.Errorf("insert request %s: %w", r.ID, err)
	}
	if res == "exists" {
		return ErrExists
	}
	s.publish(ctx, ChangeInserted, r.ID)
	return nil
}

func (s *RedisStore) CompareAndTransition(ctx context.Context, id string, from lifecycle.Status, t Transition) (*request.InputRequest, error) {
	hasResponse, response := "0", ""
	if t.Response != nil {
		hasResponse, response = "1", *t.Response
	}
	answeredAt := ""
	if t.AnsweredAt != nil {
		answeredAt = strconv.FormatInt(*t.AnsweredAt, 10)
	}
	res, err := transitionScript.Run(ctx, s.client,
		[]string{s.key(id), s.pendingKey()},
		id, string(from), string(t.To), hasResponse, response, answeredAt, t.AnsweredBy,
	).Text()
	if err != nil {
		return nil, fmt.Errorf("transition request %s: %w", id, err)
	}
	switch res {
	case "missing":
		return nil, ErrNotFound
	case "conflict":
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, ErrConflict
	}
	s.publish(ctx, ChangeTransitioned, id)
	return s.Get(ctx, id)
}

func (s *RedisStore) List(ctx context.Context, status lifecycle.Status) ([]*request.InputRequest, error) {
	index := s.allKey()
	if status == lifecycle.StatusPending {
		index = s.pendingKey()
	}
	ids, err := s.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	if len(ids) == 0 {
		return []*request.InputRequest{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load requests: %w", err)
	}

	out := make([]*request.InputRequest, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		r, err := decodeHash(fields)
		if err != nil {
			return nil, err
		}
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close stops the change relay and closes the client.
func (s *RedisStore) Close() error {
	err := s.sub.Close()
	<-s.done
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter fields kept per session.
const (
	FieldRxBytes = "rx_bytes"
	FieldTxBytes = "tx_bytes"
	FieldFrames  = "frames"
	FieldInvalid = "invalid"
)

// ErrNoStats is returned for sessions without counters.
var ErrNoStats = errors.New("store: no stats for session")

// SessionInfo is what the registry records about an attached channel.
type SessionInfo struct {
	ID        string
	GatewayID string
	Kind      string
	Remote    string
}

// Stats are the running counters of one session.
type Stats struct {
	RxBytes int64 `json:"rx_bytes"`
	TxBytes int64 `json:"tx_bytes"`
	Frames  int64 `json:"frames"`
	Invalid int64 `json:"invalid"`
}

// SessionStore tracks live sessions and their counters.
type SessionStore interface {
	Register(ctx context.Context, info SessionInfo) error
	Touch(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Incr(ctx context.Context, id, field string, n int64) error
	Stats(ctx context.Context, id string) (Stats, error)
	ResetStats(ctx context.Context, id string) error
}

// RedisSessions keeps the registry in Redis: a string key per session that
// expires unless touched, and a counter hash alongside it.
type RedisSessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessions creates a store whose session keys live for ttl unless
// touched.
func NewRedisSessions(client *redis.Client, ttl time.Duration) *RedisSessions {
	return &RedisSessions{client: client, ttl: ttl}
}

func sessionKey(id string) string { return fmt.Sprintf("framegate:sess:%s", id) }
func statsKey(id string) string   { return fmt.Sprintf("framegate:stats:%s", id) }

func (info SessionInfo) value() string {
	return fmt.Sprintf("%s:%s:%s", info.GatewayID, info.Kind, info.Remote)
}

// Register writes the session key with the configured TTL.
func (r *RedisSessions) Register(ctx context.Context, info SessionInfo) error {
	if err := r.client.Set(ctx, sessionKey(info.ID), info.value(), r.ttl).Err(); err != nil {
		return fmt.Errorf("register session %s: %w", info.ID, err)
	}
	return nil
}

// Touch refreshes the session TTL and keeps the counters for a day.
func (r *RedisSessions) Touch(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Expire(ctx, sessionKey(id), r.ttl)
	pipe.Expire(ctx, statsKey(id), 24*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// Remove deletes the session key. Counters stay until they expire.
func (r *RedisSessions) Remove(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}

// Incr adds n to a counter field.
func (r *RedisSessions) Incr(ctx context.Context, id, field string, n int64) error {
	return r.client.HIncrBy(ctx, statsKey(id), field, n).Err()
}

// Stats reads the counter hash.
func (r *RedisSessions) Stats(ctx context.Context, id string) (Stats, error) {
	values, err := r.client.HGetAll(ctx, statsKey(id)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("read stats %s: %w", id, err)
	}
	if len(values) == 0 {
		return Stats{}, fmt.Errorf("%w: %s", ErrNoStats, id)
	}
	return parseStats(values)
}

// ResetStats deletes the counter hash.
func (r *RedisSessions) ResetStats(ctx context.Context, id string) error {
	return r.client.Del(ctx, statsKey(id)).Err()
}

func parseStats(values map[string]string) (Stats, error) {
	var st Stats
	fields := map[string]*int64{
		FieldRxBytes: &st.RxBytes,
		FieldTxBytes: &st.TxBytes,
		FieldFrames:  &st.Frames,
		FieldInvalid: &st.Invalid,
	}
	for name, dst := range fields {
		raw, ok := values[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Stats{}, fmt.Errorf("parse %s: %w", name, err)
		}
		*dst = v
	}
	return st, nil
}

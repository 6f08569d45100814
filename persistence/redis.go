package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/cache"
	"github.com/BaSui01/callflow/internal/pool"
)

// RedisSink appends events to a Redis Stream and keeps a per-session
// transcript list plus a session summary hash.
//
// Keys (with the configured prefix):
//
//	<stream_key>                       XADD type, session_id, payload
//	<prefix>event:<key>                SETNX idempotency claim
//	<prefix>session:<id>:transcript    RPUSH TurnCompleted JSON
//	<prefix>session:<id>               HSET SessionEnded fields
type RedisSink struct {
	manager   *cache.Manager
	streamKey string
	maxLen    int64
	ttl       time.Duration
	owned     bool
}

// NewRedisSink writes through manager. The manager is not closed by Close.
func NewRedisSink(manager *cache.Manager, cfg config.RedisConfig) *RedisSink {
	ttl := cfg.EventTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	streamKey := cfg.StreamKey
	if streamKey == "" {
		streamKey = manager.Key("turns")
	}
	return &RedisSink{
		manager:   manager,
		streamKey: streamKey,
		maxLen:    cfg.MaxStreamLen,
		ttl:       ttl,
	}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) transcriptKey(sessionID string) string {
	return s.manager.Key("session", sessionID, "transcript")
}

func (s *RedisSink) sessionKey(sessionID string) string {
	return s.manager.Key("session", sessionID)
}

func encodeEvent(ev Event) ([]byte, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	var v any = ev.Session
	if ev.Turn != nil {
		v = ev.Turn
	}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	// Encoder 追加换行
	out := make([]byte, buf.Len()-1)
	copy(out, buf.Bytes())
	return out, nil
}

// Write implements Sink.
func (s *RedisSink) Write(ctx context.Context, ev Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}

	claimKey := s.manager.Key("event", ev.Key())
	claimed, err := s.manager.Claim(ctx, claimKey, s.ttl)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	sessionID := ev.SessionID()
	_, err = s.manager.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.streamKey,
			MaxLen: s.maxLen,
			Approx: s.maxLen > 0,
			Values: map[string]any{
				"type":       string(ev.Type),
				"session_id": sessionID,
				"payload":    payload,
			},
		})
		switch {
		case ev.Turn != nil:
			key := s.transcriptKey(sessionID)
			pipe.RPush(ctx, key, payload)
			pipe.Expire(ctx, key, s.ttl)
		case ev.Session != nil:
			key := s.sessionKey(sessionID)
			pipe.HSet(ctx, key, sessionFields(ev.Session))
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		_ = s.manager.Release(context.WithoutCancel(ctx), claimKey)
		return fmt.Errorf("redis write %s: %w", ev.Type, err)
	}
	return nil
}

func sessionFields(e *SessionEnded) map[string]any {
	return map[string]any{
		"call_sid":       e.CallSID,
		"reason":         e.Reason,
		"turns":          strconv.FormatInt(e.Turns, 10),
		"completed":      strconv.FormatInt(e.Completed, 10),
		"inbound_drops":  strconv.FormatInt(e.InboundDrops, 10),
		"outbound_drops": strconv.FormatInt(e.OutboundDrops, 10),
		"started_at":     e.StartedAt.UTC().Format(time.RFC3339Nano),
		"ended_at":       e.EndedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Transcript reads back the completed turns of a session.
func (s *RedisSink) Transcript(ctx context.Context, sessionID string) ([]TurnCompleted, error) {
	raw, err := s.manager.Client().LRange(ctx, s.transcriptKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	out := make([]TurnCompleted, 0, len(raw))
	for _, item := range raw {
		var t TurnCompleted
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode transcript entry: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// Close implements Sink. It closes the manager only when the sink created it.
func (s *RedisSink) Close(context.Context) error {
	if s.owned {
		return s.manager.Close()
	}
	return nil
}

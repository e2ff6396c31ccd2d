package telemetry

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisRetention caps the diagnostic list kept in Redis.
const DefaultRedisRetention = 1000

// RedisSink keeps the most recent events in a capped Redis list so
// support staff can inspect failures without a log search.
type RedisSink struct {
	client *redis.Client
	key    string
	limit  int64
	logger zerolog.Logger
}

// NewRedisSink stores events under "<channelBase>:recording-events".
func NewRedisSink(client *redis.Client, channelBase string, limit int64, logger zerolog.Logger) *RedisSink {
	if limit <= 0 {
		limit = DefaultRedisRetention
	}
	key := "recording-events"
	if channelBase != "" {
		key = channelBase + ":" + key
	}
	return &RedisSink{
		client: client,
		key:    key,
		limit:  limit,
		logger: logger.With().Str("component", "telemetry_redis").Logger(),
	}
}

func (s *RedisSink) Key() string { return s.key }

func (s *RedisSink) Report(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode telemetry event")
		return
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, 0, s.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn().Err(err).Str("key", s.key).Msg("failed to store telemetry event")
	}
}

// Recent returns up to n stored events, newest first.
func (s *RedisSink) Recent(ctx context.Context, n int64) ([]Event, error) {
	if n <= 0 {
		n = s.limit
	}
	raw, err := s.client.LRange(ctx, s.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var event Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			s.logger.Debug().Err(err).Msg("skipping malformed telemetry entry")
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// NATSSink publishes events for downstream analytics consumers.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSSink publishes on "<channelBase>.recording.events" with colons
// turned into subject separators.
func NewNATSSink(conn *nats.Conn, channelBase string, logger zerolog.Logger) *NATSSink {
	subject := "recording.events"
	if channelBase != "" {
		subject = strings.ReplaceAll(channelBase, ":", ".") + "." + subject
	}
	return &NATSSink{
		conn:    conn,
		subject: subject,
		logger:  logger.With().Str("component", "telemetry_nats").Logger(),
	}
}

func (s *NATSSink) Subject() string { return s.subject }

func (s *NATSSink) Report(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode telemetry event")
		return
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", s.subject).Msg("failed to publish telemetry event")
	}
}

package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
	"github.com/redis/go-redis/v9"
)

const defaultRedisChannelPrefix = "trainpos:positions:"

// RedisSink publishes each record as JSON on a channel. A commit is sent
// as one MULTI/EXEC block.
type RedisSink struct {
	cfg     config.RedisSinkConfig
	channel string
	client  *redis.Client
}

func NewRedisSink(route config.ID, cfg config.RedisSinkConfig) *RedisSink {
	channel := cfg.Channel
	if channel == "" {
		channel = defaultRedisChannelPrefix + string(route)
	}
	return &RedisSink{cfg: cfg, channel: channel}
}

func (s *RedisSink) Init(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     s.cfg.Addr,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis sink: ping %s: %w", s.cfg.Addr, err)
	}
	s.client = client
	return nil
}

func (s *RedisSink) Commit(ctx context.Context, records []events.Record) error {
	if len(records) == 0 {
		return nil
	}
	if s.client == nil {
		return fmt.Errorf("redis sink: not initialized")
	}
	payloads := make([][]byte, 0, len(records))
	for i := range records {
		data, err := json.Marshal(events.GetEventMap(&records[i]))
		if err != nil {
			return fmt.Errorf("redis sink: encode: %w", err)
		}
		payloads = append(payloads, data)
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, data := range payloads {
			pipe.Publish(ctx, s.channel, data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sink: publish: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

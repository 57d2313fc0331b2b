package sinks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
)

type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

func NewLogSink(cfg config.ConsoleSinkConfig) *LogSink {
	level := slog.LevelInfo
	if cfg.Level != "" {
		switch cfg.Level {
		case config.ConsoleSinkLevelDebug:
			level = slog.LevelDebug
		case config.ConsoleSinkLevelInfo:
			level = slog.LevelInfo
		case config.ConsoleSinkLevelWarning:
			level = slog.LevelWarn
		case config.ConsoleSinkLevelError:
			level = slog.LevelError
		}
	}
	return &LogSink{
		logger: slog.Default(),
		level:  level,
	}
}

func (s *LogSink) Init(context.Context) error {
	return nil
}

func (s *LogSink) Commit(ctx context.Context, records []events.Record) error {
	for i := range records {
		args := []any{}
		for k, v := range events.GetEventMap(&records[i]) {
			if fmt.Sprintf("%v", v) != "" {
				args = append(args, k, v)
			}
		}
		s.logger.Log(ctx, s.level, "Event: Record", args...)
	}
	return nil
}

func (s *LogSink) Close() error {
	return nil
}

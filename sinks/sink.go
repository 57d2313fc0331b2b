package sinks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fjlanasa/trainpos/api/v1/events"
	"github.com/fjlanasa/trainpos/config"
)

// Sink persists the records of one route. Commit is one atomic unit: either
// every record of the call is stored or none is.
type Sink interface {
	Init(ctx context.Context) error
	Commit(ctx context.Context, records []events.Record) error
	Close() error
}

// Columns of a persisted record, in storage order.
var Columns = []string{
	"vehicle_id",
	"journey_number",
	"received_time",
	"modified_time",
	"measured_time",
	"sweref99tm_x",
	"sweref99tm_y",
	"wgs84_lon",
	"wgs84_lat",
	"bearing",
	"speed",
}

func NewSink(route config.ID, cfg config.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case config.SinkTypeSQLite:
		return NewSQLiteSink(cfg.SQLite), nil
	case config.SinkTypePostgres:
		return NewPostgresSink(route, cfg.Postgres), nil
	case config.SinkTypeParquet:
		return NewParquetSink(route, cfg.Parquet), nil
	case config.SinkTypeRedis:
		return NewRedisSink(route, cfg.Redis), nil
	case config.SinkTypeNATS:
		return NewNATSSink(route, cfg.NATS), nil
	case config.SinkTypeConsole:
		return NewLogSink(cfg.Console), nil
	}
	return nil, fmt.Errorf("invalid sink type: %s", cfg.Type)
}

// row flattens a record into Columns order.
func row(r events.Record) []any {
	return []any{
		r.VehicleID,
		r.JourneyNumber,
		epochSeconds(r.ReceivedTime),
		epochSeconds(r.ModifiedTime),
		epochSeconds(r.MeasuredTime),
		r.SwerefX,
		r.SwerefY,
		r.Longitude,
		r.Latitude,
		intOrNil(r.Bearing),
		intOrNil(r.Speed),
	}
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func tableName(route config.ID, configured string) string {
	if configured != "" {
		return configured
	}
	return config.DefaultTable + "_" + string(route)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

package config

type SinkType string

const (
	SinkTypeSQLite   SinkType = "sqlite"
	SinkTypePostgres SinkType = "postgres"
	SinkTypeParquet  SinkType = "parquet"
	SinkTypeRedis    SinkType = "redis"
	SinkTypeNATS     SinkType = "nats"
	SinkTypeConsole  SinkType = "console"
)

type ConsoleSinkLevel string

const (
	ConsoleSinkLevelDebug   ConsoleSinkLevel = "debug"
	ConsoleSinkLevelInfo    ConsoleSinkLevel = "info"
	ConsoleSinkLevelWarning ConsoleSinkLevel = "warn"
	ConsoleSinkLevelError   ConsoleSinkLevel = "error"
)

const DefaultTable = "positions"

type SQLiteSinkConfig struct {
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

type PostgresSinkConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type BucketSinkConfig struct {
	URL             string `yaml:"url"`
	BucketName      string `yaml:"bucket_name"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type ParquetSinkConfig struct {
	// Path is a local directory; ignored when Bucket.BucketName is set.
	Path   string           `yaml:"path"`
	Bucket BucketSinkConfig `yaml:"bucket"`
}

type ConsoleSinkConfig struct {
	Level ConsoleSinkLevel `yaml:"level"`
}

type RedisSinkConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type NATSSinkConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type SinkConfig struct {
	Type SinkType `yaml:"type" validate:"required,oneof=sqlite postgres parquet redis nats console"`
	// Destinations
	SQLite   SQLiteSinkConfig   `yaml:"sqlite"`
	Postgres PostgresSinkConfig `yaml:"postgres"`
	Parquet  ParquetSinkConfig  `yaml:"parquet"`
	Redis    RedisSinkConfig    `yaml:"redis"`
	NATS     NATSSinkConfig     `yaml:"nats"`
	Console  ConsoleSinkConfig  `yaml:"console"`
}

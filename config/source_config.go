package config

import "time"

// Source

const (
	DefaultSourceURL     = "https://api.trafikinfo.trafikverket.se/v2/data.json"
	DefaultNamespace     = "järnväg.trafikinfo"
	DefaultSchemaVersion = "1.1"
	DefaultLimit         = 10000
)

type SourceConfig struct {
	URL           string        `yaml:"url" validate:"required,url"`
	APIKey        string        `yaml:"api_key" validate:"required"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	Limit         int           `yaml:"limit" validate:"gt=0"`
	Namespace     string        `yaml:"namespace"`
	SchemaVersion string        `yaml:"schema_version"`
}

func (c *SourceConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultSourceURL
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Limit == 0 {
		c.Limit = DefaultLimit
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.SchemaVersion == "" {
		c.SchemaVersion = DefaultSchemaVersion
	}
}

type PollerConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
}

func (c *PollerConfig) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Second
	}
}

type DiscoveryConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval" validate:"gt=0"`
	// MaxAttempts bounds retries of transient failures; 0 retries forever.
	MaxAttempts               int    `yaml:"max_attempts" validate:"gte=0"`
	AnnouncementSchemaVersion string `yaml:"announcement_schema_version"`
	StationSchemaVersion      string `yaml:"station_schema_version"`
}

func (c *DiscoveryConfig) ApplyDefaults() {
	if c.RetryInterval == 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.AnnouncementSchemaVersion == "" {
		c.AnnouncementSchemaVersion = "1.9"
	}
	if c.StationSchemaVersion == "" {
		c.StationSchemaVersion = "1.5"
	}
}

// Journeys

type JourneyConfig struct {
	IdleThreshold    time.Duration `yaml:"idle_threshold" validate:"gt=0"`
	FirstJourney     int           `yaml:"first_journey" validate:"gte=0"`
	SkipFirstJourney bool          `yaml:"skip_first_journey"`
}

func (c *JourneyConfig) ApplyDefaults() {
	if c.IdleThreshold == 0 {
		c.IdleThreshold = time.Hour
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ID string

const DefaultDataDir = "./data"

type ConfigYaml struct {
	DataDir     string             `yaml:"data_dir"`
	Source      SourceConfig       `yaml:"source"`
	Poller      PollerConfig       `yaml:"poller"`
	Journeys    JourneyConfig      `yaml:"journeys"`
	Discovery   DiscoveryConfig    `yaml:"discovery"`
	StateStore  StateStoreConfig   `yaml:"state_store"`
	Routes      []RouteConfigYaml  `yaml:"routes" validate:"required,min=1,dive"`
	EventServer *EventServerConfig `yaml:"event_server"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Logging     LoggingConfig      `yaml:"logging"`
}

type Config struct {
	DataDir     string
	Source      SourceConfig
	Poller      PollerConfig
	Journeys    JourneyConfig
	Discovery   DiscoveryConfig
	StateStore  StateStoreConfig
	Routes      []RouteConfig
	EventServer *EventServerConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig
}

type EventServerConfig struct {
	Port       string `yaml:"port" validate:"required"`
	Path       string `yaml:"path"`
	GTFSRTPath string `yaml:"gtfs_rt_path"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file"`
}

// ReadConfig loads .env (if present), expands ${VAR} references in the YAML
// file, then validates and materializes the result.
func ReadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(yamlFile)
}

func ParseConfig(data []byte) (*Config, error) {
	var config ConfigYaml
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, err
	}
	config.applyDefaults()

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	routes, err := config.materializeRoutes()
	if err != nil {
		return nil, err
	}

	return &Config{
		DataDir:     config.DataDir,
		Source:      config.Source,
		Poller:      config.Poller,
		Journeys:    config.Journeys,
		Discovery:   config.Discovery,
		StateStore:  config.StateStore,
		Routes:      routes,
		EventServer: config.EventServer,
		Metrics:     config.Metrics,
		Logging:     config.Logging,
	}, nil
}

func (c *ConfigYaml) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.Source.ApplyDefaults()
	c.Poller.ApplyDefaults()
	c.Journeys.ApplyDefaults()
	c.Discovery.ApplyDefaults()
	if c.StateStore.Type == "" {
		c.StateStore.Type = InMemoryStateStoreType
	}
	if c.EventServer != nil {
		if c.EventServer.Path == "" {
			c.EventServer.Path = "/events"
		}
		if c.EventServer.GTFSRTPath == "" {
			c.EventServer.GTFSRTPath = "/gtfs-rt/vehicle-positions"
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *ConfigYaml) materializeRoutes() ([]RouteConfig, error) {
	seen := map[ID]bool{}
	routes := make([]RouteConfig, 0, len(c.Routes))
	for _, r := range c.Routes {
		route, err := r.Materialize()
		if err != nil {
			return nil, err
		}
		if seen[route.ID] {
			return nil, fmt.Errorf("duplicate route id %q", route.ID)
		}
		seen[route.ID] = true

		if route.Sink.Type == SinkTypeSQLite && route.Sink.SQLite.Path == "" {
			route.Sink.SQLite.Path = filepath.Join(c.DataDir, fmt.Sprintf("db_%s.sqlite3", route.ID))
		}
		if route.Sink.Type == SinkTypeParquet && route.Sink.Parquet.Path == "" && route.Sink.Parquet.Bucket.BucketName == "" {
			route.Sink.Parquet.Path = filepath.Join(c.DataDir, "parquet", string(route.ID))
		}
		routes = append(routes, route)
	}
	return routes, nil
}

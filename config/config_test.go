package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestReadConfig(t *testing.T) {
	t.Setenv("TEST_TRAFIKVERKET_KEY", "secret-key")
	testConfig := `
data_dir: /tmp/trains
source:
  api_key: ${TEST_TRAFIKVERKET_KEY}
  timeout: 10s
poller:
  interval: 2s
journeys:
  idle_threshold: 3h
  skip_first_journey: true
state_store:
  type: redis
  redis:
    addr: localhost:6379
routes:
  - stations: ["X", "Y"]
    sink:
      type: sqlite
  - id: core
    stations: ["Y", "Z"]
    rectangle:
      corner_a: { lon: 18.0, lat: 59.5 }
      corner_b: { lon: 17.5, lat: 59.0 }
    sink:
      type: postgres
      postgres:
        dsn: postgres://localhost/trains
event_server:
  port: "8080"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.yaml")
	err := os.WriteFile(configPath, []byte(testConfig), 0644)
	if err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := ReadConfig(configPath)
	if err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	if config.Source.APIKey != "secret-key" {
		t.Errorf("expected api key to be expanded from env, got %q", config.Source.APIKey)
	}
	if config.Source.URL != DefaultSourceURL {
		t.Errorf("expected default source url, got %q", config.Source.URL)
	}
	if config.Source.Timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", config.Source.Timeout)
	}
	if config.Poller.Interval != 2*time.Second {
		t.Errorf("expected interval 2s, got %v", config.Poller.Interval)
	}
	if config.Journeys.IdleThreshold != 3*time.Hour || !config.Journeys.SkipFirstJourney {
		t.Errorf("unexpected journeys config %+v", config.Journeys)
	}
	if config.StateStore.Type != RedisStateStoreType {
		t.Errorf("expected redis state store, got %v", config.StateStore.Type)
	}

	if len(config.Routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(config.Routes))
	}
	first := config.Routes[0]
	if first.ID != "X_Y" {
		t.Errorf("expected derived route id X_Y, got %q", first.ID)
	}
	if !reflect.DeepEqual(first.Stations, []string{"X", "Y"}) {
		t.Errorf("unexpected stations %v", first.Stations)
	}
	if first.Rectangle != nil {
		t.Error("expected no rectangle on first route")
	}
	if want := filepath.Join("/tmp/trains", "db_X_Y.sqlite3"); first.Sink.SQLite.Path != want {
		t.Errorf("expected sqlite path %q, got %q", want, first.Sink.SQLite.Path)
	}

	second := config.Routes[1]
	if second.ID != "core" {
		t.Errorf("expected route id core, got %q", second.ID)
	}
	if second.Rectangle == nil {
		t.Fatal("expected rectangle on second route")
	}
	if second.Rectangle.MinX() != 17.5 || second.Rectangle.MaxY() != 59.5 {
		t.Errorf("unexpected rectangle %v", second.Rectangle)
	}
	if second.Sink.Type != SinkTypePostgres || second.Sink.Postgres.DSN != "postgres://localhost/trains" {
		t.Errorf("unexpected sink %+v", second.Sink)
	}

	if config.EventServer == nil || config.EventServer.Path != "/events" {
		t.Errorf("expected default event server path, got %+v", config.EventServer)
	}
}

func TestReadConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte(`
source:
  api_key: k
routes:
  - stations: ["Cst"]
    sink:
      type: console
`))
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if config.DataDir != DefaultDataDir {
		t.Errorf("expected default data dir, got %q", config.DataDir)
	}
	if config.Poller.Interval != time.Second {
		t.Errorf("expected default interval 1s, got %v", config.Poller.Interval)
	}
	if config.Journeys.IdleThreshold != time.Hour {
		t.Errorf("expected default idle threshold 1h, got %v", config.Journeys.IdleThreshold)
	}
	if config.Source.Limit != DefaultLimit {
		t.Errorf("expected default limit, got %d", config.Source.Limit)
	}
	if config.StateStore.Type != InMemoryStateStoreType {
		t.Errorf("expected in-memory state store, got %v", config.StateStore.Type)
	}
	if config.EventServer != nil {
		t.Error("expected event server to stay disabled")
	}
}

func TestReadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing api key",
			yaml: `
routes:
  - stations: ["Cst"]
    sink: {type: console}
`,
		},
		{
			name: "no routes",
			yaml: `
source: {api_key: k}
`,
		},
		{
			name: "route without stations",
			yaml: `
source: {api_key: k}
routes:
  - id: empty
    sink: {type: console}
`,
		},
		{
			name: "unknown sink type",
			yaml: `
source: {api_key: k}
routes:
  - stations: ["Cst"]
    sink: {type: carrier_pigeon}
`,
		},
		{
			name: "duplicate route ids",
			yaml: `
source: {api_key: k}
routes:
  - stations: ["A", "B"]
    sink: {type: console}
  - id: A_B
    stations: ["C"]
    sink: {type: console}
`,
		},
		{
			name: "degenerate rectangle",
			yaml: `
source: {api_key: k}
routes:
  - stations: ["A"]
    rectangle:
      corner_a: {lon: 17.5, lat: 59.0}
      corner_b: {lon: 17.5, lat: 59.5}
    sink: {type: console}
`,
		},
		{
			name: "latitude out of range",
			yaml: `
source: {api_key: k}
routes:
  - stations: ["A"]
    rectangle:
      corner_a: {lon: 17.5, lat: 95.0}
      corner_b: {lon: 18.5, lat: 59.5}
    sink: {type: console}
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml)); err == nil {
				t.Error("ParseConfig() error = nil, want error")
			}
		})
	}
}

func TestReadConfigInvalidPath(t *testing.T) {
	_, err := ReadConfig("nonexistent.yaml")
	if err == nil {
		t.Error("ReadConfig() error = nil, want error")
	}
}

func TestReadConfigInvalidYAML(t *testing.T) {
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())

	invalidYAML := `
routes:
  - stations:
      - [invalid yaml
`
	if _, err := tmpfile.Write([]byte(invalidYAML)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	_, err = ReadConfig(tmpfile.Name())
	if err == nil {
		t.Error("ReadConfig() error = nil, want error")
	}
}

package config

// StateStore

type StateStoreType string

const (
	InMemoryStateStoreType StateStoreType = "in_memory"
	RedisStateStoreType    StateStoreType = "redis"
)

type RedisStateStoreConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type StateStoreConfig struct {
	Type  StateStoreType        `yaml:"type" validate:"omitempty,oneof=in_memory redis"`
	Redis RedisStateStoreConfig `yaml:"redis"`
}

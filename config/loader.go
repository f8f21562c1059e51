package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied before the file is read.
const (
	DefaultClientID      = "trackmesh"
	DefaultTopicPrefix   = "overdrive"
	DefaultPublishPrefix = "trackmesh"
	DefaultBaudRate      = 115200
	DefaultPerSecond     = 20
	DefaultBurst         = 10
	DefaultScanSpeed     = 400
	DefaultHTTPPort      = 8080
	DefaultMapCacheDir   = ".maps"
)

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Link: LinkMQTT,
		MQTT: MQTTConfig{
			ClientID:      DefaultClientID,
			TopicPrefix:   DefaultTopicPrefix,
			PublishPrefix: DefaultPublishPrefix,
		},
		Serial:      SerialConfig{BaudRate: DefaultBaudRate},
		Commands:    CommandConfig{PerSecond: DefaultPerSecond, Burst: DefaultBurst},
		HTTP:        HTTPConfig{Port: DefaultHTTPPort},
		ScanSpeed:   DefaultScanSpeed,
		MapCacheDir: DefaultMapCacheDir,
	}
}

// LoadDotEnv loads variables from an env file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load reads the YAML configuration at path on top of Default, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that adjust the
// configuration before validating it.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// ApplyEnv overrides file values with MQTT_BROKER, MQTT_CLIENT_ID,
// MQTT_USERNAME, MQTT_PASSWORD and TRACKMESH_SERIAL_PORT when they are set.
func ApplyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&cfg.MQTT.Broker, "MQTT_BROKER")
	override(&cfg.MQTT.ClientID, "MQTT_CLIENT_ID")
	override(&cfg.MQTT.Username, "MQTT_USERNAME")
	override(&cfg.MQTT.Password, "MQTT_PASSWORD")
	override(&cfg.Serial.Port, "TRACKMESH_SERIAL_PORT")
}

// Validate checks struct tags and the link specific requirements.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Link {
	case LinkMQTT:
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required for link %q", cfg.Link)
		}
	case LinkSerial:
		if cfg.Serial.Port == "" {
			return fmt.Errorf("serial.port is required for link %q", cfg.Link)
		}
	}

	seen := make(map[string]bool, len(cfg.Vehicles))
	for i, vc := range cfg.Vehicles {
		if seen[vc.ID] {
			return fmt.Errorf("vehicles[%d]: duplicate id %s", i, vc.ID)
		}
		seen[vc.ID] = true
	}
	return nil
}

// Save writes the configuration to a YAML file
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

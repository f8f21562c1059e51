// Package config loads the service configuration from a YAML file, an
// optional .env file and environment overrides.
package config

// Link kinds.
const (
	LinkMQTT   = "mqtt"
	LinkSerial = "serial"
)

// Config represents the full configuration file
type Config struct {
	Link        string          `yaml:"link" json:"link" validate:"oneof=mqtt serial"`
	MQTT        MQTTConfig      `yaml:"mqtt" json:"mqtt"`
	Serial      SerialConfig    `yaml:"serial" json:"serial"`
	Commands    CommandConfig   `yaml:"commands" json:"commands"`
	HTTP        HTTPConfig      `yaml:"http" json:"http"`
	ScanSpeed   int16           `yaml:"scanSpeed" json:"scanSpeed" validate:"gt=0,lte=1500"` // mm/s while mapping
	Vehicles    []VehicleConfig `yaml:"vehicles" json:"vehicles" validate:"dive"`
	MapCacheDir string          `yaml:"mapCacheDir,omitempty" json:"mapCacheDir,omitempty"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker" validate:"omitempty,url"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
	TopicPrefix   string `yaml:"topicPrefix" json:"topicPrefix"`     // bridge topics: {prefix}/{id}/notify|write
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"` // mapping events: {prefix}/{id}/...
}

// SerialConfig selects the serial bridge device.
type SerialConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baudRate" json:"baudRate" validate:"gte=0"`
}

// CommandConfig paces outbound commands per vehicle.
type CommandConfig struct {
	PerSecond float64 `yaml:"perSecond" json:"perSecond" validate:"gt=0"`
	Burst     int     `yaml:"burst" json:"burst" validate:"gt=0"`
}

// HTTPConfig configures the read-only API.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
}

// VehicleConfig defines a vehicle from config file
type VehicleConfig struct {
	ID    string `yaml:"id" json:"id" validate:"required"`
	Color string `yaml:"color,omitempty" json:"color,omitempty" validate:"omitempty,hexcolor"`
}

// GetVehicleByID returns the vehicle config for the given ID
func (c *Config) GetVehicleByID(id string) *VehicleConfig {
	for i := range c.Vehicles {
		if c.Vehicles[i].ID == id {
			return &c.Vehicles[i]
		}
	}
	return nil
}

// VehicleIDs returns the configured vehicle ids in file order.
func (c *Config) VehicleIDs() []string {
	ids := make([]string, 0, len(c.Vehicles))
	for _, v := range c.Vehicles {
		ids = append(ids, v.ID)
	}
	return ids
}

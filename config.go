package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type MqttConfig struct {
	Host         string `yaml:"host"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	StateTopic   string `yaml:"state_topic"`
	BirthMessage string `yaml:"birth_message"`
	WillMessage  string `yaml:"will_message"`
	BaseTopic    string `yaml:"base_topic"`
}

type WebSocketConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type AdapterConfig struct {
	Path  string `yaml:"path"`
	Ports int    `yaml:"ports"`
}

type InputsConfig struct {
	// PreemptActive makes a start request deselect the current active input instead of
	// failing with InputBusy.
	PreemptActive   bool          `yaml:"preempt_active"`
	DefaultEdidPort int           `yaml:"default_edid_port"`
	ResyncInterval  time.Duration `yaml:"resync_interval"`
}

type HomeAssistantConfig struct {
	Enable          bool   `yaml:"enable"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
}

type Config struct {
	Mqtt          MqttConfig          `yaml:"mqtt"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Adapter       AdapterConfig       `yaml:"adapter"`
	Inputs        InputsConfig        `yaml:"inputs"`
	HomeAssistant HomeAssistantConfig `yaml:"home_assistant"`
}

func defaultConfig() Config {
	return Config{
		Mqtt: MqttConfig{
			BaseTopic: "hdmi2mqtt",
		},
		WebSocket: WebSocketConfig{
			Listen: ":9998",
			Path:   "/jsonrpc",
		},
		Adapter: AdapterConfig{
			Path:  "/run/hdmi2mqtt/inputs",
			Ports: 3,
		},
		Inputs: InputsConfig{
			PreemptActive:  true,
			ResyncInterval: 5 * time.Minute,
		},
	}
}

// ParseConfig reads config.yaml from configPath. Options missing from the file keep
// their defaults; a missing file yields the defaults.
func ParseConfig(configPath string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(configPath + "config.yaml")
	if errors.Is(err, fs.ErrNotExist) {
		log.WithFields(log.Fields{
			"path": configPath + "config.yaml",
		}).Warn("No configuration file found, using defaults")
	} else if err != nil {
		return nil, err
	} else if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	config.Mqtt.BaseTopic = strings.Trim(config.Mqtt.BaseTopic, "/")

	if config.HomeAssistant.Enable && config.HomeAssistant.DiscoveryPrefix == "" {
		config.HomeAssistant.DiscoveryPrefix = "homeassistant"
	} else {
		config.HomeAssistant.DiscoveryPrefix = strings.Trim(config.HomeAssistant.DiscoveryPrefix, "/")
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (config *Config) validate() error {
	if config.Adapter.Ports <= 0 {
		return fmt.Errorf("adapter.ports must be positive, got %d", config.Adapter.Ports)
	}

	if config.Inputs.DefaultEdidPort < 0 || config.Inputs.DefaultEdidPort >= config.Adapter.Ports {
		return fmt.Errorf("inputs.default_edid_port %d is not a valid port", config.Inputs.DefaultEdidPort)
	}

	if config.Inputs.ResyncInterval <= 0 {
		return fmt.Errorf("inputs.resync_interval must be positive")
	}

	return nil
}

func (config *Config) Save(configPath string) error {
	data, err := yaml.Marshal(config)

	if err != nil {
		return err
	}

	return os.WriteFile(configPath+"config.yaml", data, 0644)
}

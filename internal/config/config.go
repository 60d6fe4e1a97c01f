package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config структура конфигурации.
type Config struct {
	Logger       LogConf       // Logger - конфигурация регистратора.
	SACN         SACNConf      `toml:"sacn"`          // SACN - приём E1.31.
	ArtNet       ArtNetConf    `toml:"artnet"`        // ArtNet - приём Art-Net.
	LIFX         LIFXConf      `toml:"lifx"`          // LIFX - отправка команд лампам.
	Dispatch     DispatchConf  `toml:"dispatch"`      // Dispatch - ограничение частоты команд.
	MQTT         MQTTConf      // MQTT - конфигурация MQTT клиента.
	Metrics      MetricsConf   // Metrics - HTTP сервер Prometheus.
	MappingsFile string        `toml:"mappings-file"` // MappingsFile - отдельный файл с маппингами (yaml/toml).
	Lights       []LightConf   `toml:"lights"`        // Lights - адресная книга ламп.
	Mappings     []MappingConf `toml:"mappings"`      // Mappings - маппинги, если MappingsFile не задан.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level   string `toml:"log-level"` // Level - уровень логирования.
	NoColor bool   `toml:"no-color"`  // NoColor - отключить цвета.
}

// SACNConf структура конфигурации.
type SACNConf struct {
	Enabled   bool   `toml:"enabled"`
	Interface string `toml:"interface"` // Interface - IP интерфейса для multicast, пусто = все.
	Port      int    `toml:"port"`
}

// ArtNetConf структура конфигурации.
type ArtNetConf struct {
	Enabled        bool   `toml:"enabled"`
	Listen         string `toml:"listen"`          // Listen - адрес UDP, например ":6454".
	CIDR           string `toml:"cidr"`            // CIDR - выбрать локальный IP из сети.
	UniverseOffset int    `toml:"universe-offset"` // UniverseOffset - прибавляется к port-address.
}

// LIFXConf структура конфигурации.
type LIFXConf struct {
	Bind        string   `toml:"bind"`         // Bind - локальный адрес сокета.
	Port        int      `toml:"port"`         // Port - порт ламп.
	AckRequired bool     `toml:"ack-required"` // AckRequired - ждать подтверждения от лампы.
	Kelvin      uint16   `toml:"kelvin"`
	SendTimeout Duration `toml:"send-timeout"`
}

// DispatchConf структура конфигурации.
type DispatchConf struct {
	Tick            Duration `toml:"tick"`
	MinInterval     Duration `toml:"min-interval"`
	Threshold       int      `toml:"threshold"`
	Fade            Duration `toml:"fade"`
	ActivityTimeout Duration `toml:"activity-timeout"`
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	Enabled        bool     `toml:"enabled"`
	ClientID       string   `toml:"clientID"`        // ClientID - имя клиента, пусто = sacn2lifx-<uuid>.
	Schema         string   `toml:"schema"`          // Schema - тип подключения (tcp, ssl, ws).
	Host           string   `toml:"server"`          // Host - адрес MQTT сервера.
	Port           string   `toml:"port"`            // Port - порт MQTT сервера.
	User           string   `toml:"user"`            // User - логин для подключения к MQTT серверу.
	Password       string   `toml:"password"`        // Password - пароль для подключения к MQTT серверу.
	Qos            byte     `toml:"qos"`             // Qos - качество обслуживания.
	TopicPrefix    string   `toml:"topic-prefix"`    // TopicPrefix - корень топиков.
	StatusInterval Duration `toml:"status-interval"` // StatusInterval - период публикации статуса.
}

// MetricsConf структура конфигурации.
type MetricsConf struct {
	Listen string `toml:"listen"` // Listen - адрес HTTP, пусто = выключено.
}

// LightConf describes one light in the address book.
type LightConf struct {
	ID    string `toml:"id" yaml:"id"`
	IP    string `toml:"ip" yaml:"ip"`
	Label string `toml:"label" yaml:"label"`
}

// Duration is a time.Duration decoded from strings like "20ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		SACN:   SACNConf{Enabled: true, Port: 5568},
		ArtNet: ArtNetConf{Listen: ":6454", UniverseOffset: 1},
		LIFX: LIFXConf{
			Bind:        "0.0.0.0:0",
			Port:        56700,
			Kelvin:      3500,
			SendTimeout: Duration{250 * time.Millisecond},
		},
		Dispatch: DispatchConf{
			Tick:            Duration{20 * time.Millisecond},
			MinInterval:     Duration{20 * time.Millisecond},
			Threshold:       1,
			Fade:            Duration{20 * time.Millisecond},
			ActivityTimeout: Duration{2 * time.Second},
		},
		MQTT: MQTTConf{
			Schema:         "tcp",
			Port:           "1883",
			TopicPrefix:    "sacn2lifx",
			StatusInterval: Duration{5 * time.Second},
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if lvl := os.Getenv("SACN2LIFX_LOG_LEVEL"); lvl != "" {
		cfg.Logger.Level = lvl
	}
	if err := cfg.validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Dispatch.Tick.Duration <= 0 {
		return fmt.Errorf("dispatch.tick must be positive, got %s", c.Dispatch.Tick)
	}
	if c.Dispatch.MinInterval.Duration < 0 {
		return fmt.Errorf("dispatch.min-interval must not be negative, got %s", c.Dispatch.MinInterval)
	}
	if c.Dispatch.Threshold < 0 || c.Dispatch.Threshold > 255 {
		return fmt.Errorf("dispatch.threshold must be 0-255, got %d", c.Dispatch.Threshold)
	}
	if c.LIFX.SendTimeout.Duration <= 0 {
		return fmt.Errorf("lifx.send-timeout must be positive, got %s", c.LIFX.SendTimeout)
	}
	if c.SACN.Enabled && (c.SACN.Port <= 0 || c.SACN.Port > 65535) {
		return fmt.Errorf("sacn.port out of range: %d", c.SACN.Port)
	}
	return nil
}

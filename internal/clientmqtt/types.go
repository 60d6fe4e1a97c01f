package clientmqtt

import (
	"time"

	"sacn2lifx/internal/color"
	"sacn2lifx/internal/engine"
	"sacn2lifx/internal/mapping"
)

type MQTTConf struct {
	ClientID       string        // ClientID - уникальное имя клиента для брокеров.
	Schema         string        // Schema - тип подключения.
	Host           string        // Host - адрес MQTT сервера.
	Port           string        // Port - порт MQTT сервера.
	User           string        // User - логин для подключения к MQTT серверу.
	Password       string        // Password - пароль для подключения к MQTT серверу.
	Qos            byte          // Qos - качество обслуживания.
	TopicPrefix    string        // TopicPrefix - корень топиков.
	StatusInterval time.Duration // StatusInterval - период публикации статуса, 0 = выключено.
}

// Controller is the part of the engine driven over MQTT.
type Controller interface {
	TestSend(lightID string, rgb color.RGB, brightness float64) error
	ReplaceMappings(ms []mapping.Mapping) error
	Status() engine.Status
}

// TestPayload is the body of a <prefix>/test/<light_id> message. Brightness defaults to 1.
type TestPayload struct {
	R          uint8    `json:"r"`
	G          uint8    `json:"g"`
	B          uint8    `json:"b"`
	Brightness *float64 `json:"brightness,omitempty"`
}

// Result is published after every control message.
type Result struct {
	OK      bool   `json:"ok"`
	Version uint64 `json:"version,omitempty"`
	LightID string `json:"light_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	topicStatus         = "status"
	topicTest           = "test"
	topicTestResult     = "test-result"
	topicMappingsSet    = "mappings/set"
	topicMappingsResult = "mappings/result"
)

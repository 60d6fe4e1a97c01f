package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"sacn2lifx/internal/color"
	"sacn2lifx/internal/config"
	"sacn2lifx/internal/logger"
)

// ClientMQTT структура клиента MQTT.
type ClientMQTT struct {
	ctx       context.Context
	log       logger.Logger
	cfgClient MQTTConf
	ctl       Controller
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	publish   func(topic string, payload []byte)
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf, ctl Controller) *ClientMQTT {
	if cfgClient.ClientID == "" {
		cfgClient.ClientID = "sacn2lifx-" + uuid.NewString()
	}
	if cfgClient.Schema == "" {
		cfgClient.Schema = "tcp"
	}
	if cfgClient.TopicPrefix == "" {
		cfgClient.TopicPrefix = "sacn2lifx"
	}
	c := &ClientMQTT{
		ctx:       context.Background(),
		log:       log,
		cfgClient: cfgClient,
		ctl:       ctl,
	}
	c.publish = c.pub
	return c
}

func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mlog := c.log.With(logger.Fields{"module": "paho"})
		mqtt.ERROR = log.New(mlog.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.CRITICAL = log.New(mlog.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.WARN = log.New(mlog.WriterLevel(logrus.WarnLevel), "", 0)
	}

	c.ctx = ctx

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	if c.cfgClient.StatusInterval > 0 {
		go c.statusLoop()
	}

	c.log.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

func (c *ClientMQTT) topic(name string) string {
	return c.cfgClient.TopicPrefix + "/" + name
}

// Subscriptions are renewed on every (re)connect.
func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
	c.sub(c.topic(topicTest+"/+"), func(_ mqtt.Client, msg mqtt.Message) {
		c.publishJSON(c.topic(topicTestResult), c.handleTest(msg.Topic(), msg.Payload()))
	})
	c.sub(c.topic(topicMappingsSet), func(_ mqtt.Client, msg mqtt.Message) {
		c.publishJSON(c.topic(topicMappingsResult), c.handleMappings(msg.Payload()))
	})
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.With(logger.Fields{"module": "mqtt"}).Debugf("unexpected message from topic: %s", msg.Topic())
}

func (c *ClientMQTT) handleTest(topic string, payload []byte) Result {
	log := c.log.With(logger.Fields{"module": "mqtt", "topic": topic})

	id, p, err := parseTest(c.topic(topicTest+"/"), topic, payload)
	if err != nil {
		log.Errorf("message could not be parsed: %v", err)
		return Result{LightID: id, Error: err.Error()}
	}

	brightness := 1.0
	if p.Brightness != nil {
		brightness = *p.Brightness
	}
	if err := c.ctl.TestSend(id, color.RGB{R: p.R, G: p.G, B: p.B}, brightness); err != nil {
		log.Warnf("test send rejected: %v", err)
		return Result{LightID: id, Error: err.Error()}
	}
	log.Debugf("test color %d,%d,%d brightness %.2f submitted for %s", p.R, p.G, p.B, brightness, id)
	return Result{OK: true, LightID: id}
}

func (c *ClientMQTT) handleMappings(payload []byte) Result {
	log := c.log.With(logger.Fields{"module": "mqtt"})

	var in []config.MappingConf
	if err := json.Unmarshal(payload, &in); err != nil {
		log.Errorf("mappings could not be parsed: %v", err)
		return Result{Error: fmt.Sprintf("invalid mappings payload: %v", err)}
	}
	if err := c.ctl.ReplaceMappings(config.ToMappings(in)); err != nil {
		log.Warnf("mappings rejected: %v", err)
		return Result{Error: err.Error()}
	}
	return Result{OK: true, Version: c.ctl.Status().MappingVersion}
}

func parseTest(prefix, topic string, payload []byte) (string, TestPayload, error) {
	var p TestPayload
	id := strings.ToLower(strings.TrimPrefix(topic, prefix))
	if id == "" || id == topic || strings.Contains(id, "/") {
		return "", p, fmt.Errorf("no light id in topic %q", topic)
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return id, p, fmt.Errorf("invalid test payload: %w", err)
	}
	return id, p, nil
}

func (c *ClientMQTT) statusLoop() {
	t := time.NewTicker(c.cfgClient.StatusInterval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			c.publishJSON(c.topic(topicStatus), c.ctl.Status())
		}
	}
}

func (c *ClientMQTT) publishJSON(topic string, v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		c.log.With(logger.Fields{"module": "mqtt"}).Errorf("public topic %s. msg: %v", topic, err)
		return
	}
	c.publish(topic, msg)
}

func (c *ClientMQTT) sub(topic string, handler mqtt.MessageHandler) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, handler)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("topic %s subscription error. %v", topic, token.Error())
				return
			}
		}
		c.log.With(logger.Fields{"module": "mqtt"}).Debugf("topic %s subscribed", topic)
	}()
}

func (c *ClientMQTT) pub(topic string, msg []byte) {
	token := c.client.Publish(topic, c.cfgClient.Qos, false, msg)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.With(logger.Fields{"module": "mqtt"}).Errorf("error publish topic %s. %v", topic, token.Error())
			}
		}
	}()
}

package mqtt

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/ericogr/airsense-mqtt/pkg/config"
)

const (
	// defaults
	DefaultServer   = "tcp://localhost:1883"
	DefaultClientID = "airsense"
	qos             = 0
	disconnectQuiet = 250
)

// MQTTOutput publishes and subscribes below a process-wide topic prefix.
// Subscriptions are remembered and renewed after every reconnect.
type MQTTOutput struct {
	client mqtt.Client
	prefix string
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]func([]byte)
}

func NewMQTT(cfg config.MQTTConfig) (*MQTTOutput, error) {
	server := cfg.Server
	if server == "" {
		server = DefaultServer
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}

	m := &MQTTOutput{
		prefix: cfg.TopicPrefix,
		log:    logrus.WithField("component", "mqtt"),
		subs:   map[string]func([]byte){},
	}

	opts := mqtt.NewClientOptions().AddBroker(server).SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOnConnectHandler(func(c mqtt.Client) { m.resubscribe() })
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.WithError(err).Warn("mqtt connection lost")
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	m.log.WithField("server", server).Info("mqtt connected")
	return m, nil
}

// Topic returns the full topic name for t.
func (m *MQTTOutput) Topic(t string) string { return m.prefix + t }

func (m *MQTTOutput) Publish(topic string, payload []byte) error {
	if m.client == nil {
		return fmt.Errorf("mqtt client not connected")
	}
	token := m.client.Publish(m.Topic(topic), qos, false, payload)
	token.Wait()
	return token.Error()
}

// Subscribe registers handler for topic. The handler runs on a paho
// callback goroutine.
func (m *MQTTOutput) Subscribe(topic string, handler func([]byte)) error {
	m.mu.Lock()
	m.subs[topic] = handler
	m.mu.Unlock()

	if !m.client.IsConnected() {
		// picked up by the OnConnect handler
		return nil
	}
	return m.subscribe(topic, handler)
}

func (m *MQTTOutput) subscribe(topic string, handler func([]byte)) error {
	full := m.Topic(topic)
	token := m.client.Subscribe(full, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", full, err)
	}
	m.log.WithField("topic", full).Debug("subscribed")
	return nil
}

func (m *MQTTOutput) resubscribe() {
	m.mu.Lock()
	subs := make(map[string]func([]byte), len(m.subs))
	for t, h := range m.subs {
		subs[t] = h
	}
	m.mu.Unlock()

	for t, h := range subs {
		if err := m.subscribe(t, h); err != nil {
			m.log.WithError(err).Error("mqtt resubscribe failed")
		}
	}
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(disconnectQuiet)
	}
	return nil
}

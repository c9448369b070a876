package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/banshee-data/lidar-buffer/internal/lidar/l2frames"
)

// Publisher is the subset of mqtt.Client used to send frames.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTConfig configures an MQTTPublisher.
type MQTTConfig struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string // base topic; frames go to <Topic>/<sensor_id>
	ClientID       string // prefix; a random suffix keeps concurrent runs apart
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	MaxPoints      int // see NewFrameMessage
}

// Default MQTT settings.
const (
	DefaultTopic          = "lidar/frames"
	DefaultClientID       = "lidar-frames"
	DefaultConnectTimeout = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// ErrPublishTimeout is returned when the broker does not acknowledge a
// publish within PublishTimeout.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTPublisher publishes frames as JSON. It implements pipeline.FrameSink.
type MQTTPublisher struct {
	client    Publisher
	conn      mqtt.Client // nil when built around an injected Publisher
	cfg       MQTTConfig
	sessionID string

	mu        sync.Mutex
	published uint64
	failed    uint64
}

func (cfg MQTTConfig) withDefaults() MQTTConfig {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	return cfg
}

// ClientOptions builds the paho options for cfg.
func ClientOptions(cfg MQTTConfig) *mqtt.ClientOptions {
	cfg = cfg.withDefaults()
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.New().String()[:8]))
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(5 * time.Second)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Printf("[MQTT] connected to %s", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Printf("[MQTT] connection to %s lost: %v", cfg.Broker, err)
	})
	return opts
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(cfg MQTTConfig, sessionID string) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker address is required")
	}
	cfg = cfg.withDefaults()

	client := mqtt.NewClient(ClientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("failed to connect to %s: timed out after %v", cfg.Broker, cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Broker, err)
	}

	p := NewMQTTPublisherWithClient(client, cfg, sessionID)
	p.conn = client
	return p, nil
}

// NewMQTTPublisherWithClient wraps an existing client. The caller keeps
// ownership of the connection.
func NewMQTTPublisherWithClient(client Publisher, cfg MQTTConfig, sessionID string) *MQTTPublisher {
	return &MQTTPublisher{
		client:    client,
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
	}
}

// Topic returns the topic frames from sensorID are published on.
func (p *MQTTPublisher) Topic(sensorID string) string {
	return p.cfg.Topic + "/" + sensorID
}

// HandleFrame publishes frame and waits for the broker acknowledgement
// required by the configured QoS.
func (p *MQTTPublisher) HandleFrame(frame *l2frames.Frame) error {
	payload, err := json.Marshal(NewFrameMessage(frame, p.sessionID, p.cfg.MaxPoints))
	if err != nil {
		p.recordFailure()
		return fmt.Errorf("failed to encode frame %s: %w", frame.ID, err)
	}

	topic := p.Topic(frame.SensorID)
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	if !token.WaitTimeout(p.cfg.PublishTimeout) {
		p.recordFailure()
		return fmt.Errorf("%w: frame %s on %s after %v", ErrPublishTimeout, frame.ID, topic, p.cfg.PublishTimeout)
	}
	if err := token.Error(); err != nil {
		p.recordFailure()
		return fmt.Errorf("failed to publish frame %s on %s: %w", frame.ID, topic, err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *MQTTPublisher) recordFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

// Stats returns how many frames were published and how many failed.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published, p.failed
}

// Close disconnects a connection opened by NewMQTTPublisher.
func (p *MQTTPublisher) Close() {
	if p.conn == nil {
		return
	}
	p.conn.Disconnect(250)
	published, failed := p.Stats()
	log.Printf("[MQTT] disconnected: %d frames published, %d failed", published, failed)
}

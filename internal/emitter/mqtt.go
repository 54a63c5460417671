// Package emitter publishes session events to an MQTT broker so other services can react
// to emotion changes in real time.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/moodlens/internal/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Config selects the broker and topic layout.
type Config struct {
	Broker      string `mapstructure:"broker" yaml:"broker"` // host:port, empty disables MQTT
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
}

// EmotionEvent is the payload published for every computed classification.
type EmotionEvent struct {
	Session    string    `json:"session"`
	Time       time.Time `json:"time"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// StatusEvent is published when a session starts or stops.
type StatusEvent struct {
	Session string    `json:"session"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
}

// SnapshotEvent is published when a snapshot is written.
type SnapshotEvent struct {
	Session string    `json:"session"`
	Path    string    `json:"path"`
	Time    time.Time `json:"time"`
}

// MQTTEmitter publishes session events. It implements session.Sink.
type MQTTEmitter struct {
	cfg       Config
	Client    mqtt.Client
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "moodlens"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "moodlens"
	}
	return &MQTTEmitter{
		cfg:       cfg,
		newClient: mqtt.NewClient,
		published: make(map[string]uint64),
	}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		log.WithFields(log.Fields{"broker": e.cfg.Broker, "client_id": e.cfg.ClientID}).Info("MQTT connection established")
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		log.WithError(err).WithField("broker", e.cfg.Broker).Warn("MQTT connection lost, will auto-reconnect")
	}

	e.Client = e.newClient(opts)
	log.WithField("broker", e.cfg.Broker).Info("Connecting to MQTT broker")

	token := e.Client.Connect()
	var err error
	select {
	case <-token.Done():
		if terr := token.Error(); terr != nil {
			err = fmt.Errorf("mqtt connection failed: %w", terr)
		}
	case <-time.After(5 * time.Second):
		err = fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		// Stop the background connect retries of the abandoned client.
		e.Client.Disconnect(0)
		e.Client = nil
		return err
	}

	e.setConnected(true)
	return nil
}

// Topic builds <prefix>/<session>/<kind>.
func (e *MQTTEmitter) Topic(sessionID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", e.cfg.TopicPrefix, sessionID, kind)
}

// SessionStarted publishes a "running" status.
func (e *MQTTEmitter) SessionStarted(_ context.Context, id string, at time.Time) error {
	return e.publish(e.Topic(id, "status"), StatusEvent{Session: id, State: session.Running.String(), Time: at})
}

// SessionStopped publishes an "idle" status.
func (e *MQTTEmitter) SessionStopped(_ context.Context, id string, at time.Time) error {
	return e.publish(e.Topic(id, "status"), StatusEvent{Session: id, State: session.Idle.String(), Time: at})
}

// Record publishes one classification.
func (e *MQTTEmitter) Record(_ context.Context, id string, entry session.LogEntry) error {
	return e.publish(e.Topic(id, "emotion"), EmotionEvent{
		Session:    id,
		Time:       entry.Time,
		Label:      entry.Label,
		Confidence: entry.Confidence,
	})
}

// SnapshotSaved publishes the snapshot path.
func (e *MQTTEmitter) SnapshotSaved(_ context.Context, id, path string, at time.Time) error {
	return e.publish(e.Topic(id, "snapshot"), SnapshotEvent{Session: id, Path: path, Time: at})
}

func (e *MQTTEmitter) publish(topic string, v any) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := e.Client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	log.WithFields(log.Fields{"topic": topic, "size": len(payload)}).Debug("Event published")
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		log.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

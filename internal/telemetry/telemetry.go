// Package telemetry periodically publishes session statistics to an MQTT
// broker as retained JSON messages.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	DefaultInterval     = 5 * time.Second
	disconnectQuiesceMs = 250
)

// Config configures the MQTT client. ClientID defaults to a random UUID
// and Topic to "hwcodec/<ClientID>/stats".
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Interval time.Duration
}

// WithDefaults fills the zero fields. Callers sharing one Config between
// NewClient and New should resolve it once so both see the same client ID.
func (c Config) WithDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "hwcodec-" + uuid.NewString()
	}
	if c.Topic == "" {
		c.Topic = "hwcodec/" + c.ClientID + "/stats"
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// NewClient returns a client for cfg.Broker that keeps retrying the
// connection in the background.
func NewClient(cfg Config) mqtt.Client {
	cfg = cfg.WithDefaults()
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetConnectRetry(true)
	opts.SetAutoReconnect(true)
	return mqtt.NewClient(opts)
}

type message struct {
	ClientID string `json:"clientId"`
	Stats    any    `json:"stats"`
}

// Publisher publishes the value returned by a snapshot function.
type Publisher struct {
	log      *slog.Logger
	client   mqtt.Client
	cfg      Config
	snapshot func() any
	last     []byte
}

// New creates a Publisher. If log is nil, slog.Default() is used.
func New(client mqtt.Client, cfg Config, snapshot func() any, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.WithDefaults()
	return &Publisher{
		log:      log.With("component", "telemetry", "topic", cfg.Topic),
		client:   client,
		cfg:      cfg,
		snapshot: snapshot,
	}
}

// Run publishes a snapshot every interval until ctx is cancelled, then
// publishes a final snapshot and disconnects.
func (p *Publisher) Run(ctx context.Context) error {
	p.log.Info("connecting to MQTT broker", "broker", p.cfg.Broker)
	// Connection retries in the background; publishing is best-effort.
	_ = p.client.Connect()
	defer p.client.Disconnect(disconnectQuiesceMs)

	t := time.NewTicker(p.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			p.publish()
			return nil
		case <-t.C:
			p.publish()
		}
	}
}

func (p *Publisher) publish() {
	payload, err := encode(p.cfg.ClientID, p.snapshot())
	if err != nil {
		p.log.Warn("encode stats", "error", err)
		return
	}
	if bytes.Equal(payload, p.last) {
		return
	}
	p.last = payload
	_ = p.client.Publish(p.cfg.Topic, 0, true, payload)
}

func encode(clientID string, stats any) ([]byte, error) {
	b, err := json.Marshal(message{ClientID: clientID, Stats: stats})
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}
	return b, nil
}

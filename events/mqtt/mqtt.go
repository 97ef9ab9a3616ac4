/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package mqtt publishes committed events to an MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/pvm/events"
	"github.com/Comcast/pvm/internal/slogx"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"go.uber.org/multierr"
)

// Config follows mosquitto_pub's settings.
type Config struct {
	Broker        string        `yaml:"broker"`
	ClientID      string        `yaml:"clientId"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	KeepAlive     time.Duration `yaml:"keepAlive"`
	CleanSession  bool          `yaml:"clean"`
	AutoReconnect bool          `yaml:"reconnect"`

	CertFile string `yaml:"cert"`
	KeyFile  string `yaml:"key"`
	CAFile   string `yaml:"cafile"`
	Insecure bool   `yaml:"insecure"`

	// Topic is the topic prefix.  An event goes to Topic/TYPE
	// unless it's an emitted message that names its own topic.
	//
	// A prefix of the form TOPIC:QOS sets the QoS.
	Topic    string `yaml:"topic"`
	Retained bool   `yaml:"retained"`

	// Timeout bounds the wait for each publish acknowledgement.
	Timeout time.Duration `yaml:"timeout"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `yaml:"quiesce"`
}

// DefaultConfig returns a Config for a local broker.
func DefaultConfig() Config {
	return Config{
		Broker:       "tcp://localhost:1883",
		KeepAlive:    10 * time.Second,
		CleanSession: true,
		Topic:        "pvm",
		Timeout:      5 * time.Second,
		Quiesce:      100,
	}
}

// Options makes paho client options.
func (c Config) Options() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(c.ClientID)
	opts.SetKeepAlive(c.KeepAlive)
	opts.SetCleanSession(c.CleanSession)
	opts.SetAutoReconnect(c.AutoReconnect)
	opts.Username = c.Username
	opts.Password = c.Password

	tlsConf := &tls.Config{
		InsecureSkipVerify: c.Insecure,
	}
	if c.CAFile != "" {
		rootCAs, _ := x509.SystemCertPool()
		if rootCAs == nil {
			rootCAs = x509.NewCertPool()
		}
		certs, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, err
		}
		if !rootCAs.AppendCertsFromPEM(certs) {
			return nil, errors.New("no certs appended from " + c.CAFile)
		}
		tlsConf.RootCAs = rootCAs
	}
	if c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}
	opts.SetTLSConfig(tlsConf)
	return opts, nil
}

// Client is the part of paho.Client a Publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

// Publisher is an events.Publisher for an MQTT broker.
type Publisher struct {
	Client   Client
	Topic    string
	QoS      byte
	Retained bool
	Timeout  time.Duration
	Quiesce  uint
	Logger   *slog.Logger
}

// Connect makes a paho client, connects it, and wraps it in a
// Publisher.
func Connect(ctx context.Context, c Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slogx.LoggerName("mqtt"))

	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("connection lost", slogx.Error(err))
	})

	client := paho.NewClient(opts)
	logger.InfoContext(ctx, "connecting", "broker", c.Broker)
	token := client.Connect()
	if !token.WaitTimeout(c.Timeout) {
		return nil, fmt.Errorf("timed out connecting to %s", c.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, err
	}

	topic, qos := ParseTopic(c.Topic)
	return &Publisher{
		Client:   client,
		Topic:    topic,
		QoS:      qos,
		Retained: c.Retained,
		Timeout:  c.Timeout,
		Quiesce:  c.Quiesce,
		Logger:   logger,
	}, nil
}

// Publish sends each event as JSON.  Every event is attempted; the
// errors are combined.
func (p *Publisher) Publish(ctx context.Context, es []events.Event) error {
	var err error
	for _, e := range es {
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		err = multierr.Append(err, p.publish(ctx, e))
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, e events.Event) error {
	topic, qos := p.route(e)
	js, err := json.Marshal(e)
	if err != nil {
		return err
	}
	token := p.Client.Publish(topic, qos, p.Retained, js)
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return err
	}
	if p.Logger != nil {
		p.Logger.DebugContext(ctx, "published", "topic", topic, "type", e.Type)
	}
	return nil
}

// route picks the topic and QoS for an event.  An emitted message
// that's a map with a "topic" (and optionally a "qos") goes there.
func (p *Publisher) route(e events.Event) (string, byte) {
	topic, qos := p.Topic+"/"+e.Type, p.QoS
	if e.Type != events.MessageEmitted {
		return topic, qos
	}
	m, is := e.Data.(map[string]interface{})
	if !is {
		return topic, qos
	}
	if s, is := m["topic"].(string); is && s != "" {
		topic = s
	}
	if f, is := m["qos"].(float64); is && 0 <= f && f <= 2 {
		qos = byte(f)
	}
	return topic, qos
}

// Close disconnects.
func (p *Publisher) Close() error {
	p.Client.Disconnect(p.Quiesce)
	return nil
}

// ParseTopic extracts the QoS from a topic of the form TOPIC:QOS.
func ParseTopic(s string) (string, byte) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return s, 0
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 || 2 < n {
		return s, 0
	}
	return s[:i], byte(n)
}

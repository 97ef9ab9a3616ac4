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

package mqtt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Comcast/pvm/events"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type token struct {
	paho.Token
	err error
}

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }

type published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

type client struct {
	published    []published
	fail         map[string]error
	disconnected bool
}

func (c *client) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return &token{err: c.fail[topic]}
}

func (c *client) Disconnect(uint) {
	c.disconnected = true
}

func TestParseTopic(t *testing.T) {
	tests := []struct {
		in    string
		topic string
		qos   byte
	}{
		{"pvm", "pvm", 0},
		{"pvm:1", "pvm", 1},
		{"a/b:2", "a/b", 2},
		{"pvm:9", "pvm:9", 0},
		{"pvm:x", "pvm:x", 0},
	}
	for _, tt := range tests {
		topic, qos := ParseTopic(tt.in)
		if topic != tt.topic || qos != tt.qos {
			t.Errorf("%s: got %s %d", tt.in, topic, qos)
		}
	}
}

func TestPublish(t *testing.T) {
	c := &client{}
	p := &Publisher{Client: c, Topic: "pvm", QoS: 1}

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	es := []events.Event{
		{Type: events.InstanceStarted, InstanceID: "i1", At: at},
		{Type: events.MessageEmitted, InstanceID: "i1", At: at, Data: map[string]interface{}{
			"topic": "orders/shipped",
			"qos":   0.0,
		}},
		{Type: events.MessageEmitted, InstanceID: "i1", At: at, Data: "plain"},
	}
	if err := p.Publish(context.Background(), es); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, m := range c.published {
		got = append(got, m.Topic)
	}
	want := []string{"pvm/instance-started", "orders/shipped", "pvm/message-emitted"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	if c.published[0].QoS != 1 || c.published[1].QoS != 0 {
		t.Fatal(c.published)
	}

	var e events.Event
	if err := json.Unmarshal(c.published[0].Payload, &e); err != nil {
		t.Fatal(err)
	}
	if e.InstanceID != "i1" || !e.At.Equal(at) {
		t.Fatalf("%#v", e)
	}
}

func TestPublishKeepsGoingAfterErrors(t *testing.T) {
	boom := errors.New("boom")
	c := &client{fail: map[string]error{"pvm/instance-started": boom}}
	p := &Publisher{Client: c, Topic: "pvm"}

	err := p.Publish(context.Background(), []events.Event{
		{Type: events.InstanceStarted},
		{Type: events.InstanceEnded},
	})
	if !errors.Is(err, boom) {
		t.Fatal(err)
	}
	if len(c.published) != 2 {
		t.Fatal(c.published)
	}
}

func TestClose(t *testing.T) {
	c := &client{}
	p := &Publisher{Client: c}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if !c.disconnected {
		t.Fatal("not disconnected")
	}
}

func TestOptions(t *testing.T) {
	c := DefaultConfig()
	c.ClientID = "pvmd"
	opts, err := c.Options()
	if err != nil {
		t.Fatal(err)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "localhost:1883" {
		t.Fatal(opts.Servers)
	}
	if opts.ClientID != "pvmd" {
		t.Fatal(opts.ClientID)
	}

	c.CAFile = "/does/not/exist"
	if _, err = c.Options(); err == nil {
		t.Fatal("expected error")
	}
}

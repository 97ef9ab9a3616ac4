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

package main

import (
	"os"
	"strconv"

	"github.com/Comcast/pvm/events/mqtt"
	"github.com/Comcast/pvm/jobs"

	"github.com/jsccast/yaml"
)

// Config is the daemon's configuration.  A YAML file fills it in,
// and then PVMD_* environment variables override some of it.
type Config struct {
	Listen      string `yaml:"listen"`
	DB          string `yaml:"db"`
	Definitions string `yaml:"definitions"`
	Libraries   string `yaml:"libraries"`

	LogLevel   string `yaml:"logLevel"`
	LogConsole bool   `yaml:"logConsole"`

	// Retries is the number of attempts a command gets when it
	// hits optimistic conflicts.
	Retries int `yaml:"retries"`

	// StepLimit, if positive, bounds the steps a command may run.
	StepLimit int `yaml:"stepLimit"`

	Jobs jobs.Config `yaml:"jobs"`

	// MQTT, if present, publishes events to a broker.
	MQTT *mqtt.Config `yaml:"mqtt,omitempty"`
}

// DefaultConfig returns the settings used when nothing says otherwise.
func DefaultConfig() Config {
	return Config{
		Listen:      ":8080",
		DB:          "pvm.db",
		Definitions: "definitions",
		Libraries:   ".",
		LogLevel:    "info",
		Retries:     3,
		Jobs:        jobs.DefaultConfig(),
	}
}

// LoadConfig reads filename (if not empty) over the defaults and then
// applies the environment.
func LoadConfig(filename string, getenv func(string) string) (Config, error) {
	c := DefaultConfig()
	if filename != "" {
		bs, err := os.ReadFile(filename)
		if err != nil {
			return c, err
		}
		if err = yaml.Unmarshal(bs, &c); err != nil {
			return c, err
		}
	}
	if c.MQTT != nil {
		m := mqtt.DefaultConfig()
		mergeMQTT(&m, c.MQTT)
		c.MQTT = &m
	}
	if err := c.fromEnv(getenv); err != nil {
		return c, err
	}
	return c, c.Jobs.Validate()
}

// mergeMQTT copies the settings in from onto the defaults in to.
func mergeMQTT(to, from *mqtt.Config) {
	d := *to
	*to = *from
	if to.Broker == "" {
		to.Broker = d.Broker
	}
	if to.KeepAlive == 0 {
		to.KeepAlive = d.KeepAlive
	}
	if to.Topic == "" {
		to.Topic = d.Topic
	}
	if to.Timeout == 0 {
		to.Timeout = d.Timeout
	}
	if to.Quiesce == 0 {
		to.Quiesce = d.Quiesce
	}
}

func (c *Config) fromEnv(getenv func(string) string) error {
	strs := map[string]*string{
		"PVMD_LISTEN":      &c.Listen,
		"PVMD_DB":          &c.DB,
		"PVMD_DEFINITIONS": &c.Definitions,
		"PVMD_LIBRARIES":   &c.Libraries,
		"PVMD_LOG_LEVEL":   &c.LogLevel,
		"PVMD_OWNER":       &c.Jobs.Owner,
	}
	for k, p := range strs {
		if v := getenv(k); v != "" {
			*p = v
		}
	}
	if v := getenv("PVMD_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		c.Jobs.Concurrency = n
	}
	if v := getenv("PVMD_MQTT_BROKER"); v != "" {
		if c.MQTT == nil {
			m := mqtt.DefaultConfig()
			c.MQTT = &m
		}
		c.MQTT.Broker = v
	}
	return nil
}

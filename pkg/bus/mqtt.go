// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"github.com/tiendc/go-deepcopy"
	"go.uber.org/zap"
)

const (
	mqttTopicRoot = "daq"
	// DefaultResolveTimeout bounds the wait for a retained stream description.
	DefaultResolveTimeout = 2 * time.Second
	mqttWaitTimeout       = 5 * time.Second
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// ResolveTimeout defaults to DefaultResolveTimeout.
	ResolveTimeout time.Duration
}

// MQTT is a Bus over an MQTT broker. Stream descriptions are retained on
// daq/<name>/info, samples are published as JSON arrays on daq/<name>/samples.
//
// Outlet ownership is tracked per bus. A description retained by an outlet
// of another process is replaced, so a crashed publisher never blocks a
// restart.
type MQTT struct {
	client  paho.Client
	log     *zap.SugaredLogger
	resolve time.Duration

	// resolveMu serializes description lookups; paho keeps one route per topic.
	resolveMu sync.Mutex

	mu     sync.Mutex
	closed bool
	owned  map[string]bool
	subs   map[string]map[int]*queueInlet
	nextID int
}

func infoTopic(name string) string    { return strings.Join([]string{mqttTopicRoot, name, "info"}, "/") }
func samplesTopic(name string) string { return strings.Join([]string{mqttTopicRoot, name, "samples"}, "/") }

// NewMQTT connects to the broker.
func NewMQTT(cfg MQTTConfig, log *zap.SugaredLogger) (*MQTT, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(mqttWaitTimeout)
	opts.SetOnConnectHandler(func(c paho.Client) {
		log.Infof("connected to MQTT broker %s", cfg.BrokerURL)
	})
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Warnf("connection to MQTT broker lost: %s", err)
	})

	client := paho.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.BrokerURL, err)
	}

	resolve := cfg.ResolveTimeout
	if resolve <= 0 {
		resolve = DefaultResolveTimeout
	}

	return &MQTT{
		client:  client,
		log:     log,
		resolve: resolve,
		owned:   make(map[string]bool),
		subs:    make(map[string]map[int]*queueInlet),
	}, nil
}

func wait(token paho.Token) error {
	if !token.WaitTimeout(mqttWaitTimeout) {
		return fmt.Errorf("mqtt operation timed out after %s", mqttWaitTimeout)
	}

	return token.Error()
}

// Outlet publishes the retained stream description.
func (m *MQTT) Outlet(_ context.Context, info StreamInfo) (Outlet, error) {
	if err := info.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()

		return nil, ErrBusClosed
	case m.owned[info.Name]:
		m.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrStreamExists, info.Name)
	}

	m.owned[info.Name] = true
	m.mu.Unlock()

	if err := wait(m.client.Publish(infoTopic(info.Name), 1, true, raw)); err != nil {
		m.release(info.Name)

		return nil, fmt.Errorf("announce stream %s: %w", info.Name, err)
	}

	return &mqttOutlet{bus: m, info: info}, nil
}

func (m *MQTT) release(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.owned, name)
}

// Inlet waits for the retained description of name and subscribes to its
// samples. Inlets of one stream share a single subscription.
func (m *MQTT) Inlet(ctx context.Context, name string) (Inlet, error) {
	info, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	topic := samplesTopic(name)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil, ErrBusClosed
	}

	id := m.nextID
	m.nextID++

	inlet := newQueueInlet(info, DefaultInletBuffer, func() { m.unsubscribe(topic, id) })

	set, subscribed := m.subs[topic]
	if !subscribed {
		set = make(map[int]*queueInlet)
		m.subs[topic] = set
	}

	set[id] = inlet
	m.mu.Unlock()

	if !subscribed {
		if err := wait(m.client.Subscribe(topic, 0, m.dispatch(topic))); err != nil {
			_ = inlet.Close()

			return nil, fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	return inlet, nil
}

// lookup returns the retained description of name.
func (m *MQTT) lookup(ctx context.Context, name string) (StreamInfo, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	found := make(chan StreamInfo, 1)
	topic := infoTopic(name)

	err := wait(m.client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		var info StreamInfo
		if len(msg.Payload()) == 0 || json.Unmarshal(msg.Payload(), &info) != nil {
			return
		}

		select {
		case found <- info:
		default:
		}
	}))
	if err != nil {
		return StreamInfo{}, fmt.Errorf("resolve stream %s: %w", name, err)
	}

	defer m.client.Unsubscribe(topic)

	select {
	case <-ctx.Done():
		return StreamInfo{}, ctx.Err()
	case <-time.After(m.resolve):
		return StreamInfo{}, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
	case info := <-found:
		return info, nil
	}
}

// dispatch fans a samples message out to every inlet of topic. Each inlet
// gets its own copy.
func (m *MQTT) dispatch(topic string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		samples, err := decodeSamples(msg.Payload())
		if err != nil {
			m.log.Warnf("dropping malformed payload on %s: %s", topic, err)

			return
		}

		m.mu.Lock()
		inlets := make([]*queueInlet, 0, len(m.subs[topic]))
		for _, in := range m.subs[topic] {
			inlets = append(inlets, in)
		}
		m.mu.Unlock()

		for i, in := range inlets {
			batch := samples
			if i > 0 {
				batch = nil
				if err := deepcopy.Copy(&batch, samples); err != nil {
					m.log.Warnf("copy samples on %s: %s", topic, err)

					continue
				}
			}

			for _, s := range batch {
				in.offer(s)
			}
		}
	}
}

func (m *MQTT) unsubscribe(topic string, id int) {
	m.mu.Lock()

	set, ok := m.subs[topic]
	if !ok {
		m.mu.Unlock()

		return
	}

	delete(set, id)

	last := len(set) == 0
	if last {
		delete(m.subs, topic)
	}

	closed := m.closed
	m.mu.Unlock()

	if last && !closed {
		if err := wait(m.client.Unsubscribe(topic)); err != nil {
			m.log.Debugf("unsubscribe %s: %s", topic, err)
		}
	}
}

// Close closes every inlet and disconnects from the broker.
func (m *MQTT) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()

		return nil
	}

	m.closed = true

	var inlets []*queueInlet
	for _, set := range m.subs {
		for _, in := range set {
			inlets = append(inlets, in)
		}
	}
	m.mu.Unlock()

	for _, in := range inlets {
		_ = in.Close()
	}

	m.client.Disconnect(250)

	return nil
}

type mqttOutlet struct {
	bus  *MQTT
	info StreamInfo
	once sync.Once
}

func (o *mqttOutlet) Info() StreamInfo {
	return o.info
}

func (o *mqttOutlet) Push(_ context.Context, samples ...Sample) error {
	if len(samples) == 0 {
		return nil
	}

	if err := o.info.check(samples); err != nil {
		return err
	}

	payload, err := encodeSamples(samples)
	if err != nil {
		return err
	}

	return wait(o.bus.client.Publish(samplesTopic(o.info.Name), 0, false, payload))
}

// Close clears the retained description.
func (o *mqttOutlet) Close() error {
	var err error

	o.once.Do(func() {
		defer o.bus.release(o.info.Name)

		err = wait(o.bus.client.Publish(infoTopic(o.info.Name), 1, true, []byte{}))
	})

	return err
}

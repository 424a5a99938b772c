package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ammpio/ammp-edge/internal/model"
)

func init() {
	register(TypeMQTT, openMQTTSub)
}

// mqttSubReader holds a persistent client connected at open time. Every
// incoming message is stashed by topic; read(topic) subscribes
// (idempotently) and returns the most recent payload, or nil if none has
// arrived yet.
type mqttSubReader struct {
	client client

	mu       sync.Mutex
	payloads map[string][]byte
	subbed   map[string]bool
}

// client is the subset of mqtt.Client this reader depends on, narrowed so
// tests can substitute a fake.
type client interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

func openMQTTSub(ctx context.Context, dev model.DeviceConfig) (Reader, error) {
	host := dev.Address.Host
	if host == "" {
		host = "localhost"
	}
	port := portOrDefault(dev.Address.Port, 1883)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetAutoReconnect(true).
		SetCleanSession(true)

	r := &mqttSubReader{payloads: make(map[string][]byte), subbed: make(map[string]bool)}
	opts.SetDefaultPublishHandler(func(c mqtt.Client, msg mqtt.Message) {
		r.mu.Lock()
		r.payloads[msg.Topic()] = msg.Payload()
		r.mu.Unlock()
	})

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt: could not connect to %s:%d: %w", host, port, token.Error())
	}
	r.client = c

	// Brief post-connect settle interval before the first subscription.
	time.Sleep(200 * time.Millisecond)
	return r, nil
}

func (r *mqttSubReader) Read(ctx context.Context, spec model.ReadingSpec) (interface{}, error) {
	if spec.Topic == "" {
		return nil, fmt.Errorf("mqtt: reading %s has no topic", spec.Reading)
	}

	r.mu.Lock()
	subbed := r.subbed[spec.Topic]
	r.mu.Unlock()

	if !subbed {
		token := r.client.Subscribe(spec.Topic, 1, func(c mqtt.Client, msg mqtt.Message) {
			r.mu.Lock()
			r.payloads[msg.Topic()] = msg.Payload()
			r.mu.Unlock()
		})
		token.Wait()
		r.mu.Lock()
		r.subbed[spec.Topic] = true
		r.mu.Unlock()
	}

	r.mu.Lock()
	payload, ok := r.payloads[spec.Topic]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return payload, nil
}

func (r *mqttSubReader) Close() error {
	r.client.Disconnect(250)
	return nil
}

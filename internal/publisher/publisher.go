// Package publisher implements the publisher (C10): the single consumer
// of the volatile queue, stamping metadata, serializing, and publishing
// to the MQTT sink, returning failed items to the queue head and
// throttling retries.
//
// Grounded on the original DataPusher's mqtt branch: reading_offset
// stamped as now - t - reading_duration, compact JSON, QoS 1,
// clean_session=false, publish-in-progress tracked for the spill
// controller's depth heuristic.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/ammpio/ammp-edge/internal/elog"
	"github.com/ammpio/ammp-edge/internal/model"
	"github.com/ammpio/ammp-edge/internal/volatilequeue"
)

const (
	dataTopic = "u/data"

	maxInflight = 2
	qos         = 1
)

// Publisher consumes the volatile queue and publishes to MQTT.
type Publisher struct {
	client  mqtt.Client
	queue   *volatilequeue.Queue
	retries *rate.Limiter

	inProgress int32 // atomic bool
	done       chan struct{}
}

// Config holds the publisher's MQTT sink construction parameters, sourced
// from MQTT_BRIDGE_HOST/MQTT_PORT per spec §6.
type Config struct {
	Host              string
	Port              int
	ClientID          string
	PushThrottleDelay time.Duration
}

func New(cfg Config, queue *volatilequeue.Queue) (*Publisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetOrderMatters(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("publisher: connect: %w", token.Error())
	}

	delay := cfg.PushThrottleDelay
	if delay <= 0 {
		delay = 10 * time.Second
	}
	// One retry permit per delay interval, burst 1: consecutive failed
	// pushes are retried at most once per delay. A failure that follows a
	// quiet period of at least delay finds a permit available and is
	// retried without waiting.
	retries := rate.NewLimiter(rate.Every(delay), 1)

	return &Publisher{client: client, queue: queue, retries: retries, done: make(chan struct{})}, nil
}

// InProgress reports whether a publish attempt is currently outstanding,
// consumed by the spill controller's depth heuristic.
func (p *Publisher) InProgress() bool {
	return atomic.LoadInt32(&p.inProgress) != 0
}

// Run consumes the queue until the shutdown sentinel is reached.
func (p *Publisher) Run() {
	defer close(p.done)
	for {
		item, ok := p.queue.Get()
		if !ok {
			elog.Infof("publisher: shutting down (drained)")
			return
		}

		atomic.StoreInt32(&p.inProgress, 1)
		err := p.publish(item)
		atomic.StoreInt32(&p.inProgress, 0)

		if err != nil {
			elog.Warnf("publisher: publish failed, returning readout at t=%d to queue: %v", item.T, err)
			p.queue.PutBack(item)
			p.retries.Wait(context.Background())
			continue
		}
		elog.Infof("publisher: published readout at t=%d", item.T)
	}
}

// Wait blocks until Run has returned.
func (p *Publisher) Wait() {
	<-p.done
}

func (p *Publisher) publish(item model.Readout) error {
	readingDuration := item.M.ReadingDuration
	offset := int(time.Now().UTC().Sub(time.Unix(item.T, 0).UTC()).Seconds() - readingDuration)
	item.M.ReadingOffset = &offset

	b, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	token := p.client.Publish(dataTopic, qos, false, b)
	token.Wait()
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

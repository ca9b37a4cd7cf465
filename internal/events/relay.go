package events

import (
	"encoding/json"
	"strings"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
)

const (
	OrderAssignedTopic  = "orders.assigned"
	OrderUpdatedTopic   = "orders.updated"
	DriverLocationTopic = "drivers.location"
)

// Relay bridges the in-process event bus to Kafka so out-of-process
// consumers (notification senders) see the same domain events. Delivery
// stays best-effort: a broker failure is logged, never propagated back to
// the publisher.
type Relay struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewRelay(brokers string, logger *logrus.Logger) (*Relay, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &Relay{
		producer: producer,
		logger:   logger,
	}, nil
}

// Attach subscribes the relay to the bus and returns a detach function.
func (r *Relay) Attach(bus *eventbus.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(eventbus.KindOrderAssigned, r.forward),
		bus.Subscribe(eventbus.KindOrderUpdated, r.forward),
		bus.Subscribe(eventbus.KindDriverLocationUpdated, r.forward),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (r *Relay) forward(ev eventbus.Event) {
	var topic, key string
	switch e := ev.(type) {
	case eventbus.OrderAssigned:
		topic, key = OrderAssignedTopic, e.Order.ID
	case eventbus.OrderUpdated:
		topic, key = OrderUpdatedTopic, e.Order.ID
	case eventbus.DriverLocationUpdated:
		topic, key = DriverLocationTopic, e.DriverID
	default:
		r.logger.WithField("event_kind", ev.Kind()).Warn("Unknown event kind, not relayed")
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.WithError(err).Error("Failed to marshal event for relay")
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := r.producer.SendMessage(msg)
	if err != nil {
		r.logger.WithError(err).WithField("topic", topic).Error("Failed to relay event to Kafka")
		return
	}

	r.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"key":       key,
	}).Info("Event relayed to Kafka")
}

func (r *Relay) Close() error {
	return r.producer.Close()
}

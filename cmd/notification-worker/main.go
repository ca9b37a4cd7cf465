package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/internal/events"
)

// notifier turns relayed order events into customer and driver
// notifications. The delivery channel (push, SMS) sits behind this worker;
// here the notifications are logged.
type notifier struct {
	logger *logrus.Logger
}

func (n *notifier) HandleOrderAssigned(event eventbus.OrderAssigned) error {
	n.logger.WithFields(logrus.Fields{
		"order_id":    event.Order.ID,
		"driver_id":   event.DriverID,
		"customer_id": event.Order.CustomerID,
	}).Info("Notify customer: a driver picked up your order")
	return nil
}

func (n *notifier) HandleOrderUpdated(event eventbus.OrderUpdated) error {
	n.logger.WithFields(logrus.Fields{
		"order_id":    event.Order.ID,
		"status":      event.Order.Status,
		"customer_id": event.Order.CustomerID,
	}).Info("Notify customer: order status changed")
	return nil
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	groupID := getEnv("NOTIFICATION_GROUP", "notification-worker-group")

	consumer, err := events.NewKafkaConsumer(kafkaBrokers, groupID, &notifier{logger: logger}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped")
		}
	}()

	logger.Info("Notification worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notification worker...")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

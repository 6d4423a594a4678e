package broker

import (
	"fmt"

	"waterbar/internal/config"
	"waterbar/internal/constants"
	"waterbar/internal/logger"
)

// NewConsumer returns the consumer for a push source mode and the channel,
// topic or subject it reads.
func NewConsumer(cfg *config.Config, log logger.Logger) (Consumer, string, error) {
	switch cfg.Source.Mode {
	case constants.SourceModeListen:
		channel := cfg.Source.Listen.Channel
		if channel == "" {
			channel = constants.DefaultListenChannel
		}
		return NewListenConsumer(cfg.Database.Postgres.DSN(), log), channel, nil
	case constants.SourceModeKafka:
		topic := cfg.Broker.Kafka.Topic
		if topic == "" {
			topic = constants.DefaultCDCTopic
		}
		return NewKafkaConsumer(cfg.Broker.Kafka, log), topic, nil
	case constants.SourceModeNats:
		consumer, err := NewNatsConsumer(cfg.Source.Nats, log)
		if err != nil {
			return nil, "", err
		}
		subject := cfg.Source.Nats.Subject
		if subject == "" {
			subject = constants.DefaultNatsSubject
		}
		return consumer, subject, nil
	default:
		return nil, "", fmt.Errorf("source mode %q has no broker consumer", cfg.Source.Mode)
	}
}

// NewProducer returns the producer the relay republishes database
// notifications with, and the topic or subject it writes to.
func NewProducer(cfg *config.Config, target string, log logger.Logger) (Producer, string, error) {
	switch target {
	case constants.SourceModeKafka:
		if len(cfg.Broker.Kafka.Brokers) == 0 {
			return nil, "", fmt.Errorf("broker.kafka.brokers is required to relay to kafka")
		}
		topic := cfg.Broker.Kafka.Topic
		if topic == "" {
			topic = constants.DefaultCDCTopic
		}
		return NewKafkaProducer(cfg.Broker.Kafka, log), topic, nil
	case constants.SourceModeNats:
		conn, err := ConnectNats(cfg.Source.Nats, log)
		if err != nil {
			return nil, "", err
		}
		subject := cfg.Source.Nats.Subject
		if subject == "" {
			subject = constants.DefaultNatsSubject
		}
		return NewNatsProducer(conn), subject, nil
	default:
		return nil, "", fmt.Errorf("cannot relay to %q", target)
	}
}

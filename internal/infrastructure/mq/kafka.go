package mq

import (
	"fmt"

	"donatebot/internal/config"

	"github.com/IBM/sarama"
)

// Producer publishes audit events synchronously.
type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// InitKafka builds a sync producer that waits for all in-sync replicas.
func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducer(producer), nil
}

func (p *Producer) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}
	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events to one topic, waiting for all in-sync replicas
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Send(ctx context.Context, key, value []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

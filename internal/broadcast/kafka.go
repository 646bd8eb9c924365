package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tush00nka/bbbab_teamchat/internal/pkg/logger"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaRelay раздает события всем экземплярам через общий топик.
// У каждого экземпляра своя consumer group, поэтому каждый читает все события.
type KafkaRelay struct {
	writer messageWriter
	reader messageReader
}

func NewKafkaRelay(brokers []string, topic, instanceID string) *KafkaRelay {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "teamchat-broadcast-" + instanceID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	return &KafkaRelay{writer: writer, reader: reader}
}

// Publish пишет конверт в топик; ключ: имя канала, чтобы события одного
// канала шли через одну партицию по порядку
func (r *KafkaRelay) Publish(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Channel),
		Value: value,
		Time:  time.Now(),
	})
}

// Run читает топик до отмены ctx и передает конверты в deliver
func (r *KafkaRelay) Run(ctx context.Context, deliver func(context.Context, Envelope) error) error {
	for {
		m, err := r.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var env Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			logger.Log.Warn("kafka relay: bad envelope", "offset", m.Offset, "error", err)
			continue
		}
		if err := deliver(ctx, env); err != nil {
			logger.Log.Warn("kafka relay: delivery failed", "event", env.Event, "error", err)
		}
	}
}

func (r *KafkaRelay) Close() error {
	return errors.Join(r.writer.Close(), r.reader.Close())
}

package broadcast

import (
	"context"
	"encoding/json"
	"testing"

	"tush00nka/bbbab_teamchat/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLog struct {
	messages chan kafka.Message
}

func (m *memoryLog) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		m.messages <- msg
	}
	return nil
}

func (m *memoryLog) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg := <-m.messages:
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (m *memoryLog) Close() error { return nil }

func TestKafkaRelayPublishAndRun(t *testing.T) {
	log := &memoryLog{messages: make(chan kafka.Message, 4)}
	relay := &KafkaRelay{writer: log, reader: log}

	env, err := NewEnvelope(PrivateChannel(5), ChannelDeleted{ChannelID: 5}, 0, "node-a")
	require.NoError(t, err)
	require.NoError(t, relay.Publish(context.Background(), env))
	// мусор в топике пропускается
	log.messages <- kafka.Message{Value: []byte("{not json")}

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx, func(_ context.Context, env Envelope) error {
			received <- env
			return nil
		})
	}()

	got := <-received
	assert.Equal(t, PrivateChannel(5), got.Channel)
	event, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, ChannelDeleted{ChannelID: 5}, event)

	cancel()
	assert.NoError(t, <-done)
}

func TestKafkaRelayKeysByChannel(t *testing.T) {
	log := &memoryLog{messages: make(chan kafka.Message, 1)}
	relay := &KafkaRelay{writer: log, reader: log}

	env, err := NewEnvelope(PrivateUser(3), NotificationCreated{Notification: &model.Notification{ID: 1}}, 0, "")
	require.NoError(t, err)
	require.NoError(t, relay.Publish(context.Background(), env))

	msg := <-log.messages
	assert.Equal(t, "private-user.3", string(msg.Key))
	var decoded Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "notification.created", decoded.Event)
}

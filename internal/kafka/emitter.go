package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ntentasd/nostradamus-history/internal/codec"
	"github.com/ntentasd/nostradamus-history/pkg/types"
)

func NewEmitter(producer sarama.SyncProducer, topic string) *Emitter {
	return &Emitter{producer: producer, topic: topic}
}

// Emit publishes r to the output topic. The sync producer does not honour
// ctx once the message is handed over.
func (e *Emitter) Emit(ctx context.Context, r types.AggregatedActivePowerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := e.producer.SendMessage(&sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(r.Identifier),
		Value: sarama.ByteEncoder(codec.EncodeAggregatedActivePower(r)),
	})
	if err != nil {
		return fmt.Errorf("emit %s to %s: %w", r.Identifier, e.topic, err)
	}
	return nil
}

func (e *Emitter) Close() error {
	return e.producer.Close()
}

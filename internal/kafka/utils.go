package kafka

import (
	"strings"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// NewConfig returns the sarama config shared by the consumer group, the
// producer and the cluster admin.
func NewConfig(service string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_8_0_0
	cfg.ClientID = service + "-" + uuid.NewString()

	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

func isInternalTopic(topic string) bool {
	return strings.HasPrefix(topic, "__")
}

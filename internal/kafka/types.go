package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// Handler processes a single consumed message. Returned errors are logged,
// the message is marked either way.
type Handler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Runner consumes a set of topics with a consumer group and dispatches each
// message to the handler registered for its topic.
type Runner struct {
	group    sarama.ConsumerGroup
	handlers map[string]Handler
	logger   zerolog.Logger
}

// Emitter publishes aggregated records keyed by group identifier.
type Emitter struct {
	producer sarama.SyncProducer
	topic    string
}

// topicAdmin is the part of sarama.ClusterAdmin used to bootstrap topics.
type topicAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

// TopicSpec describes a topic created by EnsureTopics.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates the topics missing from the cluster.
func EnsureTopics(admin topicAdmin, specs []TopicSpec, logger zerolog.Logger) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	for _, s := range specs {
		if _, ok := existing[s.Name]; ok {
			continue
		}
		err := admin.CreateTopic(s.Name, &sarama.TopicDetail{
			NumPartitions:     s.Partitions,
			ReplicationFactor: s.ReplicationFactor,
		}, false)
		if err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", s.Name, err)
		}
		logger.Info().Str("topic", s.Name).Int32("partitions", s.Partitions).Msg("topic created")
	}
	return nil
}

// WaitForTopics polls the cluster metadata until every topic exists.
func WaitForTopics(ctx context.Context, client sarama.Client, topics []string, interval time.Duration, logger zerolog.Logger) error {
	for {
		known, err := client.Topics()
		if err != nil {
			logger.Warn().Err(err).Msg("list topics failed")
		} else if missing := missingTopics(known, topics); len(missing) == 0 {
			return nil
		} else {
			logger.Info().Strs("missing", missing).Msg("waiting for topics")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if err := client.RefreshMetadata(); err != nil {
			logger.Warn().Err(err).Msg("metadata refresh failed")
		}
	}
}

func missingTopics(known, wanted []string) []string {
	have := make(map[string]bool, len(known))
	for _, t := range known {
		if !isInternalTopic(t) {
			have[t] = true
		}
	}
	var missing []string
	for _, t := range wanted {
		if !have[t] {
			missing = append(missing, t)
		}
	}
	return missing
}

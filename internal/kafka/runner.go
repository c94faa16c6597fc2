package kafka

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

var _ sarama.ConsumerGroupHandler = (*Runner)(nil)

func NewRunner(group sarama.ConsumerGroup, handlers map[string]Handler, logger zerolog.Logger) *Runner {
	return &Runner{
		group:    group,
		handlers: handlers,
		logger:   logger.With().Str("component", "kafka-runner").Logger(),
	}
}

func (r *Runner) Topics() []string {
	return slices.Sorted(maps.Keys(r.handlers))
}

// Run consumes until ctx is done or the group is closed. Rebalances restart
// the consume loop.
func (r *Runner) Run(ctx context.Context) error {
	go func() {
		for err := range r.group.Errors() {
			r.logger.Error().Err(err).Msg("consumer group error")
		}
	}()

	topics := r.Topics()
	r.logger.Info().Strs("topics", topics).Msg("consuming")
	for {
		if err := r.group.Consume(ctx, topics, r); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Runner) Close() error {
	return r.group.Close()
}

func (r *Runner) Setup(sess sarama.ConsumerGroupSession) error {
	r.logger.Info().Str("member", sess.MemberID()).Int32("generation", sess.GenerationID()).
		Msg("partitions assigned")
	return nil
}

func (r *Runner) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (r *Runner) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	handle, ok := r.handlers[claim.Topic()]
	if !ok {
		r.logger.Warn().Str("topic", claim.Topic()).Msg("no handler registered")
		return nil
	}

	ctx := sess.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := handle(ctx, msg); err != nil {
				r.logger.Warn().Err(err).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("skipping message")
			}
			sess.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

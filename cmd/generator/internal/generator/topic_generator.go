package generator

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const defaultPartitions = 4

// TopicCreator makes sure the tick and snapshot topics exist before anything is produced
type TopicCreator struct {
	logger     *zap.Logger
	dial       AdminDialer
	clock      Clock
	partitions int
}

func NewTopicCreator(logger *zap.Logger, dial AdminDialer, clock Clock) *TopicCreator {
	return &TopicCreator{
		logger:     logger,
		dial:       dial,
		clock:      clock,
		partitions: defaultPartitions,
	}
}

func (tc *TopicCreator) Create(ctx context.Context, brokers []string, topics ...string) {
	if len(topics) == 0 {
		return
	}

	var conn TopicAdmin
	var err error
	for _, addr := range brokers {
		conn, err = tc.dial(ctx, addr)
		if err == nil {
			break
		}
	}
	if conn == nil {
		tc.logger.Warn("Failed to dial brokers", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		tc.logger.Warn("Failed to get controller", zap.Error(err))
		return
	}

	controllerAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := tc.dial(ctx, controllerAddr)
	if err != nil {
		tc.logger.Warn("Failed to dial controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, name := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             name,
			NumPartitions:     tc.partitions,
			ReplicationFactor: 1,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		tc.logger.Info("Topic creation finished (might already exist)", zap.Error(err))
	} else {
		tc.logger.Info("Topic creation request sent", zap.Strings("topics", topics))
	}

	for _, name := range topics {
		tc.waitForTopic(conn, name)
	}
}

func (tc *TopicCreator) waitForTopic(conn TopicAdmin, topicName string) {
	for i := 0; i < 5; i++ {
		partitions, err := conn.ReadPartitions(topicName)
		if err == nil && len(partitions) > 0 {
			tc.logger.Info("Topic is ready", zap.String("topic", topicName), zap.Int("partitions", len(partitions)))
			return
		}
		tc.clock.Sleep(200 * time.Millisecond)
	}
	tc.logger.Warn("Timed out waiting for topic", zap.String("topic", topicName))
}

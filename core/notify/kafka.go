// Package notify publishes resource notifications to external systems.
package notify

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/napix-io/napixd/core"
	"github.com/napix-io/napixd/core/logger"
)

// KafkaNotifier publishes one message per modifying operation to a
// Kafka topic. The message key is "{collection path}.{operation}" and
// the value is the serialized resource, empty for deletions.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// KafkaNotifierBuilder assembles a KafkaNotifier.
type KafkaNotifierBuilder struct {
	// Brokers is the list of bootstrap broker addresses. Mandatory.
	Brokers []string
	// Topic is the destination topic. Mandatory.
	Topic string
}

// NewKafkaNotifier returns a notifier writing to the configured topic.
func NewKafkaNotifier(b *KafkaNotifierBuilder) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(b.Brokers...),
			Topic:        b.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 100 * time.Millisecond,
		},
	}
}

// Notify publishes the operation. Delivery is best effort; a failed
// write is logged and dropped so the request that triggered it is not
// held up.
func (n *KafkaNotifier) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + "." + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().WithError(err).Errorf("cannot publish %s notification for %s", operation, resource)
	}
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Package broker publishes and consumes build snapshot events.
package broker

import "context"

// Broker abstracts message publishing and consumption.
// Implementations exist for in-process fan-out and for Redpanda/Kafka.
type Broker interface {
	// Publish sends a message to a topic. The key selects the partition on
	// Kafka-compatible brokers and is carried through unchanged in memory.
	Publish(ctx context.Context, topic string, key string, value []byte) error

	// Subscribe returns a channel of messages on topic. The channel closes
	// when ctx ends or the broker is closed. groupID only matters for
	// Kafka consumer groups.
	Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error)

	// Close shuts down the broker connection gracefully.
	Close() error
}

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

package kafka

import "fmt"

// Broker represents a kafka broker in a kafka cluster.
type Broker struct {
	Host string
	Port int
	ID   int
}

func (b Broker) addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Partition carries the metadata associated with a kafka partition.
type Partition struct {
	// Name of the topic that the partition belongs to, and its index in the
	// topic.
	Topic string
	ID    int

	// Leader, replicas, and ISR for the partition.
	Leader   Broker
	Replicas []Broker
	Isr      []Broker
}

// Topic represents a topic in a kafka cluster.
type Topic struct {
	Name       string
	Partitions []Partition

	// An error that may have occurred while attempting to read the topic
	// metadata. Programs may use the standard errors.Is function to test it
	// against kafka error codes.
	Error error
}

const (
	// FirstOffset is the sentinel accepted by the brokers to mean the oldest
	// available offset of a partition.
	FirstOffset int64 = -2

	// LastOffset is the sentinel accepted by the brokers to mean the offset
	// that will be assigned to the next produced message.
	LastOffset int64 = -1
)

type topicPartition struct {
	topic     string
	partition int32
}

func (tp topicPartition) String() string {
	return fmt.Sprintf("%s/%d", tp.topic, tp.partition)
}

package kafka

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the yaml representation of a consumer configuration, for
// programs that load their kafka settings from a file:
//
//	seed_brokers: ["kafka-1:9092", "kafka-2:9092"]
//	client_id: billing-worker
//	group_id: billing
//	connect_timeout: 10
//	socket_timeout: 30
//	session_timeout: 30
//	offset_commit_interval: 10
//	min_bytes: 1
//	max_wait_time: 5
//	subscriptions:
//	  - topic: invoices
//	    start_from: earliest
//
// Timeouts and intervals are expressed in seconds.
type FileConfig struct {
	SeedBrokers          []string           `yaml:"seed_brokers"`
	ClientID             string             `yaml:"client_id"`
	GroupID              string             `yaml:"group_id"`
	ConnectTimeout       float64            `yaml:"connect_timeout"`
	SocketTimeout        float64            `yaml:"socket_timeout"`
	SessionTimeout       float64            `yaml:"session_timeout"`
	OffsetCommitInterval float64            `yaml:"offset_commit_interval"`
	MinBytes             int                `yaml:"min_bytes"`
	MaxBytes             int                `yaml:"max_bytes"`
	MaxWaitTime          float64            `yaml:"max_wait_time"`
	Subscriptions        []FileSubscription `yaml:"subscriptions"`
}

// FileSubscription names one subscribed topic and where to start when the
// group has no committed offset for a partition: "earliest" (the default)
// or "latest".
type FileSubscription struct {
	Topic     string `yaml:"topic"`
	StartFrom string `yaml:"start_from"`
}

// LoadConfig reads a FileConfig from the yaml file at path.
func LoadConfig(path string) (FileConfig, error) {
	var f FileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("unable to parse config file %s: %w", path, err)
	}
	return f, nil
}

// ConsumerConfig converts the file representation into a ConsumerConfig.
func (f FileConfig) ConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        f.SeedBrokers,
		ClientID:       f.ClientID,
		GroupID:        f.GroupID,
		DialTimeout:    seconds(f.ConnectTimeout),
		ReadTimeout:    seconds(f.SocketTimeout),
		SessionTimeout: seconds(f.SessionTimeout),
		CommitInterval: seconds(f.OffsetCommitInterval),
		MinBytes:       f.MinBytes,
		MaxBytes:       f.MaxBytes,
		MaxWait:        seconds(f.MaxWaitTime),
	}
}

// NewConsumerFromFile builds a Consumer from a yaml config file and
// registers its subscriptions.
func NewConsumerFromFile(path string) (*Consumer, error) {
	f, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	c, err := NewConsumer(f.ConsumerConfig())
	if err != nil {
		return nil, err
	}

	for _, sub := range f.Subscriptions {
		offset := FirstOffset
		switch sub.StartFrom {
		case "", "earliest":
		case "latest":
			offset = LastOffset
		default:
			return nil, fmt.Errorf("invalid start_from %q for topic %q", sub.StartFrom, sub.Topic)
		}
		if err := c.Subscribe(sub.Topic, offset); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultCommitInterval = 10 * time.Second
	defaultMinBytes       = 1
	defaultMaxBytes       = 1 << 20 // 1MB per partition
	defaultMaxWait        = 5 * time.Second
	consumeIdleBackoff    = 250 * time.Millisecond
)

// ConsumerConfig is a configuration object used to create new instances of
// Consumer.
type ConsumerConfig struct {
	// Brokers is the bootstrap list of host:port addresses. It must not be
	// empty.
	Brokers []string

	// GroupID is the consumer group name. It must not be empty.
	GroupID string

	// ClientID sent in the envelope of every request.
	//
	// Default: DefaultClientID
	ClientID string

	// DialTimeout bounds connection establishment to any broker.
	//
	// Default: 10s
	DialTimeout time.Duration

	// ReadTimeout bounds each request/response exchange. It should comfortably
	// exceed MaxWait or fetches will time out while the broker is still
	// legitimately holding the request.
	//
	// Default: 30s
	ReadTimeout time.Duration

	// SessionTimeout is the length of time that may pass without a heartbeat
	// before the coordinator considers this consumer dead and rebalances the
	// group.
	//
	// Default: 30s
	SessionTimeout time.Duration

	// HeartbeatGrace is subtracted from SessionTimeout when deciding whether
	// a heartbeat is due, protecting against last-minute evictions while a
	// message handler runs.
	//
	// Default: 2s
	HeartbeatGrace time.Duration

	// CommitInterval is the minimum time between automatic offset commits.
	//
	// Default: 10s
	CommitInterval time.Duration

	// Retries is the budget of attempts for coordination requests before
	// their error is surfaced.
	//
	// Default: 3
	Retries int

	// MinBytes, MaxBytes and MaxWait shape the fetch requests: the broker
	// holds a fetch until MinBytes are available or MaxWait elapsed, and
	// returns at most MaxBytes per partition.
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration

	// GroupBalancers is the priority-ordered list of client-side consumer
	// group balancing strategies that will be offered to the coordinator.
	//
	// Default: [StandardBalancer]
	GroupBalancers []GroupBalancer

	// OffsetOutOfRangeReset opts into automatic recovery from
	// OffsetOutOfRange errors by re-resolving the partition's position from
	// the subscription's default offset. When false (the default) the error
	// is surfaced to the caller unchanged.
	OffsetOutOfRangeReset bool

	// If not nil, specifies a logger used to report internal changes within
	// the consumer.
	Logger Logger

	// ErrorLogger is the logger used to report errors. If nil, the consumer
	// falls back to using Logger instead.
	ErrorLogger Logger

	// EventSink receives instrumentation events. If nil, events are
	// discarded.
	EventSink EventSink

	// Dialer used to open connections to the brokers. Configure it instead
	// of the timeouts above to enable TLS or SASL.
	Dialer *Dialer

	// cluster and coord allow the tests to mock the cluster topology and the
	// group coordinator.
	cluster *Cluster
	coord   coordinator
}

// Validate method validates ConsumerConfig properties and sets relevant
// defaults.
func (config *ConsumerConfig) Validate() error {
	if len(config.Brokers) == 0 && config.cluster == nil {
		return errors.New("cannot create a consumer with an empty list of broker addresses")
	}
	if config.GroupID == "" {
		return errors.New("cannot create a consumer without a group ID")
	}
	if config.SessionTimeout == 0 {
		config.SessionTimeout = defaultSessionTimeout
	}
	if config.SessionTimeout < 0 {
		return fmt.Errorf("SessionTimeout out of bounds: %d", config.SessionTimeout)
	}
	if config.HeartbeatGrace == 0 {
		config.HeartbeatGrace = defaultHeartbeatGrace
	}
	if config.CommitInterval == 0 {
		config.CommitInterval = defaultCommitInterval
	}
	if config.CommitInterval < 0 {
		return fmt.Errorf("CommitInterval out of bounds: %d", config.CommitInterval)
	}
	if config.Retries == 0 {
		config.Retries = defaultRetries
	}
	if config.MinBytes == 0 {
		config.MinBytes = defaultMinBytes
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = defaultMaxBytes
	}
	if config.MaxWait == 0 {
		config.MaxWait = defaultMaxWait
	}
	if len(config.GroupBalancers) == 0 {
		config.GroupBalancers = []GroupBalancer{StandardBalancer{}}
	}
	return nil
}

// Consumer reads messages for one member of a consumer group: it joins the
// group, fetches the partitions assigned to it, hands every message to the
// caller in per-partition offset order, and commits progress back to the
// group coordinator.
//
// A Consumer is single-threaded cooperative: one goroutine drives Consume
// and owns all of the group and offset state. Applications wanting
// parallelism run several Consumers under the same GroupID and let the group
// protocol split the partitions between them.
type Consumer struct {
	config  ConsumerConfig
	cluster *Cluster
	group   *consumerGroup
	offsets *offsetManager

	// id tags the instrumentation events of this consumer instance.
	id string

	subs     map[string]int64
	subOrder []string

	closeOnce sync.Once
	closeErr  error
}

// NewConsumer creates a new Consumer. It returns an error if the provided
// configuration is invalid. It does not attempt to connect to the kafka
// cluster; that happens lazily on the first call to Consume.
func NewConsumer(config ConsumerConfig) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	cluster := config.cluster
	if cluster == nil {
		var err error
		cluster, err = NewCluster(ClusterConfig{
			Brokers:     config.Brokers,
			Dialer:      config.Dialer,
			ClientID:    config.ClientID,
			DialTimeout: config.DialTimeout,
			ReadTimeout: config.ReadTimeout,
			Retries:     config.Retries,
			Logger:      config.Logger,
			ErrorLogger: config.ErrorLogger,
		})
		if err != nil {
			return nil, err
		}
	}

	coord := config.coord
	if coord == nil {
		coord = &clusterCoordinator{cluster: cluster, groupID: config.GroupID}
	}

	c := &Consumer{
		config:  config,
		cluster: cluster,
		id:      uuid.NewString(),
		subs:    make(map[string]int64),
		group: &consumerGroup{
			coord:          coord,
			groupID:        config.GroupID,
			sessionTimeout: config.SessionTimeout,
			heartbeatGrace: config.HeartbeatGrace,
			retries:        config.Retries,
			balancers:      config.GroupBalancers,
			logger:         config.Logger,
			errorLogger:    config.ErrorLogger,
		},
		offsets: newOffsetManager(coord, config.GroupID, config.CommitInterval, config.Logger),
	}
	return c, nil
}

// Subscribe adds a topic to this consumer's subscription, with the default
// offset (FirstOffset or LastOffset) used for partitions that have no
// committed offset. Subscriptions must be registered before Consume starts.
func (c *Consumer) Subscribe(topic string, defaultOffset int64) error {
	if topic == "" {
		return errors.New("cannot subscribe to an empty topic name")
	}
	if defaultOffset != FirstOffset && defaultOffset != LastOffset {
		return fmt.Errorf("invalid default offset %d: must be FirstOffset or LastOffset", defaultOffset)
	}
	if _, ok := c.subs[topic]; !ok {
		c.subOrder = append(c.subOrder, topic)
		sort.Strings(c.subOrder)
	}
	c.subs[topic] = defaultOffset
	c.offsets.setDefaultOffset(topic, defaultOffset)
	return nil
}

// Handler is invoked by Consume for every message, in per-partition offset
// order. Returning a non-nil error stops the consumer without marking the
// message as processed, so it is delivered again after a restart.
type Handler func(Message) error

// Consume drives the fetch/process/commit/heartbeat loop until ctx is
// cancelled or a fatal error occurs. Cancellation is honored between
// messages and between fetches; on the way out the consumer commits its
// progress and leaves the group.
//
// Delivery is at-least-once: a crash may replay the messages processed since
// the last commit.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	if len(c.subs) == 0 {
		return errors.New("cannot consume without subscriptions")
	}

	defer c.shutdown()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !c.group.memberOf() {
			if err := c.rejoin(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			}
		}

		if sent, err := c.group.heartbeatIfDue(ctx); err != nil {
			c.handleLoopError(ctx, err)
			continue
		} else if sent {
			c.event(EventHeartbeat, map[string]any{"group": c.config.GroupID})
		}

		results, fatal := c.fetchBatch(ctx)
		if fatal != nil {
			return fatal
		}

		delivered, err := c.dispatch(ctx, results, handler)
		if err != nil {
			return err
		}

		generationID, memberID := c.group.generation()
		committed, err := c.offsets.commitOffsetsIfDue(ctx, generationID, memberID)
		if err != nil {
			c.handleLoopError(ctx, err)
			continue
		}
		if committed > 0 {
			c.event(EventCommit, map[string]any{"partitions": committed})
		}

		if delivered == 0 && !sleep(ctx, consumeIdleBackoff) {
			return ctx.Err()
		}
	}
}

// rejoin commits whatever progress the previous generation made (best
// effort), runs the join handshake, and drops the bookkeeping of partitions
// that moved away.
func (c *Consumer) rejoin(ctx context.Context) error {
	if generationID, memberID := c.group.generation(); memberID != "" {
		// The old generation may still be valid for committing; losing the
		// race just means those offsets are re-delivered.
		if _, err := c.offsets.commitOffsets(ctx, generationID, memberID); err != nil {
			c.logErrorf("commit before rejoin failed for group %s: %v", c.config.GroupID, err)
		}
	}

	if err := c.group.join(ctx, c.subOrder); err != nil {
		c.event(EventError, map[string]any{"op": "join", "error": err.Error()})
		return err
	}

	assignments := c.group.assignedPartitions()
	c.offsets.clearExcluding(assignments)

	count := 0
	for _, partitions := range assignments {
		count += len(partitions)
	}
	c.event(EventJoin, map[string]any{
		"group":      c.config.GroupID,
		"partitions": count,
	})
	return nil
}

// fetchBatch builds and executes one fetch operation over every assigned
// partition at its next offset. The returned error is fatal; per-partition
// errors are handled in-loop (metadata refresh, rebalance, reset) and
// surface through the results.
func (c *Consumer) fetchBatch(ctx context.Context) ([]fetchResult, error) {
	op := fetchOperation{
		cluster:  c.cluster,
		minBytes: int32(c.config.MinBytes),
		maxBytes: int32(c.config.MaxBytes),
		maxWait:  c.config.MaxWait,
	}

	assignments := c.group.assignedPartitions()
	for _, topic := range c.subOrder {
		for _, partition := range assignments[topic] {
			offset, err := c.offsets.nextOffsetFor(ctx, topic, partition)
			if err != nil {
				c.handleLoopError(ctx, err)
				return nil, nil
			}
			op.tuples = append(op.tuples, fetchTuple{
				topic:     topic,
				partition: partition,
				offset:    offset,
			})
		}
	}

	if len(op.tuples) == 0 {
		// Empty assignment: stay in the group and wait for a rebalance to
		// hand this member some partitions.
		if !sleep(ctx, consumeIdleBackoff) {
			return nil, ctx.Err()
		}
		return nil, nil
	}

	results, err := op.execute(ctx)
	if err != nil {
		c.handleLoopError(ctx, err)
		return nil, nil
	}
	c.event(EventFetch, map[string]any{"partitions": len(results)})
	return results, nil
}

// dispatch yields the fetched messages to the handler in order, marking each
// as processed after the handler returns and keeping the heartbeat alive
// between messages. It returns the number of messages delivered and the
// first fatal error.
func (c *Consumer) dispatch(ctx context.Context, results []fetchResult, handler Handler) (int, error) {
	delivered := 0

	for _, r := range results {
		if r.err != nil {
			if fatal := c.handlePartitionError(ctx, r); fatal != nil {
				return delivered, fatal
			}
			continue
		}

		// Pin the position a sentinel resolved to, so an empty tail fetch
		// doesn't re-resolve past messages produced in the meantime.
		c.offsets.setPosition(r.topic, r.partition, r.fetchOffset)

		for _, msg := range r.messages {
			if err := ctx.Err(); err != nil {
				return delivered, err
			}

			if err := handler(msg); err != nil {
				return delivered, err
			}
			delivered++

			sent, err := c.group.heartbeatIfDue(ctx)
			if err != nil {
				// The generation ended mid-batch: stop delivering from this
				// assignment, the outer loop rejoins.
				c.handleLoopError(ctx, err)
				return delivered, nil
			}
			if sent {
				c.event(EventHeartbeat, map[string]any{"group": c.config.GroupID})
			}

			c.offsets.markProcessed(msg.Topic, int32(msg.Partition), msg.Offset)
			c.event(EventMessage, map[string]any{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			})
		}
	}

	return delivered, nil
}

// handlePartitionError deals with one failed partition of a fetch: topology
// errors refresh the metadata, rebalance errors force a rejoin, the opt-in
// out-of-range reset re-resolves the position. Anything else (corrupt
// messages, out-of-range without the opt-in, unknown errors) is fatal for
// the loop and surfaces to the caller.
func (c *Consumer) handlePartitionError(ctx context.Context, r fetchResult) error {
	err := r.err

	switch {
	case staleMetadataError(err):
		c.logErrorf("fetch %s/%d: %v; refreshing metadata", r.topic, r.partition, err)
		c.cluster.Invalidate(r.topic)
		if rerr := c.cluster.RefreshMetadata(ctx, r.topic); rerr != nil {
			c.logErrorf("metadata refresh for %s failed: %v", r.topic, rerr)
		}
		return nil

	case rebalanceError(err):
		c.handleLoopError(ctx, err)
		return nil

	case errors.Is(err, OffsetOutOfRange):
		if c.config.OffsetOutOfRangeReset {
			c.logErrorf("fetch %s/%d out of range; resetting to default offset", r.topic, r.partition)
			c.offsets.reset(r.topic, r.partition)
			return nil
		}
		return err

	case isTemporary(err):
		c.logErrorf("fetch %s/%d: %v; will retry", r.topic, r.partition, err)
		return nil

	default:
		return err
	}
}

// handleLoopError classifies an error raised between fetches: rebalance
// errors drop the membership so the next iteration rejoins at once; every
// other error is logged and retried after a brief backoff to avoid a tight
// loop.
func (c *Consumer) handleLoopError(ctx context.Context, err error) {
	switch {
	case rebalanceError(err):
		c.logf("group %s rebalancing: %v", c.config.GroupID, err)
		c.group.state = memberUnjoined
		c.event(EventRebalance, map[string]any{"group": c.config.GroupID})
	default:
		c.logErrorf("consumer loop error for group %s: %v", c.config.GroupID, err)
		c.event(EventError, map[string]any{"error": err.Error()})
		sleep(ctx, consumeIdleBackoff)
	}
}

// Close commits the consumer's progress, leaves the group and releases the
// broker connections. It is idempotent.
func (c *Consumer) Close() error {
	c.shutdown()
	return c.closeErr
}

func (c *Consumer) shutdown() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ReadTimeout+time.Second)
		defer cancel()

		if generationID, memberID := c.group.generation(); memberID != "" {
			if _, err := c.offsets.commitOffsets(ctx, generationID, memberID); err != nil {
				c.logErrorf("final commit failed for group %s: %v", c.config.GroupID, err)
				c.closeErr = err
			}
		}
		c.group.leave(ctx)
		c.event(EventLeave, map[string]any{"group": c.config.GroupID})

		if c.config.cluster == nil {
			// The cluster is owned by this consumer only when it built it.
			c.cluster.Close()
		}
	})
}

func (c *Consumer) event(name string, payload map[string]any) {
	if c.config.EventSink != nil {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["client"] = c.id
		c.config.EventSink.OnEvent(name, payload)
	}
}

func (c *Consumer) logf(format string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Printf(format, args...)
	}
}

func (c *Consumer) logErrorf(format string, args ...any) {
	switch {
	case c.config.ErrorLogger != nil:
		c.config.ErrorLogger.Printf(format, args...)
	case c.config.Logger != nil:
		c.config.Logger.Printf(format, args...)
	}
}

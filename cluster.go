package kafka

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	defaultRetries     = 3
	minRetryBackoff    = 250 * time.Millisecond
	maxRetryBackoff    = 5 * time.Second
	defaultDialTimeout = 10 * time.Second
	defaultReadTimeout = 30 * time.Second
)

// ClusterConfig is a configuration object used to create new instances of
// Cluster.
type ClusterConfig struct {
	// Brokers is the bootstrap list of host:port addresses used to seed the
	// cluster topology. It must not be empty.
	Brokers []string

	// Dialer used to open connections to the brokers. If nil, a dialer is
	// built from ClientID and the timeouts.
	Dialer *Dialer

	// ClientID sent in the envelope of every request when no Dialer is
	// given.
	ClientID string

	// DialTimeout and ReadTimeout bound connection establishment and each
	// request/response exchange when no Dialer is given.
	//
	// Default: 10s and 30s.
	DialTimeout time.Duration
	ReadTimeout time.Duration

	// Retries is the budget of attempts for metadata and coordinator
	// lookups before the error is surfaced.
	//
	// Default: 3
	Retries int

	// If not nil, specifies a logger used to report internal changes within
	// the cluster cache.
	Logger Logger

	// ErrorLogger is the logger used to report errors. If nil, the cluster
	// falls back to using Logger instead.
	ErrorLogger Logger
}

// Validate method validates ClusterConfig properties and sets relevant
// defaults.
func (config *ClusterConfig) Validate() error {
	if len(config.Brokers) == 0 {
		return errors.New("cannot create a cluster with an empty list of broker addresses")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.Retries == 0 {
		config.Retries = defaultRetries
	}
	if config.Dialer == nil {
		config.Dialer = &Dialer{
			ClientID:    config.ClientID,
			Timeout:     config.DialTimeout,
			ReadTimeout: config.ReadTimeout,
		}
	}
	return nil
}

// Cluster maintains the client's view of the kafka cluster: the pool of
// broker connections, the partition leadership cache seeded from the
// bootstrap list and refreshed from metadata responses, and the per-group
// coordinator cache.
//
// The cache is best effort: a leader may change at any time, in which case
// requests routed through it fail with NotLeaderForPartition and the caller
// refreshes. All methods are safe to use concurrently.
type Cluster struct {
	config ClusterConfig

	mutex        sync.Mutex
	conns        map[string]*Conn
	brokers      map[int32]Broker
	leaders      map[topicPartition]int32
	coordinators map[string]Broker
	inflight     map[string]chan struct{}
	nextSeed     int
}

// NewCluster creates a new Cluster seeded with the configured bootstrap
// addresses. It does not attempt to connect; connections are established
// lazily by the first request that needs them.
func NewCluster(config ClusterConfig) (*Cluster, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Cluster{
		config:       config,
		conns:        make(map[string]*Conn),
		brokers:      make(map[int32]Broker),
		leaders:      make(map[topicPartition]int32),
		coordinators: make(map[string]Broker),
		inflight:     make(map[string]chan struct{}),
	}, nil
}

// Close closes every pooled connection. The cluster is unusable afterwards.
func (c *Cluster) Close() error {
	c.mutex.Lock()
	conns := c.conns
	c.conns = make(map[string]*Conn)
	c.mutex.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	return nil
}

// LeaderFor returns the broker currently leading the given partition,
// fetching metadata on a cache miss. Concurrent misses on the same topic are
// coalesced into a single metadata request.
func (c *Cluster) LeaderFor(ctx context.Context, topic string, partition int32) (Broker, error) {
	tp := topicPartition{topic, partition}

	if b, err, ok := c.cachedLeader(tp); ok {
		return b, err
	}

	if err := c.refreshTopic(ctx, topic); err != nil {
		return Broker{}, err
	}

	if b, err, ok := c.cachedLeader(tp); ok {
		return b, err
	}
	return Broker{}, UnknownTopicOrPartition
}

func (c *Cluster) cachedLeader(tp topicPartition) (Broker, error, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	id, ok := c.leaders[tp]
	if !ok {
		return Broker{}, nil, false
	}
	if id < 0 {
		return Broker{}, LeaderNotAvailable, true
	}
	b, ok := c.brokers[id]
	if !ok {
		return Broker{}, nil, false
	}
	return b, nil, true
}

// refreshTopic coalesces concurrent refreshes of the same topic into one
// metadata request.
func (c *Cluster) refreshTopic(ctx context.Context, topic string) error {
	c.mutex.Lock()
	if wait, ok := c.inflight[topic]; ok {
		c.mutex.Unlock()
		select {
		case <-wait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// A refresh that completed between the caller's cache miss and this
	// point already populated the cache; don't fetch again.
	for tp := range c.leaders {
		if tp.topic == topic {
			c.mutex.Unlock()
			return nil
		}
	}
	done := make(chan struct{})
	c.inflight[topic] = done
	c.mutex.Unlock()

	err := c.RefreshMetadata(ctx, topic)

	c.mutex.Lock()
	delete(c.inflight, topic)
	c.mutex.Unlock()
	close(done)

	return err
}

// RefreshMetadata forces a metadata request for the given topics (or for the
// whole cluster when none are given), rotating through the seed brokers and
// any previously discovered broker until one of them answers. Every
// partition of every topic in the response is cached.
func (c *Cluster) RefreshMetadata(ctx context.Context, topics ...string) error {
	var lastErr error

	for attempt := 1; attempt <= c.config.Retries; attempt++ {
		conn, addr, err := c.anyConn(ctx)
		if err != nil {
			lastErr = err
		} else {
			res, err := conn.metadata(metadataRequestV0{Topics: topics})
			if err == nil {
				c.cacheMetadata(res)
				return nil
			}
			lastErr = err
			c.dropConn(addr)
		}

		c.logErrorf("metadata refresh attempt %d/%d failed: %v", attempt, c.config.Retries, lastErr)
		if !sleep(ctx, backoff(attempt, minRetryBackoff, maxRetryBackoff)) {
			return ctx.Err()
		}
	}

	return lastErr
}

func (c *Cluster) cacheMetadata(res metadataResponseV0) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for _, b := range res.Brokers {
		c.brokers[b.NodeID] = Broker{
			Host: b.Host,
			Port: int(b.Port),
			ID:   int(b.NodeID),
		}
	}

	for _, t := range res.Topics {
		if t.TopicErrorCode != 0 {
			// Forget whatever was cached for a topic the cluster no longer
			// reports.
			for tp := range c.leaders {
				if tp.topic == t.TopicName {
					delete(c.leaders, tp)
				}
			}
			continue
		}
		for _, p := range t.Partitions {
			c.leaders[topicPartition{t.TopicName, p.PartitionID}] = p.Leader
		}
	}
}

// Partitions returns the partitions of the given topics from the cache,
// refreshing it for the topics that are missing.
func (c *Cluster) Partitions(ctx context.Context, topics ...string) ([]Partition, error) {
	missing := make([]string, 0, len(topics))
	for _, topic := range topics {
		if !c.hasTopic(topic) {
			missing = append(missing, topic)
		}
	}
	if len(missing) != 0 {
		if err := c.RefreshMetadata(ctx, missing...); err != nil {
			return nil, err
		}
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	var partitions []Partition
	for _, topic := range topics {
		for tp, id := range c.leaders {
			if tp.topic != topic {
				continue
			}
			partitions = append(partitions, Partition{
				Topic:  tp.topic,
				ID:     int(tp.partition),
				Leader: c.brokers[id],
			})
		}
	}

	sort.Slice(partitions, func(i, j int) bool {
		if partitions[i].Topic != partitions[j].Topic {
			return partitions[i].Topic < partitions[j].Topic
		}
		return partitions[i].ID < partitions[j].ID
	})
	return partitions, nil
}

func (c *Cluster) hasTopic(topic string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for tp := range c.leaders {
		if tp.topic == topic {
			return true
		}
	}
	return false
}

// Invalidate drops the cached leadership of a topic, typically after a
// NotLeaderForPartition error, so the next request triggers a fresh
// metadata lookup.
func (c *Cluster) Invalidate(topic string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for tp := range c.leaders {
		if tp.topic == topic {
			delete(c.leaders, tp)
		}
	}
}

// Coordinator locates the broker coordinating the given group, caching the
// result until InvalidateCoordinator is called.
func (c *Cluster) Coordinator(ctx context.Context, groupID string) (Broker, error) {
	c.mutex.Lock()
	if b, ok := c.coordinators[groupID]; ok {
		c.mutex.Unlock()
		return b, nil
	}
	c.mutex.Unlock()

	var lastErr error

	for attempt := 1; attempt <= c.config.Retries; attempt++ {
		conn, addr, err := c.anyConn(ctx)
		if err != nil {
			lastErr = err
		} else {
			res, err := conn.groupCoordinator(groupCoordinatorRequestV0{CoordinatorKey: groupID})
			switch {
			case err != nil:
				lastErr = err
				c.dropConn(addr)
			case res.ErrorCode != 0:
				// GroupCoordinatorNotAvailable is returned while the offsets
				// topic is being created; worth retrying.
				lastErr = Error(res.ErrorCode)
			default:
				b := Broker{
					Host: res.Coordinator.Host,
					Port: int(res.Coordinator.Port),
					ID:   int(res.Coordinator.NodeID),
				}
				c.mutex.Lock()
				c.coordinators[groupID] = b
				c.mutex.Unlock()
				return b, nil
			}
		}

		c.logErrorf("coordinator lookup for group %s attempt %d/%d failed: %v", groupID, attempt, c.config.Retries, lastErr)
		if !sleep(ctx, backoff(attempt, minRetryBackoff, maxRetryBackoff)) {
			return Broker{}, ctx.Err()
		}
	}

	return Broker{}, lastErr
}

// InvalidateCoordinator drops the cached coordinator of a group, typically
// after a NotCoordinatorForGroup error.
func (c *Cluster) InvalidateCoordinator(groupID string) {
	c.mutex.Lock()
	delete(c.coordinators, groupID)
	c.mutex.Unlock()
}

// connTo returns the pooled connection to the given broker, dialing it if
// needed. At most one connection per broker is kept.
func (c *Cluster) connTo(ctx context.Context, b Broker) (*Conn, error) {
	return c.connToAddr(ctx, b.addr())
}

func (c *Cluster) connToAddr(ctx context.Context, addr string) (*Conn, error) {
	c.mutex.Lock()
	if conn, ok := c.conns[addr]; ok {
		c.mutex.Unlock()
		return conn, nil
	}
	c.mutex.Unlock()

	conn, err := c.config.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	if prev, ok := c.conns[addr]; ok {
		// Another caller won the race; keep a single conn per broker.
		c.mutex.Unlock()
		conn.Close()
		return prev, nil
	}
	c.conns[addr] = conn
	c.mutex.Unlock()
	return conn, nil
}

// dropConn evicts and closes a pooled connection after an I/O failure; the
// next request to this broker redials.
func (c *Cluster) dropConn(addr string) {
	c.mutex.Lock()
	conn, ok := c.conns[addr]
	delete(c.conns, addr)
	c.mutex.Unlock()
	if ok {
		conn.Close()
	}
}

// anyConn returns a connection to any reachable broker, rotating through the
// seed list so that repeated failures don't keep hammering the same broker.
func (c *Cluster) anyConn(ctx context.Context) (*Conn, string, error) {
	c.mutex.Lock()
	seeds := make([]string, len(c.config.Brokers))
	n := copy(seeds, c.config.Brokers)
	start := c.nextSeed % n
	c.nextSeed++
	for _, b := range c.brokers {
		seeds = append(seeds, b.addr())
	}
	c.mutex.Unlock()

	var lastErr error
	for i := 0; i < len(seeds); i++ {
		addr := seeds[(start+i)%len(seeds)]
		conn, err := c.connToAddr(ctx, addr)
		if err == nil {
			return conn, addr, nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

func (c *Cluster) logf(format string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Printf(format, args...)
	}
}

func (c *Cluster) logErrorf(format string, args ...any) {
	switch {
	case c.config.ErrorLogger != nil:
		c.config.ErrorLogger.Printf(format, args...)
	case c.config.Logger != nil:
		c.config.Logger.Printf(format, args...)
	}
}

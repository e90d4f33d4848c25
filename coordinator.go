package kafka

import "context"

// coordinator is the subset of broker functionality the consumer group and
// offset manager depend on. Factoring it behind an interface keeps the group
// state machine testable against error conditions that are difficult to
// instigate with a live broker.
type coordinator interface {
	joinGroup(ctx context.Context, req joinGroupRequestV0) (joinGroupResponseV0, error)
	syncGroup(ctx context.Context, req syncGroupRequestV0) (syncGroupResponseV0, error)
	heartbeat(ctx context.Context, req heartbeatRequestV0) (heartbeatResponseV0, error)
	leaveGroup(ctx context.Context, req leaveGroupRequestV0) (leaveGroupResponseV0, error)
	offsetCommit(ctx context.Context, req offsetCommitRequestV2) (offsetCommitResponseV2, error)
	offsetFetch(ctx context.Context, req offsetFetchRequestV1) (offsetFetchResponseV1, error)
	readPartitions(ctx context.Context, topics ...string) ([]Partition, error)
}

// clusterCoordinator routes coordinator requests through the cluster's
// cached group coordinator, invalidating the cache when the broker answers
// that it no longer coordinates the group or when the connection fails.
type clusterCoordinator struct {
	cluster *Cluster
	groupID string
}

func (c *clusterCoordinator) conn(ctx context.Context) (*Conn, string, error) {
	b, err := c.cluster.Coordinator(ctx, c.groupID)
	if err != nil {
		return nil, "", err
	}
	conn, err := c.cluster.connTo(ctx, b)
	if err != nil {
		c.cluster.InvalidateCoordinator(c.groupID)
		return nil, "", err
	}
	return conn, b.addr(), nil
}

// fail records a transport failure against the coordinator: the connection
// is dropped and the coordinator cache cleared so the next call rediscovers
// both.
func (c *clusterCoordinator) fail(addr string) {
	c.cluster.dropConn(addr)
	c.cluster.InvalidateCoordinator(c.groupID)
}

// check invalidates the coordinator cache when the response carries one of
// the coordinator relocation error codes.
func (c *clusterCoordinator) check(errorCode int16) {
	if coordinatorError(Error(errorCode)) {
		c.cluster.InvalidateCoordinator(c.groupID)
	}
}

func (c *clusterCoordinator) joinGroup(ctx context.Context, req joinGroupRequestV0) (joinGroupResponseV0, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return joinGroupResponseV0{}, err
	}
	res, err := conn.joinGroup(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	c.check(res.ErrorCode)
	return res, nil
}

func (c *clusterCoordinator) syncGroup(ctx context.Context, req syncGroupRequestV0) (syncGroupResponseV0, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return syncGroupResponseV0{}, err
	}
	res, err := conn.syncGroup(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	c.check(res.ErrorCode)
	return res, nil
}

func (c *clusterCoordinator) heartbeat(ctx context.Context, req heartbeatRequestV0) (heartbeatResponseV0, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return heartbeatResponseV0{}, err
	}
	res, err := conn.heartbeat(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	c.check(res.ErrorCode)
	return res, nil
}

func (c *clusterCoordinator) leaveGroup(ctx context.Context, req leaveGroupRequestV0) (leaveGroupResponseV0, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return leaveGroupResponseV0{}, err
	}
	res, err := conn.leaveGroup(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	c.check(res.ErrorCode)
	return res, nil
}

func (c *clusterCoordinator) offsetCommit(ctx context.Context, req offsetCommitRequestV2) (offsetCommitResponseV2, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return offsetCommitResponseV2{}, err
	}
	res, err := conn.offsetCommit(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	return res, nil
}

func (c *clusterCoordinator) offsetFetch(ctx context.Context, req offsetFetchRequestV1) (offsetFetchResponseV1, error) {
	conn, addr, err := c.conn(ctx)
	if err != nil {
		return offsetFetchResponseV1{}, err
	}
	res, err := conn.offsetFetch(req)
	if err != nil {
		c.fail(addr)
		return res, err
	}
	return res, nil
}

func (c *clusterCoordinator) readPartitions(ctx context.Context, topics ...string) ([]Partition, error) {
	return c.cluster.Partitions(ctx, topics...)
}

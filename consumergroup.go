package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	// defaultProtocolType holds the protocol type for consumer groups
	// documented in the kafka protocol.
	defaultProtocolType = "consumer"

	// defaultSessionTimeout contains the interval the coordinator will wait
	// for a heartbeat before marking a consumer as dead.
	defaultSessionTimeout = 30 * time.Second

	// defaultHeartbeatGrace is subtracted from the session timeout when
	// deciding whether a heartbeat is due, so that a slow message handler
	// doesn't push the member over the eviction deadline at the last moment.
	defaultHeartbeatGrace = 2 * time.Second

	// defaultJoinBackoff is the amount of time to wait after a failed group
	// join before attempting to re-join.
	defaultJoinBackoff = time.Second
)

type memberState int

const (
	// memberUnjoined: not part of any generation; joining is required before
	// fetching.
	memberUnjoined memberState = iota

	// memberStable: holding a valid (member id, generation id) pair and an
	// assignment.
	memberStable
)

// consumerGroup drives this member's participation in a consumer group: the
// join/sync handshake against the coordinator, the heartbeat that keeps the
// session alive, and the best-effort leave on shutdown.
//
// The caller owns the state: none of the methods are safe for concurrent
// use, matching the consumer's single-threaded cooperative model.
type consumerGroup struct {
	coord          coordinator
	groupID        string
	sessionTimeout time.Duration
	heartbeatGrace time.Duration
	retries        int
	joinBackoff    time.Duration
	balancers      []GroupBalancer

	logger      Logger
	errorLogger Logger

	state         memberState
	memberID      string
	generationID  int32
	protocolName  string
	assignments   map[string][]int32
	lastHeartbeat time.Time
}

func (g *consumerGroup) memberOf() bool {
	return g.state == memberStable
}

func (g *consumerGroup) assignedPartitions() map[string][]int32 {
	return g.assignments
}

func (g *consumerGroup) generation() (int32, string) {
	return g.generationID, g.memberID
}

// join runs the two-phase handshake: JoinGroup to enter the generation (and
// learn whether this member leads it), then SyncGroup to receive the
// assignment. Transient coordination errors are retried with backoff within
// the configured budget.
func (g *consumerGroup) join(ctx context.Context, topics []string) error {
	var lastErr error

	for attempt := 1; attempt <= g.retries; attempt++ {
		err := g.tryJoin(ctx, topics)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retriableJoinError(err) {
			return err
		}
		min := g.joinBackoff
		if min == 0 {
			min = defaultJoinBackoff
		}
		g.logErrorf("join group %s attempt %d/%d failed: %v", g.groupID, attempt, g.retries, err)
		if !sleep(ctx, backoff(attempt, min, g.sessionTimeout)) {
			return ctx.Err()
		}
	}
	return lastErr
}

func retriableJoinError(err error) bool {
	switch {
	case errors.Is(err, UnknownMemberID),
		errors.Is(err, RebalanceInProgress),
		errors.Is(err, GroupLoadInProgress),
		errors.Is(err, GroupCoordinatorNotAvailable),
		errors.Is(err, NotCoordinatorForGroup):
		return true
	}
	return isTemporary(err)
}

func (g *consumerGroup) tryJoin(ctx context.Context, topics []string) error {
	req := joinGroupRequestV0{
		GroupID:        g.groupID,
		SessionTimeout: int32(g.sessionTimeout / time.Millisecond),
		MemberID:       g.memberID,
		ProtocolType:   defaultProtocolType,
	}
	for _, balancer := range g.balancers {
		userData, err := balancer.UserData()
		if err != nil {
			return fmt.Errorf("unable to construct protocol metadata for %q: %w", balancer.ProtocolName(), err)
		}
		meta := groupMetadata{Topics: topics, UserData: userData}
		req.GroupProtocols = append(req.GroupProtocols, joinGroupRequestGroupProtocolV0{
			ProtocolName:     balancer.ProtocolName(),
			ProtocolMetadata: meta.bytes(),
		})
	}

	res, err := g.coord.joinGroup(ctx, req)
	if err != nil {
		return err
	}
	// The coordinator may hand out a member id together with an error; keep
	// it so the retry doesn't register as a brand new member.
	if res.MemberID != "" {
		g.memberID = res.MemberID
	}
	if res.ErrorCode != 0 {
		err := Error(res.ErrorCode)
		if errors.Is(err, UnknownMemberID) {
			g.memberID = ""
		}
		return err
	}

	g.generationID = res.GenerationID
	g.protocolName = res.GroupProtocol

	g.logf("joined group %s as member %s in generation %d", g.groupID, g.memberID, g.generationID)

	var groupAssignments []syncGroupRequestGroupAssignmentV0
	if res.LeaderID == res.MemberID {
		groupAssignments, err = g.assignTopicPartitions(ctx, res)
		if err != nil {
			return err
		}
	}

	return g.sync(ctx, groupAssignments)
}

// assignTopicPartitions runs on the elected leader: decode every member's
// subscription, list the partitions of the union of subscribed topics, and
// hand the balancer's assignment back as encoded sync entries. Every member
// receives an entry, possibly empty.
func (g *consumerGroup) assignTopicPartitions(ctx context.Context, res joinGroupResponseV0) ([]syncGroupRequestGroupAssignmentV0, error) {
	g.logf("selected as leader for group %s", g.groupID)

	balancer, ok := findGroupBalancer(res.GroupProtocol, g.balancers)
	if !ok {
		return nil, fmt.Errorf("unable to find selected balancer %q for group %q", res.GroupProtocol, g.groupID)
	}

	members := make([]GroupMember, 0, len(res.Members))
	for _, m := range res.Members {
		meta, err := decodeGroupMetadata(m.MemberMetadata)
		if err != nil {
			return nil, fmt.Errorf("unable to decode metadata of member %q: %w", m.MemberID, err)
		}
		members = append(members, GroupMember{
			ID:       m.MemberID,
			Topics:   meta.Topics,
			UserData: meta.UserData,
		})
	}

	topics := extractTopics(members)
	partitions, err := g.coord.readPartitions(ctx, topics...)
	// A subscribed topic that doesn't exist yet simply yields no assignment
	// for it; the group rebalances when the topic comes into being.
	if err != nil && !errors.Is(err, UnknownTopicOrPartition) {
		return nil, err
	}

	assignments := balancer.AssignGroups(members, partitions)

	entries := make([]syncGroupRequestGroupAssignmentV0, 0, len(members))
	for _, member := range members {
		assignment := groupAssignment{
			Version: 0,
			Topics:  assignments[member.ID],
		}
		if assignment.Topics == nil {
			assignment.Topics = map[string][]int32{}
		}
		entries = append(entries, syncGroupRequestGroupAssignmentV0{
			MemberID:          member.ID,
			MemberAssignments: assignment.bytes(),
		})
	}

	g.logf("assigned partitions for group %s across %d members", g.groupID, len(entries))
	return entries, nil
}

func (g *consumerGroup) sync(ctx context.Context, groupAssignments []syncGroupRequestGroupAssignmentV0) error {
	res, err := g.coord.syncGroup(ctx, syncGroupRequestV0{
		GroupID:          g.groupID,
		GenerationID:     g.generationID,
		MemberID:         g.memberID,
		GroupAssignments: groupAssignments,
	})
	if err != nil {
		return err
	}
	if res.ErrorCode != 0 {
		return Error(res.ErrorCode)
	}

	assignment, err := decodeGroupAssignment(res.MemberAssignments)
	if err != nil {
		return fmt.Errorf("unable to decode member assignment: %w", err)
	}

	g.assignments = assignment.Topics
	g.state = memberStable
	g.lastHeartbeat = time.Now()

	if len(g.assignments) == 0 {
		g.logf("received empty assignment for group %s as member %s in generation %d", g.groupID, g.memberID, g.generationID)
	}
	return nil
}

// heartbeat checks in with the coordinator. The response drives the state
// machine: a rebalance in progress ends the generation but keeps the member
// id, an unknown member or stale generation resets the membership entirely,
// and coordinator relocation errors force a fresh coordinator lookup on the
// next call (handled by the coordinator wrapper).
func (g *consumerGroup) heartbeat(ctx context.Context) error {
	res, err := g.coord.heartbeat(ctx, heartbeatRequestV0{
		GroupID:      g.groupID,
		GenerationID: g.generationID,
		MemberID:     g.memberID,
	})
	if err != nil {
		g.state = memberUnjoined
		return err
	}

	if res.ErrorCode == 0 {
		g.lastHeartbeat = time.Now()
		return nil
	}

	g.state = memberUnjoined
	herr := Error(res.ErrorCode)
	switch herr {
	case RebalanceInProgress:
		g.logf("rebalance in progress for group %s", g.groupID)
	case IllegalGeneration, UnknownMemberID:
		g.memberID = ""
		g.generationID = 0
	}
	return herr
}

// heartbeatIfDue sends a heartbeat when the time since the last successful
// one approaches the session timeout, leaving a grace window so the member
// isn't evicted while a message is being handled. It reports whether a
// heartbeat was actually sent.
func (g *consumerGroup) heartbeatIfDue(ctx context.Context) (bool, error) {
	deadline := g.sessionTimeout - g.heartbeatGrace
	if deadline <= 0 {
		deadline = g.sessionTimeout / 2
	}
	if time.Since(g.lastHeartbeat) < deadline {
		return false, nil
	}
	return true, g.heartbeat(ctx)
}

// leave informs the coordinator that this member is going away so the group
// can rebalance immediately instead of waiting out the session timeout.
// Failures are swallowed; local state is always cleared.
func (g *consumerGroup) leave(ctx context.Context) {
	if g.memberID != "" {
		_, err := g.coord.leaveGroup(ctx, leaveGroupRequestV0{
			GroupID:  g.groupID,
			MemberID: g.memberID,
		})
		if err != nil {
			g.logErrorf("leave group %s failed for member %s: %v", g.groupID, g.memberID, err)
		} else {
			g.logf("left group %s as member %s", g.groupID, g.memberID)
		}
	}

	g.state = memberUnjoined
	g.memberID = ""
	g.generationID = 0
	g.assignments = nil
}

func extractTopics(members []GroupMember) []string {
	visited := map[string]struct{}{}
	var topics []string

	for _, member := range members {
		for _, topic := range member.Topics {
			if _, seen := visited[topic]; seen {
				continue
			}
			topics = append(topics, topic)
			visited[topic] = struct{}{}
		}
	}

	return topics
}

func (g *consumerGroup) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func (g *consumerGroup) logErrorf(format string, args ...any) {
	switch {
	case g.errorLogger != nil:
		g.errorLogger.Printf(format, args...)
	case g.logger != nil:
		g.logger.Printf(format, args...)
	}
}

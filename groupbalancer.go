package kafka

import "sort"

const (
	StandardBalancerProtocolName   = "standard"
	RangeBalancerProtocolName      = "range"
	RoundRobinBalancerProtocolName = "roundrobin"
)

// GroupMember describes a single participant in a consumer group.
type GroupMember struct {
	// ID is the unique ID for this member as taken from the JoinGroup
	// response.
	ID string

	// Topics is a list of topics that this member is consuming.
	Topics []string

	// UserData contains any information that the GroupBalancer sent to the
	// consumer group coordinator.
	UserData []byte
}

// GroupMemberAssignments holds MemberID => topic => partitions.
type GroupMemberAssignments map[string]map[string][]int32

// GroupBalancer encapsulates the client side rebalancing logic.
type GroupBalancer interface {
	// ProtocolName of the GroupBalancer
	ProtocolName() string

	// UserData provides the GroupBalancer an opportunity to embed custom
	// UserData into the metadata announced in the JoinGroup request.
	UserData() ([]byte, error)

	// AssignGroups returns which members will be consuming which topic
	// partitions.
	AssignGroups(members []GroupMember, partitions []Partition) GroupMemberAssignments
}

// StandardBalancer distributes partitions round-robin in canonical order:
// partitions sorted by (topic, partition id), members sorted by member id,
// partition i handed to the i'th subscribed member modulo the subscriber
// count. For a fixed member set the result is fully deterministic, so all
// members of a generation agree on it without extra coordination.
//
// The protocol is advertised under its own name because the wire assignment
// is not bit-compatible with the "range" or "roundrobin" protocols of other
// client implementations.
type StandardBalancer struct{}

func (StandardBalancer) ProtocolName() string {
	return StandardBalancerProtocolName
}

func (StandardBalancer) UserData() ([]byte, error) {
	return nil, nil
}

func (StandardBalancer) AssignGroups(members []GroupMember, partitions []Partition) GroupMemberAssignments {
	groupAssignments := GroupMemberAssignments{}
	membersByTopic := findMembersByTopic(members)

	for _, member := range members {
		groupAssignments[member.ID] = map[string][]int32{}
	}

	sorted := make([]Partition, len(partitions))
	copy(sorted, partitions)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Topic != sorted[j].Topic {
			return sorted[i].Topic < sorted[j].Topic
		}
		return sorted[i].ID < sorted[j].ID
	})

	i := 0
	for _, partition := range sorted {
		candidates := membersByTopic[partition.Topic]
		if len(candidates) == 0 {
			continue
		}
		member := candidates[i%len(candidates)]
		assignments := groupAssignments[member.ID]
		assignments[partition.Topic] = append(assignments[partition.Topic], int32(partition.ID))
		i++
	}

	return groupAssignments
}

// RangeGroupBalancer groups consumers by partition
//
// Example: 5 partitions, 2 consumers
//
//	C0: [0, 1]
//	C1: [2, 3, 4]
//
// Example: 6 partitions, 3 consumers
//
//	C0: [0, 1]
//	C1: [2, 3]
//	C2: [4, 5]
type RangeGroupBalancer struct{}

func (r RangeGroupBalancer) ProtocolName() string {
	return RangeBalancerProtocolName
}

func (r RangeGroupBalancer) UserData() ([]byte, error) {
	return nil, nil
}

func (r RangeGroupBalancer) AssignGroups(members []GroupMember, topicPartitions []Partition) GroupMemberAssignments {
	groupAssignments := GroupMemberAssignments{}
	membersByTopic := findMembersByTopic(members)

	for topic, members := range membersByTopic {
		partitions := findPartitions(topic, topicPartitions)
		partitionCount := len(partitions)
		memberCount := len(members)

		for memberIndex, member := range members {
			assignmentsByTopic, ok := groupAssignments[member.ID]
			if !ok {
				assignmentsByTopic = map[string][]int32{}
				groupAssignments[member.ID] = assignmentsByTopic
			}

			minIndex := memberIndex * partitionCount / memberCount
			maxIndex := (memberIndex + 1) * partitionCount / memberCount

			for partitionIndex, partition := range partitions {
				if partitionIndex >= minIndex && partitionIndex < maxIndex {
					assignmentsByTopic[topic] = append(assignmentsByTopic[topic], partition)
				}
			}
		}
	}

	return groupAssignments
}

// RoundRobinGroupBalancer divides partitions evenly among consumers, one
// topic at a time.
//
// Example: 5 partitions, 2 consumers
//
//	C0: [0, 2, 4]
//	C1: [1, 3]
//
// Example: 6 partitions, 3 consumers
//
//	C0: [0, 3]
//	C1: [1, 4]
//	C2: [2, 5]
type RoundRobinGroupBalancer struct{}

func (r RoundRobinGroupBalancer) ProtocolName() string {
	return RoundRobinBalancerProtocolName
}

func (r RoundRobinGroupBalancer) UserData() ([]byte, error) {
	return nil, nil
}

func (r RoundRobinGroupBalancer) AssignGroups(members []GroupMember, topicPartitions []Partition) GroupMemberAssignments {
	groupAssignments := GroupMemberAssignments{}
	membersByTopic := findMembersByTopic(members)

	for topic, members := range membersByTopic {
		partitionIDs := findPartitions(topic, topicPartitions)
		memberCount := len(members)

		for memberIndex, member := range members {
			assignmentsByTopic, ok := groupAssignments[member.ID]
			if !ok {
				assignmentsByTopic = map[string][]int32{}
				groupAssignments[member.ID] = assignmentsByTopic
			}

			for partitionIndex, partition := range partitionIDs {
				if (partitionIndex % memberCount) == memberIndex {
					assignmentsByTopic[topic] = append(assignmentsByTopic[topic], partition)
				}
			}
		}
	}

	return groupAssignments
}

// findPartitions extracts the partition ids associated with the topic from
// the list of Partitions provided, in ascending order.
func findPartitions(topic string, partitions []Partition) []int32 {
	var ids []int32
	for _, partition := range partitions {
		if partition.Topic == topic {
			ids = append(ids, int32(partition.ID))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// findMembersByTopic groups the members by subscribed topic, each group
// sorted by member id so that assignments are stable across members
// computing them independently.
func findMembersByTopic(members []GroupMember) map[string][]GroupMember {
	membersByTopic := map[string][]GroupMember{}
	for _, member := range members {
		for _, topic := range member.Topics {
			membersByTopic[topic] = append(membersByTopic[topic], member)
		}
	}

	for _, members := range membersByTopic {
		sort.Slice(members, func(i, j int) bool {
			return members[i].ID < members[j].ID
		})
	}

	return membersByTopic
}

// findGroupBalancer returns the GroupBalancer with the specified protocolName
// from the slice provided.
func findGroupBalancer(protocolName string, balancers []GroupBalancer) (GroupBalancer, bool) {
	for _, balancer := range balancers {
		if balancer.ProtocolName() == protocolName {
			return balancer, true
		}
	}
	return nil, false
}

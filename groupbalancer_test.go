package kafka

import (
	"reflect"
	"testing"
)

func TestFindMembersByTopic(t *testing.T) {
	a1 := GroupMember{ID: "a", Topics: []string{"topic-1"}}
	a12 := GroupMember{ID: "a", Topics: []string{"topic-1", "topic-2"}}
	b23 := GroupMember{ID: "b", Topics: []string{"topic-2", "topic-3"}}

	tests := map[string]struct {
		Members  []GroupMember
		Expected map[string][]GroupMember
	}{
		"empty": {
			Expected: map[string][]GroupMember{},
		},
		"one member, one topic": {
			Members: []GroupMember{a1},
			Expected: map[string][]GroupMember{
				"topic-1": {a1},
			},
		},
		"one member, multiple topics": {
			Members: []GroupMember{a12},
			Expected: map[string][]GroupMember{
				"topic-1": {a12},
				"topic-2": {a12},
			},
		},
		"multiple members, multiple topics": {
			Members: []GroupMember{a12, b23},
			Expected: map[string][]GroupMember{
				"topic-1": {a12},
				"topic-2": {a12, b23},
				"topic-3": {b23},
			},
		},
	}

	for label, test := range tests {
		t.Run(label, func(t *testing.T) {
			membersByTopic := findMembersByTopic(test.Members)
			if !reflect.DeepEqual(test.Expected, membersByTopic) {
				t.Errorf("expected %#v; got %#v", test.Expected, membersByTopic)
			}
		})
	}
}

func makePartitions(topic string, count int) []Partition {
	partitions := make([]Partition, count)
	for i := range partitions {
		partitions[i] = Partition{Topic: topic, ID: i}
	}
	return partitions
}

func TestStandardAssignGroups(t *testing.T) {
	newMember := func(id string, topics ...string) GroupMember {
		return GroupMember{ID: id, Topics: topics}
	}

	tests := map[string]struct {
		Members    []GroupMember
		Partitions []Partition
		Expected   GroupMemberAssignments
	}{
		"one member, one topic": {
			Members:    []GroupMember{newMember("a", "t1")},
			Partitions: makePartitions("t1", 3),
			Expected: GroupMemberAssignments{
				"a": {"t1": {0, 1, 2}},
			},
		},
		"two members, odd partitions": {
			Members:    []GroupMember{newMember("a", "t1"), newMember("b", "t1")},
			Partitions: makePartitions("t1", 5),
			Expected: GroupMemberAssignments{
				"a": {"t1": {0, 2, 4}},
				"b": {"t1": {1, 3}},
			},
		},
		"two members, two topics": {
			Members:    []GroupMember{newMember("a", "t1", "t2"), newMember("b", "t1", "t2")},
			Partitions: append(makePartitions("t1", 2), makePartitions("t2", 2)...),
			Expected: GroupMemberAssignments{
				"a": {"t1": {0}, "t2": {0}},
				"b": {"t1": {1}, "t2": {1}},
			},
		},
		"subscription mismatch": {
			Members:    []GroupMember{newMember("a", "t1"), newMember("b", "t2")},
			Partitions: append(makePartitions("t1", 2), makePartitions("t2", 1)...),
			Expected: GroupMemberAssignments{
				"a": {"t1": {0, 1}},
				"b": {"t2": {0}},
			},
		},
	}

	for label, test := range tests {
		t.Run(label, func(t *testing.T) {
			got := StandardBalancer{}.AssignGroups(test.Members, test.Partitions)
			if !reflect.DeepEqual(assignmentsAsMaps(test.Expected), assignmentsAsMaps(got)) {
				t.Errorf("expected %v; got %v", test.Expected, got)
			}
		})
	}
}

// assignmentsAsMaps normalizes empty maps vs missing entries for comparison.
func assignmentsAsMaps(a GroupMemberAssignments) map[string]map[string][]int32 {
	out := make(map[string]map[string][]int32)
	for member, topics := range a {
		m := make(map[string][]int32)
		for topic, partitions := range topics {
			if len(partitions) != 0 {
				m[topic] = partitions
			}
		}
		out[member] = m
	}
	return out
}

func TestStandardAssignGroupsIsDeterministic(t *testing.T) {
	members := []GroupMember{
		{ID: "c", Topics: []string{"t1"}},
		{ID: "a", Topics: []string{"t1"}},
		{ID: "b", Topics: []string{"t1"}},
	}
	partitions := []Partition{
		{Topic: "t1", ID: 2},
		{Topic: "t1", ID: 0},
		{Topic: "t1", ID: 1},
	}

	first := StandardBalancer{}.AssignGroups(members, partitions)
	for i := 0; i < 10; i++ {
		again := StandardBalancer{}.AssignGroups(members, partitions)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("assignment is not deterministic: %v vs %v", first, again)
		}
	}

	// Canonical order: partitions sorted, members sorted by id.
	if !reflect.DeepEqual(first["a"], map[string][]int32{"t1": {0}}) {
		t.Errorf("member a: %v", first["a"])
	}
	if !reflect.DeepEqual(first["b"], map[string][]int32{"t1": {1}}) {
		t.Errorf("member b: %v", first["b"])
	}
	if !reflect.DeepEqual(first["c"], map[string][]int32{"t1": {2}}) {
		t.Errorf("member c: %v", first["c"])
	}
}

func TestRangeAssignGroups(t *testing.T) {
	members := []GroupMember{
		{ID: "a", Topics: []string{"t1"}},
		{ID: "b", Topics: []string{"t1"}},
	}

	got := RangeGroupBalancer{}.AssignGroups(members, makePartitions("t1", 5))
	expected := GroupMemberAssignments{
		"a": {"t1": {0, 1}},
		"b": {"t1": {2, 3, 4}},
	}
	if !reflect.DeepEqual(expected, got) {
		t.Errorf("expected %v; got %v", expected, got)
	}
}

func TestRoundRobinAssignGroups(t *testing.T) {
	members := []GroupMember{
		{ID: "a", Topics: []string{"t1"}},
		{ID: "b", Topics: []string{"t1"}},
		{ID: "c", Topics: []string{"t1"}},
	}

	got := RoundRobinGroupBalancer{}.AssignGroups(members, makePartitions("t1", 6))
	expected := GroupMemberAssignments{
		"a": {"t1": {0, 3}},
		"b": {"t1": {1, 4}},
		"c": {"t1": {2, 5}},
	}
	if !reflect.DeepEqual(expected, got) {
		t.Errorf("expected %v; got %v", expected, got)
	}
}

func TestFindGroupBalancer(t *testing.T) {
	balancers := []GroupBalancer{StandardBalancer{}, RangeGroupBalancer{}}

	if b, ok := findGroupBalancer("range", balancers); !ok || b.ProtocolName() != "range" {
		t.Error("range balancer not found")
	}
	if _, ok := findGroupBalancer("sticky", balancers); ok {
		t.Error("unexpected balancer found")
	}
}

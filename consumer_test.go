package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// groupState backs a testBroker acting as the coordinator and only leader of
// a single-broker cluster: partition logs, committed offsets, and a trivial
// solo-membership group protocol.
type groupState struct {
	mutex     sync.Mutex
	logs      map[topicPartition]messageSet
	committed map[topicPartition]int64
}

func newGroupState() *groupState {
	return &groupState{
		logs:      make(map[topicPartition]messageSet),
		committed: make(map[topicPartition]int64),
	}
}

func (s *groupState) appendMessages(topic string, partition int32, offsets ...int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	tp := topicPartition{topic, partition}
	s.logs[tp] = append(s.logs[tp], makeTestMessages(offsets...)...)
}

func (s *groupState) committedOffset(topic string, partition int32) (int64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	off, ok := s.committed[topicPartition{topic, partition}]
	return off, ok
}

func (s *groupState) setCommitted(topic string, partition int32, offset int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.committed[topicPartition{topic, partition}] = offset
}

// highWatermark is the offset after the last appended message.
func (s *groupState) highWatermark(tp topicPartition) int64 {
	log := s.logs[tp]
	if len(log) == 0 {
		return 0
	}
	return log[len(log)-1].Offset + 1
}

// serveGroup installs handlers for the whole consumer protocol on b.
func (s *groupState) serveGroup(b *testBroker, topics map[string][]partitionMetadataV0) {
	b.serveMetadata([]Broker{b.broker()}, topics)

	b.handle(groupCoordinatorRequest, func(hdr requestHeader, rb *readBuffer) writable {
		host, port := b.hostPort()
		return groupCoordinatorResponseV0{
			Coordinator: groupCoordinatorResponseCoordinatorV0{NodeID: b.nodeID, Host: host, Port: port},
		}
	})

	b.handle(joinGroupRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req joinGroupRequestV0
		req.readFrom(rb)
		memberID := req.MemberID
		if memberID == "" {
			memberID = "solo-member"
		}
		return joinGroupResponseV0{
			GenerationID:  1,
			GroupProtocol: req.GroupProtocols[0].ProtocolName,
			LeaderID:      memberID,
			MemberID:      memberID,
			Members: []joinGroupResponseMemberV0{
				{MemberID: memberID, MemberMetadata: req.GroupProtocols[0].ProtocolMetadata},
			},
		}
	})

	b.handle(syncGroupRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req syncGroupRequestV0
		req.readFrom(rb)
		for _, a := range req.GroupAssignments {
			if a.MemberID == req.MemberID {
				return syncGroupResponseV0{MemberAssignments: a.MemberAssignments}
			}
		}
		return syncGroupResponseV0{}
	})

	b.handle(heartbeatRequest, func(hdr requestHeader, rb *readBuffer) writable {
		return heartbeatResponseV0{}
	})

	b.handle(leaveGroupRequest, func(hdr requestHeader, rb *readBuffer) writable {
		return leaveGroupResponseV0{}
	})

	b.handle(offsetCommitRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req offsetCommitRequestV2
		req.readFrom(rb)
		var res offsetCommitResponseV2
		for _, t := range req.Topics {
			rt := offsetCommitResponseTopicV2{Topic: t.Topic}
			for _, p := range t.Partitions {
				s.setCommitted(t.Topic, p.Partition, p.Offset)
				rt.PartitionResponses = append(rt.PartitionResponses, offsetCommitResponsePartitionV2{Partition: p.Partition})
			}
			res.Responses = append(res.Responses, rt)
		}
		return res
	})

	b.handle(offsetFetchRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req offsetFetchRequestV1
		req.readFrom(rb)
		var res offsetFetchResponseV1
		for _, t := range req.Topics {
			rt := offsetFetchResponseTopicV1{Topic: t.Topic}
			for _, p := range t.Partitions {
				offset, ok := s.committedOffset(t.Topic, p)
				if !ok {
					offset = -1
				}
				rt.PartitionResponses = append(rt.PartitionResponses, offsetFetchResponsePartitionV1{
					Partition: p,
					Offset:    offset,
				})
			}
			res.Responses = append(res.Responses, rt)
		}
		return res
	})

	b.handle(listOffsetRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req listOffsetRequestV0
		req.readFrom(rb)
		s.mutex.Lock()
		defer s.mutex.Unlock()
		var res listOffsetResponseV0
		for _, t := range req.Topics {
			rt := listOffsetResponseTopicV0{TopicName: t.TopicName}
			for _, p := range t.Partitions {
				tp := topicPartition{t.TopicName, p.Partition}
				offset := int64(0)
				if p.Time == LastOffset {
					offset = s.highWatermark(tp)
				}
				rt.PartitionOffsets = append(rt.PartitionOffsets, partitionOffsetV0{
					Partition: p.Partition,
					Offsets:   []int64{offset},
				})
			}
			res.Topics = append(res.Topics, rt)
		}
		return res
	})

	b.handle(fetchRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req fetchRequestV1
		req.readFrom(rb)
		s.mutex.Lock()
		defer s.mutex.Unlock()
		var res fetchResponseWriterV1
		for _, topic := range req.Topics {
			rt := fetchResponseWriterTopic{TopicName: topic.TopicName}
			for _, p := range topic.Partitions {
				tp := topicPartition{topic.TopicName, p.Partition}
				high := s.highWatermark(tp)
				if p.FetchOffset > high {
					rt.Partitions = append(rt.Partitions, fetchResponseWriterPartition{
						Partition: p.Partition,
						ErrorCode: int16(OffsetOutOfRange),
					})
					continue
				}
				var filtered messageSet
				for _, m := range s.logs[tp] {
					if m.Offset >= p.FetchOffset {
						filtered = append(filtered, m)
					}
				}
				rt.Partitions = append(rt.Partitions, fetchResponseWriterPartition{
					Partition:     p.Partition,
					HighWatermark: high,
					MessageSet:    filtered,
				})
			}
			res.Topics = append(res.Topics, rt)
		}
		return res
	})
}

func newGroupConsumer(t *testing.T, b *testBroker) *Consumer {
	t.Helper()

	c, err := NewConsumer(ConsumerConfig{
		Brokers:        []string{b.addr()},
		GroupID:        "billing",
		ClientID:       "test",
		SessionTimeout: 30 * time.Second,
		CommitInterval: time.Hour, // commits only on shutdown unless forced
		MaxWait:        50 * time.Millisecond,
		ReadTimeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestConsumerSingleMemberSingleTopic(t *testing.T) {
	state := newGroupState()
	state.appendMessages("events", 0, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)
	state.appendMessages("events", 1, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9)

	b := newTestBroker(t, 1)
	state.serveGroup(b, map[string][]partitionMetadataV0{
		"events": {
			{PartitionID: 0, Leader: 1},
			{PartitionID: 1, Leader: 1},
		},
	})

	c := newGroupConsumer(t, b)
	if err := c.Subscribe("events", FirstOffset); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	byPartition := map[int][]int64{}
	count := 0

	err := c.Consume(ctx, func(msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		byPartition[msg.Partition] = append(byPartition[msg.Partition], msg.Offset)
		count++
		if count == 20 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 20 {
		t.Fatalf("expected 20 messages, got %d", count)
	}
	for partition, offsets := range byPartition {
		for i, off := range offsets {
			if off != int64(i) {
				t.Fatalf("partition %d: offsets out of order: %v", partition, offsets)
			}
		}
	}

	// Shutdown committed the next offset for both partitions.
	for _, partition := range []int32{0, 1} {
		off, ok := state.committedOffset("events", partition)
		if !ok || off != 10 {
			t.Errorf("partition %d: committed offset %d (ok=%v)", partition, off, ok)
		}
	}
}

func TestConsumerResumesFromCommittedOffset(t *testing.T) {
	state := newGroupState()
	offsets := make([]int64, 55)
	for i := range offsets {
		offsets[i] = int64(i)
	}
	state.appendMessages("events", 0, offsets...)

	// A previous consumer in the group committed offset 50 before crashing:
	// messages 50..54 must be re-delivered, nothing before them.
	state.setCommitted("events", 0, 50)

	b := newTestBroker(t, 1)
	state.serveGroup(b, map[string][]partitionMetadataV0{
		"events": {{PartitionID: 0, Leader: 1}},
	})

	c := newGroupConsumer(t, b)
	if err := c.Subscribe("events", FirstOffset); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []int64

	err := c.Consume(ctx, func(msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Offset)
		if len(got) == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 || got[0] != 50 || got[4] != 54 {
		t.Fatalf("expected offsets 50..54, got %v", got)
	}

	if off, _ := state.committedOffset("events", 0); off != 55 {
		t.Errorf("committed offset after shutdown: %d", off)
	}
}

func TestConsumerDefaultLatestYieldsOnlyNewMessages(t *testing.T) {
	state := newGroupState()
	offsets := make([]int64, 100)
	for i := range offsets {
		offsets[i] = int64(i)
	}
	state.appendMessages("events", 0, offsets...)

	b := newTestBroker(t, 1)
	state.serveGroup(b, map[string][]partitionMetadataV0{
		"events": {{PartitionID: 0, Leader: 1}},
	})

	c := newGroupConsumer(t, b)
	if err := c.Subscribe("events", LastOffset); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []int64

	// Produce one more message shortly after the consumer starts tailing
	// the log end.
	go func() {
		time.Sleep(500 * time.Millisecond)
		state.appendMessages("events", 0, 100)
	}()

	err := c.Consume(ctx, func(msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.Offset)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != 100 {
		t.Fatalf("expected exactly the new message at offset 100, got %v", got)
	}
}

func TestConsumerSubscribeValidation(t *testing.T) {
	b := newTestBroker(t, 1)
	c := newGroupConsumer(t, b)

	if err := c.Subscribe("", FirstOffset); err == nil {
		t.Error("expected an error for an empty topic")
	}
	if err := c.Subscribe("events", 42); err == nil {
		t.Error("expected an error for an invalid default offset")
	}
	if err := c.Subscribe("events", LastOffset); err != nil {
		t.Error(err)
	}
}

func TestConsumerConfigValidate(t *testing.T) {
	config := ConsumerConfig{}
	if err := config.Validate(); err == nil {
		t.Error("expected an error without brokers")
	}

	config = ConsumerConfig{Brokers: []string{"localhost:9092"}}
	if err := config.Validate(); err == nil {
		t.Error("expected an error without a group id")
	}

	config = ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}
	if err := config.Validate(); err != nil {
		t.Fatal(err)
	}
	if config.SessionTimeout != defaultSessionTimeout {
		t.Errorf("session timeout default: %v", config.SessionTimeout)
	}
	if config.CommitInterval != defaultCommitInterval {
		t.Errorf("commit interval default: %v", config.CommitInterval)
	}
	if len(config.GroupBalancers) != 1 || config.GroupBalancers[0].ProtocolName() != StandardBalancerProtocolName {
		t.Errorf("balancer default: %v", config.GroupBalancers)
	}
}

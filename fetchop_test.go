package kafka

import (
	"context"
	"errors"
	"testing"
	"time"
)

// serveFetch makes the broker answer fetch requests out of the given
// per-partition message sets, honoring the requested offset.
func (b *testBroker) serveFetch(sets map[topicPartition]messageSet, hwm map[topicPartition]int64) {
	b.handle(fetchRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req fetchRequestV1
		req.readFrom(rb)

		res := fetchResponseWriterV1{}
		for _, topic := range req.Topics {
			rt := fetchResponseWriterTopic{TopicName: topic.TopicName}
			for _, p := range topic.Partitions {
				tp := topicPartition{topic.TopicName, p.Partition}
				set, ok := sets[tp]
				if !ok {
					rt.Partitions = append(rt.Partitions, fetchResponseWriterPartition{
						Partition: p.Partition,
						ErrorCode: int16(UnknownTopicOrPartition),
					})
					continue
				}

				high := hwm[tp]
				if p.FetchOffset > high {
					rt.Partitions = append(rt.Partitions, fetchResponseWriterPartition{
						Partition: p.Partition,
						ErrorCode: int16(OffsetOutOfRange),
					})
					continue
				}

				var filtered messageSet
				for _, m := range set {
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

// serveListOffsets resolves the earliest/latest sentinels out of the given
// bounds.
func (b *testBroker) serveListOffsets(earliest, latest map[topicPartition]int64) {
	b.handle(listOffsetRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req listOffsetRequestV0
		req.readFrom(rb)

		res := listOffsetResponseV0{}
		for _, topic := range req.Topics {
			rt := listOffsetResponseTopicV0{TopicName: topic.TopicName}
			for _, p := range topic.Partitions {
				tp := topicPartition{topic.TopicName, p.Partition}
				var offset int64
				switch p.Time {
				case FirstOffset:
					offset = earliest[tp]
				case LastOffset:
					offset = latest[tp]
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
}

func TestFetchOperationOneRequestPerBroker(t *testing.T) {
	b1 := newTestBroker(t, 1)
	b2 := newTestBroker(t, 2)

	brokers := []Broker{b1.broker(), b2.broker()}
	layout := map[string][]partitionMetadataV0{
		"events": {
			{PartitionID: 0, Leader: 1},
			{PartitionID: 1, Leader: 2},
			{PartitionID: 2, Leader: 1},
			{PartitionID: 3, Leader: 2},
		},
	}
	b1.serveMetadata(brokers, layout)
	b2.serveMetadata(brokers, layout)

	sets := map[topicPartition]messageSet{
		{"events", 0}: makeTestMessages(0, 1),
		{"events", 1}: makeTestMessages(0),
		{"events", 2}: makeTestMessages(0, 1, 2),
		{"events", 3}: {},
	}
	hwm := map[topicPartition]int64{
		{"events", 0}: 2, {"events", 1}: 1, {"events", 2}: 3, {"events", 3}: 0,
	}
	b1.serveFetch(sets, hwm)
	b2.serveFetch(sets, hwm)

	cluster := newTestCluster(t, b1, b2)

	op := fetchOperation{
		cluster:  cluster,
		minBytes: 1,
		maxBytes: 1 << 20,
		maxWait:  100 * time.Millisecond,
		tuples: []fetchTuple{
			{topic: "events", partition: 0, offset: 0},
			{topic: "events", partition: 1, offset: 0},
			{topic: "events", partition: 2, offset: 0},
			{topic: "events", partition: 3, offset: 0},
		},
	}

	results, err := op.execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	// 4 partitions across 2 brokers: exactly one fetch request each.
	if n := b1.requestCount(fetchRequest); n != 1 {
		t.Errorf("broker 1 received %d fetch requests", n)
	}
	if n := b2.requestCount(fetchRequest); n != 1 {
		t.Errorf("broker 2 received %d fetch requests", n)
	}

	total := 0
	for _, r := range results {
		if r.err != nil {
			t.Errorf("partition %d: %v", r.partition, r.err)
			continue
		}
		last := int64(-1)
		for _, m := range r.messages {
			if m.Offset <= last {
				t.Errorf("partition %d: offsets not strictly increasing", r.partition)
			}
			last = m.Offset
		}
		total += len(r.messages)
	}
	if total != 6 {
		t.Errorf("expected 6 messages in total, got %d", total)
	}
}

func TestFetchOperationResolvesSentinels(t *testing.T) {
	b := newTestBroker(t, 1)
	b.serveMetadata([]Broker{b.broker()}, map[string][]partitionMetadataV0{
		"events": {{PartitionID: 0, Leader: 1}},
	})

	tp := topicPartition{"events", 0}
	b.serveFetch(
		map[topicPartition]messageSet{tp: makeTestMessages(98, 99)},
		map[topicPartition]int64{tp: 100},
	)
	b.serveListOffsets(
		map[topicPartition]int64{tp: 0},
		map[topicPartition]int64{tp: 100},
	)

	cluster := newTestCluster(t, b)

	// Fetching at the latest sentinel resolves to the log end: nothing to
	// read yet.
	op := fetchOperation{
		cluster:  cluster,
		minBytes: 1,
		maxBytes: 1 << 20,
		maxWait:  100 * time.Millisecond,
		tuples:   []fetchTuple{{topic: "events", partition: 0, offset: LastOffset}},
	}
	results, err := op.execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if results[0].err != nil {
		t.Fatal(results[0].err)
	}
	if len(results[0].messages) != 0 {
		t.Errorf("expected no messages at the log end, got %d", len(results[0].messages))
	}
	if n := b.requestCount(listOffsetRequest); n != 1 {
		t.Errorf("expected 1 list offsets request, got %d", n)
	}
}

func TestFetchOperationTruncatedTrailingMessage(t *testing.T) {
	b := newTestBroker(t, 1)
	b.serveMetadata([]Broker{b.broker()}, map[string][]partitionMetadataV0{
		"events": {{PartitionID: 0, Leader: 1}},
	})

	set := makeTestMessages(0, 1, 2)
	b.handle(fetchRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req fetchRequestV1
		req.readFrom(rb)
		return fetchResponseWriterV1{
			Topics: []fetchResponseWriterTopic{{
				TopicName: "events",
				Partitions: []fetchResponseWriterPartition{{
					Partition:     0,
					HighWatermark: 3,
					MessageSet:    set,
					Truncate:      set.size() - 5,
				}},
			}},
		}
	})

	cluster := newTestCluster(t, b)

	op := fetchOperation{
		cluster:  cluster,
		minBytes: 1,
		maxBytes: 1 << 20,
		maxWait:  100 * time.Millisecond,
		tuples:   []fetchTuple{{topic: "events", partition: 0, offset: 0}},
	}
	results, err := op.execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	r := results[0]
	if r.err != nil {
		t.Fatal(r.err)
	}
	if len(r.messages) != 2 {
		t.Fatalf("expected the truncated trailing message to be dropped, got %d messages", len(r.messages))
	}
	if r.highWatermark != 3 {
		t.Errorf("high watermark: %d", r.highWatermark)
	}
}

func TestFetchOperationPartitionError(t *testing.T) {
	b := newTestBroker(t, 1)
	b.serveMetadata([]Broker{b.broker()}, map[string][]partitionMetadataV0{
		"events": {{PartitionID: 0, Leader: 1}},
	})

	tp := topicPartition{"events", 0}
	b.serveFetch(
		map[topicPartition]messageSet{tp: makeTestMessages(0)},
		map[topicPartition]int64{tp: 1},
	)

	cluster := newTestCluster(t, b)

	op := fetchOperation{
		cluster:  cluster,
		minBytes: 1,
		maxBytes: 1 << 20,
		maxWait:  100 * time.Millisecond,
		tuples:   []fetchTuple{{topic: "events", partition: 0, offset: 7}},
	}
	results, err := op.execute(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(results[0].err, OffsetOutOfRange) {
		t.Errorf("expected OffsetOutOfRange, got %v", results[0].err)
	}
}

package kafka

import (
	"context"
	"sync"
	"time"
)

// fetchTuple names one partition to fetch and where to start. Offset may be
// one of the FirstOffset/LastOffset sentinels, which are resolved against
// the partition leader before the fetch is issued.
type fetchTuple struct {
	topic     string
	partition int32
	offset    int64
	maxBytes  int32
}

// fetchResult carries the outcome for one tuple: the decoded messages in
// ascending offset order, the partition high watermark, and the error (if
// any) translated from the broker error code or raised while decoding.
type fetchResult struct {
	topic         string
	partition     int32
	highWatermark int64
	messages      []Message
	err           error

	// fetchOffset is the absolute offset the fetch was issued at, after any
	// sentinel resolution.
	fetchOffset int64
}

// fetchOperation batches the tuples by partition leader, issues one fetch
// request per broker in parallel, and flattens the results: grouped by
// broker as dispatched, then by partition as requested within the bucket,
// then by offset ascending. Cross-partition ordering is unspecified by
// contract even though the implementation is deterministic.
type fetchOperation struct {
	cluster  *Cluster
	minBytes int32
	maxBytes int32
	maxWait  time.Duration
	tuples   []fetchTuple
}

type fetchBucket struct {
	broker Broker
	tuples []fetchTuple
}

func (op *fetchOperation) execute(ctx context.Context) ([]fetchResult, error) {
	buckets, failed := op.bucketByLeader(ctx)

	results := make([][]fetchResult, len(buckets))
	wg := sync.WaitGroup{}

	for i := range buckets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = op.fetchBucket(ctx, buckets[i])
		}(i)
	}
	wg.Wait()

	flat := make([]fetchResult, 0, len(op.tuples))
	for _, rs := range results {
		flat = append(flat, rs...)
	}
	flat = append(flat, failed...)
	return flat, nil
}

// bucketByLeader resolves every tuple's leader and groups the tuples per
// broker, preserving first-seen broker order and the request order of the
// tuples within each bucket. Tuples whose leader cannot be resolved come
// back as failed results for the caller to translate.
func (op *fetchOperation) bucketByLeader(ctx context.Context) ([]fetchBucket, []fetchResult) {
	var buckets []fetchBucket
	var failed []fetchResult
	index := make(map[int]int)

	for _, t := range op.tuples {
		leader, err := op.cluster.LeaderFor(ctx, t.topic, t.partition)
		if err != nil {
			failed = append(failed, fetchResult{
				topic:     t.topic,
				partition: t.partition,
				err:       err,
			})
			continue
		}
		i, ok := index[leader.ID]
		if !ok {
			i = len(buckets)
			index[leader.ID] = i
			buckets = append(buckets, fetchBucket{broker: leader})
		}
		buckets[i].tuples = append(buckets[i].tuples, t)
	}

	return buckets, failed
}

// fetchBucket issues the fetch for one broker. Each bucket uses the pooled
// connection of its own broker, so concurrent buckets never share a
// connection.
func (op *fetchOperation) fetchBucket(ctx context.Context, bucket fetchBucket) []fetchResult {
	fail := func(err error) []fetchResult {
		results := make([]fetchResult, len(bucket.tuples))
		for i, t := range bucket.tuples {
			results[i] = fetchResult{topic: t.topic, partition: t.partition, err: err}
		}
		return results
	}

	conn, err := op.cluster.connTo(ctx, bucket.broker)
	if err != nil {
		return fail(err)
	}

	tuples, err := op.resolveSentinels(conn, bucket.tuples)
	if err != nil {
		op.cluster.dropConn(bucket.broker.addr())
		return fail(err)
	}

	req := fetchRequestV1{
		ReplicaID:   -1,
		MaxWaitTime: int32(op.maxWait / time.Millisecond),
		MinBytes:    op.minBytes,
	}

	// One topic entry per distinct topic, partitions in tuple order.
	topicIndex := make(map[string]int)
	for _, t := range tuples {
		i, ok := topicIndex[t.topic]
		if !ok {
			i = len(req.Topics)
			topicIndex[t.topic] = i
			req.Topics = append(req.Topics, fetchRequestTopicV1{TopicName: t.topic})
		}
		maxBytes := t.maxBytes
		if maxBytes == 0 {
			maxBytes = op.maxBytes
		}
		req.Topics[i].Partitions = append(req.Topics[i].Partitions, fetchRequestPartitionV1{
			Partition:   t.partition,
			FetchOffset: t.offset,
			MaxBytes:    maxBytes,
		})
	}

	res, err := conn.fetch(req)
	if err != nil {
		op.cluster.dropConn(bucket.broker.addr())
		return fail(err)
	}

	// Re-associate the response partitions with the request tuples so the
	// results come back in request order even if the broker reordered them.
	type pkey struct {
		topic     string
		partition int32
	}
	decoded := make(map[pkey]fetchResponsePartitionV1)
	for _, t := range res.Topics {
		for _, p := range t.Partitions {
			decoded[pkey{t.TopicName, p.Partition}] = p
		}
	}

	results := make([]fetchResult, len(tuples))
	for i, t := range tuples {
		p, ok := decoded[pkey{t.topic, t.partition}]
		if !ok {
			results[i] = fetchResult{topic: t.topic, partition: t.partition, err: UnknownTopicOrPartition}
			continue
		}
		results[i] = fetchResult{
			topic:         t.topic,
			partition:     t.partition,
			highWatermark: p.HighWatermark,
			messages:      p.Messages,
			err:           p.Err,
			fetchOffset:   t.offset,
		}
	}
	return results
}

// resolveSentinels translates FirstOffset/LastOffset tuples into absolute
// offsets by querying the partition leader's offset index.
func (op *fetchOperation) resolveSentinels(conn *Conn, tuples []fetchTuple) ([]fetchTuple, error) {
	var req listOffsetRequestV0
	topicIndex := make(map[string]int)

	for _, t := range tuples {
		if t.offset >= 0 {
			continue
		}
		i, ok := topicIndex[t.topic]
		if !ok {
			i = len(req.Topics)
			topicIndex[t.topic] = i
			req.Topics = append(req.Topics, listOffsetRequestTopicV0{TopicName: t.topic})
		}
		req.Topics[i].Partitions = append(req.Topics[i].Partitions, listOffsetRequestPartitionV0{
			Partition:          t.partition,
			Time:               t.offset,
			MaxNumberOfOffsets: 1,
		})
	}

	if len(req.Topics) == 0 {
		return tuples, nil
	}
	req.ReplicaID = -1

	res, err := conn.listOffsets(req)
	if err != nil {
		return nil, err
	}

	resolved := make(map[topicPartition]int64)
	for _, t := range res.Topics {
		for _, p := range t.PartitionOffsets {
			if p.ErrorCode != 0 {
				return nil, Error(p.ErrorCode)
			}
			if len(p.Offsets) != 0 {
				resolved[topicPartition{t.TopicName, p.Partition}] = p.Offsets[0]
			}
		}
	}

	out := make([]fetchTuple, len(tuples))
	for i, t := range tuples {
		out[i] = t
		if t.offset < 0 {
			off, ok := resolved[topicPartition{t.topic, t.partition}]
			if !ok {
				return nil, UnknownTopicOrPartition
			}
			out[i].offset = off
		}
	}
	return out, nil
}

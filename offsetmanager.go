package kafka

import (
	"context"
	"time"
)

// offsetManager tracks, for every partition owned by this consumer, the last
// offset the caller finished processing and the next offset known to be
// durable in the group's offset store. Offsets committed to the coordinator
// follow the kafka convention of naming the next message to consume, so the
// value sent for a processed offset o is o+1.
type offsetManager struct {
	coord   coordinator
	groupID string

	commitInterval time.Duration
	retentionTime  time.Duration

	defaults   map[string]int64
	processed  map[topicPartition]int64
	committed  map[topicPartition]int64
	positions  map[topicPartition]int64
	lastCommit time.Time

	logger Logger
}

func newOffsetManager(coord coordinator, groupID string, commitInterval time.Duration, logger Logger) *offsetManager {
	return &offsetManager{
		coord:          coord,
		groupID:        groupID,
		commitInterval: commitInterval,
		retentionTime:  -1 * time.Millisecond,
		defaults:       make(map[string]int64),
		processed:      make(map[topicPartition]int64),
		committed:      make(map[topicPartition]int64),
		positions:      make(map[topicPartition]int64),
		logger:         logger,
	}
}

// setDefaultOffset records the position policy used for partitions of the
// topic that have no committed offset: FirstOffset or LastOffset.
func (om *offsetManager) setDefaultOffset(topic string, policy int64) {
	om.defaults[topic] = policy
}

// nextOffsetFor returns the offset of the next fetch for the partition:
// the offset after the last processed message, else the committed offset
// read back from the coordinator, else the topic's default offset sentinel
// (resolved against the partition leader at fetch time).
func (om *offsetManager) nextOffsetFor(ctx context.Context, topic string, partition int32) (int64, error) {
	tp := topicPartition{topic, partition}

	if p, ok := om.processed[tp]; ok {
		return p + 1, nil
	}
	if pos, ok := om.positions[tp]; ok {
		return pos, nil
	}
	if c, ok := om.committed[tp]; ok {
		return c, nil
	}

	res, err := om.coord.offsetFetch(ctx, offsetFetchRequestV1{
		GroupID: om.groupID,
		Topics: []offsetFetchRequestTopicV1{{
			Topic:      topic,
			Partitions: []int32{partition},
		}},
	})
	if err != nil {
		return 0, err
	}

	offset, err := findOffset(topic, partition, res)
	if err != nil {
		return 0, err
	}
	if offset >= 0 {
		om.committed[tp] = offset
		return offset, nil
	}

	if def, ok := om.defaults[topic]; ok {
		return def, nil
	}
	return FirstOffset, nil
}

// setPosition pins the absolute offset a default-offset sentinel resolved
// to, so that tailing the log end doesn't skip messages produced between two
// resolutions. Once a message has been processed the position is implied and
// the pin is unnecessary.
func (om *offsetManager) setPosition(topic string, partition int32, offset int64) {
	tp := topicPartition{topic, partition}
	if offset < 0 {
		return
	}
	if _, ok := om.processed[tp]; ok {
		return
	}
	om.positions[tp] = offset
}

// markProcessed records that the caller finished handling the message at the
// given offset. Replays of an already processed offset are a no-op.
func (om *offsetManager) markProcessed(topic string, partition int32, offset int64) {
	tp := topicPartition{topic, partition}
	if p, ok := om.processed[tp]; ok && offset <= p {
		return
	}
	om.processed[tp] = offset
}

// commitOffsets sends the processed offsets that have advanced past the
// committed ones to the group coordinator under the given membership, and
// returns how many partitions were committed. Partitions with nothing new
// are left out; if nothing advanced, no request is sent at all.
func (om *offsetManager) commitOffsets(ctx context.Context, generationID int32, memberID string) (int, error) {
	type dirty struct {
		tp   topicPartition
		next int64
	}
	var dirties []dirty

	for tp, p := range om.processed {
		next := p + 1
		if c, ok := om.committed[tp]; ok && next <= c {
			continue
		}
		dirties = append(dirties, dirty{tp, next})
	}
	if len(dirties) == 0 {
		return 0, nil
	}

	req := offsetCommitRequestV2{
		GroupID:       om.groupID,
		GenerationID:  generationID,
		MemberID:      memberID,
		RetentionTime: int64(om.retentionTime / time.Millisecond),
	}
	topicIndex := make(map[string]int)
	for _, d := range dirties {
		i, ok := topicIndex[d.tp.topic]
		if !ok {
			i = len(req.Topics)
			topicIndex[d.tp.topic] = i
			req.Topics = append(req.Topics, offsetCommitRequestTopicV2{Topic: d.tp.topic})
		}
		req.Topics[i].Partitions = append(req.Topics[i].Partitions, offsetCommitRequestPartitionV2{
			Partition: d.tp.partition,
			Offset:    d.next,
		})
	}

	res, err := om.coord.offsetCommit(ctx, req)
	if err != nil {
		return 0, err
	}

	for _, t := range res.Responses {
		for _, p := range t.PartitionResponses {
			if p.ErrorCode != 0 {
				return 0, Error(p.ErrorCode)
			}
		}
	}

	for _, d := range dirties {
		om.committed[d.tp] = d.next
	}
	if om.logger != nil {
		om.logger.Printf("committed offsets for group %s: %d partitions", om.groupID, len(dirties))
	}
	return len(dirties), nil
}

// commitOffsetsIfDue is commitOffsets rate-limited to at most once per
// commit interval.
func (om *offsetManager) commitOffsetsIfDue(ctx context.Context, generationID int32, memberID string) (int, error) {
	if time.Since(om.lastCommit) < om.commitInterval {
		return 0, nil
	}
	n, err := om.commitOffsets(ctx, generationID, memberID)
	if err != nil {
		return n, err
	}
	om.lastCommit = time.Now()
	return n, nil
}

// clearExcluding drops the bookkeeping of every partition that is not part
// of the given assignment, as happens on rebalance when partitions move to
// other members.
func (om *offsetManager) clearExcluding(assigned map[string][]int32) {
	keep := make(map[topicPartition]bool)
	for topic, partitions := range assigned {
		for _, p := range partitions {
			keep[topicPartition{topic, p}] = true
		}
	}
	for tp := range om.processed {
		if !keep[tp] {
			delete(om.processed, tp)
		}
	}
	for tp := range om.committed {
		if !keep[tp] {
			delete(om.committed, tp)
		}
	}
	for tp := range om.positions {
		if !keep[tp] {
			delete(om.positions, tp)
		}
	}
}

// reset drops all local bookkeeping for a partition, forcing the next fetch
// to re-resolve its position. Used by the opt-in out-of-range recovery.
func (om *offsetManager) reset(topic string, partition int32) {
	tp := topicPartition{topic, partition}
	delete(om.processed, tp)
	delete(om.committed, tp)
	delete(om.positions, tp)
}

package kafka

// OffsetFetch API (v1), reading committed offsets back from the group
// coordinator's offset store.

type offsetFetchRequestTopicV1 struct {
	// Topic name
	Topic string

	// Partitions to fetch offsets
	Partitions []int32
}

func (t offsetFetchRequestTopicV1) size() int32 {
	return sizeofString(t.Topic) +
		sizeofInt32Array(t.Partitions)
}

func (t offsetFetchRequestTopicV1) writeTo(wb *writeBuffer) {
	wb.writeString(t.Topic)
	wb.writeInt32Array(t.Partitions)
}

func (t *offsetFetchRequestTopicV1) readFrom(rb *readBuffer) {
	t.Topic = rb.readString()
	t.Partitions = rb.readInt32Array()
}

type offsetFetchRequestV1 struct {
	// GroupID holds the unique group identifier
	GroupID string

	// Topics to fetch offsets.
	Topics []offsetFetchRequestTopicV1
}

func (t offsetFetchRequestV1) size() int32 {
	return sizeofString(t.GroupID) +
		sizeofArray(len(t.Topics), func(i int) int32 { return t.Topics[i].size() })
}

func (t offsetFetchRequestV1) writeTo(wb *writeBuffer) {
	wb.writeString(t.GroupID)
	wb.writeArray(len(t.Topics), func(i int) { t.Topics[i].writeTo(wb) })
}

func (t *offsetFetchRequestV1) readFrom(rb *readBuffer) {
	t.GroupID = rb.readString()
	rb.readArray(func() {
		topic := offsetFetchRequestTopicV1{}
		topic.readFrom(rb)
		t.Topics = append(t.Topics, topic)
	})
}

type offsetFetchResponsePartitionV1 struct {
	// Partition ID
	Partition int32

	// Offset the group last committed, which by convention is the next
	// message to consume, or -1 when the group has no committed offset for
	// the partition.
	Offset int64

	// Metadata the client wants to keep
	Metadata string

	// ErrorCode holds response error code
	ErrorCode int16
}

func (t offsetFetchResponsePartitionV1) size() int32 {
	return sizeofInt32(t.Partition) +
		sizeofInt64(t.Offset) +
		sizeofString(t.Metadata) +
		sizeofInt16(t.ErrorCode)
}

func (t offsetFetchResponsePartitionV1) writeTo(wb *writeBuffer) {
	wb.writeInt32(t.Partition)
	wb.writeInt64(t.Offset)
	wb.writeString(t.Metadata)
	wb.writeInt16(t.ErrorCode)
}

func (t *offsetFetchResponsePartitionV1) readFrom(rb *readBuffer) {
	t.Partition = rb.readInt32()
	t.Offset = rb.readInt64()
	t.Metadata = rb.readString()
	t.ErrorCode = rb.readInt16()
}

type offsetFetchResponseTopicV1 struct {
	// Topic name
	Topic string

	// PartitionResponses holds offsets by partition
	PartitionResponses []offsetFetchResponsePartitionV1
}

func (t offsetFetchResponseTopicV1) size() int32 {
	return sizeofString(t.Topic) +
		sizeofArray(len(t.PartitionResponses), func(i int) int32 { return t.PartitionResponses[i].size() })
}

func (t offsetFetchResponseTopicV1) writeTo(wb *writeBuffer) {
	wb.writeString(t.Topic)
	wb.writeArray(len(t.PartitionResponses), func(i int) { t.PartitionResponses[i].writeTo(wb) })
}

func (t *offsetFetchResponseTopicV1) readFrom(rb *readBuffer) {
	t.Topic = rb.readString()
	rb.readArray(func() {
		p := offsetFetchResponsePartitionV1{}
		p.readFrom(rb)
		t.PartitionResponses = append(t.PartitionResponses, p)
	})
}

type offsetFetchResponseV1 struct {
	Responses []offsetFetchResponseTopicV1
}

func (t offsetFetchResponseV1) size() int32 {
	return sizeofArray(len(t.Responses), func(i int) int32 { return t.Responses[i].size() })
}

func (t offsetFetchResponseV1) writeTo(wb *writeBuffer) {
	wb.writeArray(len(t.Responses), func(i int) { t.Responses[i].writeTo(wb) })
}

func (t *offsetFetchResponseV1) readFrom(rb *readBuffer) {
	rb.readArray(func() {
		topic := offsetFetchResponseTopicV1{}
		topic.readFrom(rb)
		t.Responses = append(t.Responses, topic)
	})
}

func findOffset(topic string, partition int32, response offsetFetchResponseV1) (int64, error) {
	for _, r := range response.Responses {
		if r.Topic != topic {
			continue
		}
		for _, pr := range r.PartitionResponses {
			if pr.Partition == partition {
				if pr.ErrorCode != 0 {
					return 0, Error(pr.ErrorCode)
				}
				return pr.Offset, nil
			}
		}
	}
	return -1, nil
}

package kafka

// OffsetCommit API (v2), committing consumed offsets to the group
// coordinator under the current generation and member.

type offsetCommitRequestPartitionV2 struct {
	// Partition ID
	Partition int32

	// Offset to be committed. By convention this is the offset of the next
	// message to consume, not the last one processed.
	Offset int64

	// Metadata holds any associated metadata the client wants to keep
	Metadata string
}

func (t offsetCommitRequestPartitionV2) size() int32 {
	return sizeofInt32(t.Partition) +
		sizeofInt64(t.Offset) +
		sizeofString(t.Metadata)
}

func (t offsetCommitRequestPartitionV2) writeTo(wb *writeBuffer) {
	wb.writeInt32(t.Partition)
	wb.writeInt64(t.Offset)
	wb.writeString(t.Metadata)
}

func (t *offsetCommitRequestPartitionV2) readFrom(rb *readBuffer) {
	t.Partition = rb.readInt32()
	t.Offset = rb.readInt64()
	t.Metadata = rb.readString()
}

type offsetCommitRequestTopicV2 struct {
	// Topic name
	Topic string

	// Partitions to commit offsets
	Partitions []offsetCommitRequestPartitionV2
}

func (t offsetCommitRequestTopicV2) size() int32 {
	return sizeofString(t.Topic) +
		sizeofArray(len(t.Partitions), func(i int) int32 { return t.Partitions[i].size() })
}

func (t offsetCommitRequestTopicV2) writeTo(wb *writeBuffer) {
	wb.writeString(t.Topic)
	wb.writeArray(len(t.Partitions), func(i int) { t.Partitions[i].writeTo(wb) })
}

func (t *offsetCommitRequestTopicV2) readFrom(rb *readBuffer) {
	t.Topic = rb.readString()
	rb.readArray(func() {
		p := offsetCommitRequestPartitionV2{}
		p.readFrom(rb)
		t.Partitions = append(t.Partitions, p)
	})
}

type offsetCommitRequestV2 struct {
	// GroupID holds the unique group identifier
	GroupID string

	// GenerationID holds the generation of the group.
	GenerationID int32

	// MemberID assigned by the group coordinator
	MemberID string

	// RetentionTime holds the time period in ms to retain the offset, or -1
	// to use the broker's configured retention.
	RetentionTime int64

	// Topics to commit offsets
	Topics []offsetCommitRequestTopicV2
}

func (t offsetCommitRequestV2) size() int32 {
	return sizeofString(t.GroupID) +
		sizeofInt32(t.GenerationID) +
		sizeofString(t.MemberID) +
		sizeofInt64(t.RetentionTime) +
		sizeofArray(len(t.Topics), func(i int) int32 { return t.Topics[i].size() })
}

func (t offsetCommitRequestV2) writeTo(wb *writeBuffer) {
	wb.writeString(t.GroupID)
	wb.writeInt32(t.GenerationID)
	wb.writeString(t.MemberID)
	wb.writeInt64(t.RetentionTime)
	wb.writeArray(len(t.Topics), func(i int) { t.Topics[i].writeTo(wb) })
}

func (t *offsetCommitRequestV2) readFrom(rb *readBuffer) {
	t.GroupID = rb.readString()
	t.GenerationID = rb.readInt32()
	t.MemberID = rb.readString()
	t.RetentionTime = rb.readInt64()
	rb.readArray(func() {
		topic := offsetCommitRequestTopicV2{}
		topic.readFrom(rb)
		t.Topics = append(t.Topics, topic)
	})
}

type offsetCommitResponsePartitionV2 struct {
	Partition int32

	// ErrorCode holds response error code
	ErrorCode int16
}

func (t offsetCommitResponsePartitionV2) size() int32 {
	return sizeofInt32(t.Partition) +
		sizeofInt16(t.ErrorCode)
}

func (t offsetCommitResponsePartitionV2) writeTo(wb *writeBuffer) {
	wb.writeInt32(t.Partition)
	wb.writeInt16(t.ErrorCode)
}

func (t *offsetCommitResponsePartitionV2) readFrom(rb *readBuffer) {
	t.Partition = rb.readInt32()
	t.ErrorCode = rb.readInt16()
}

type offsetCommitResponseTopicV2 struct {
	Topic              string
	PartitionResponses []offsetCommitResponsePartitionV2
}

func (t offsetCommitResponseTopicV2) size() int32 {
	return sizeofString(t.Topic) +
		sizeofArray(len(t.PartitionResponses), func(i int) int32 { return t.PartitionResponses[i].size() })
}

func (t offsetCommitResponseTopicV2) writeTo(wb *writeBuffer) {
	wb.writeString(t.Topic)
	wb.writeArray(len(t.PartitionResponses), func(i int) { t.PartitionResponses[i].writeTo(wb) })
}

func (t *offsetCommitResponseTopicV2) readFrom(rb *readBuffer) {
	t.Topic = rb.readString()
	rb.readArray(func() {
		p := offsetCommitResponsePartitionV2{}
		p.readFrom(rb)
		t.PartitionResponses = append(t.PartitionResponses, p)
	})
}

type offsetCommitResponseV2 struct {
	Responses []offsetCommitResponseTopicV2
}

func (t offsetCommitResponseV2) size() int32 {
	return sizeofArray(len(t.Responses), func(i int) int32 { return t.Responses[i].size() })
}

func (t offsetCommitResponseV2) writeTo(wb *writeBuffer) {
	wb.writeArray(len(t.Responses), func(i int) { t.Responses[i].writeTo(wb) })
}

func (t *offsetCommitResponseV2) readFrom(rb *readBuffer) {
	rb.readArray(func() {
		topic := offsetCommitResponseTopicV2{}
		topic.readFrom(rb)
		t.Responses = append(t.Responses, topic)
	})
}

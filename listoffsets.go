package kafka

// Offsets API (v0), used to translate the earliest/latest sentinels into
// absolute offsets when a partition has no committed offset.

type listOffsetRequestPartitionV0 struct {
	Partition int32

	// Time is a millisecond timestamp, or one of the sentinels -1 (latest)
	// and -2 (earliest).
	Time int64

	// MaxNumberOfOffsets bounds the number of offsets returned; the client
	// only ever needs one.
	MaxNumberOfOffsets int32
}

func (p listOffsetRequestPartitionV0) size() int32 {
	return 4 + 8 + 4
}

func (p listOffsetRequestPartitionV0) writeTo(wb *writeBuffer) {
	wb.writeInt32(p.Partition)
	wb.writeInt64(p.Time)
	wb.writeInt32(p.MaxNumberOfOffsets)
}

func (p *listOffsetRequestPartitionV0) readFrom(rb *readBuffer) {
	p.Partition = rb.readInt32()
	p.Time = rb.readInt64()
	p.MaxNumberOfOffsets = rb.readInt32()
}

type listOffsetRequestTopicV0 struct {
	TopicName  string
	Partitions []listOffsetRequestPartitionV0
}

func (t listOffsetRequestTopicV0) size() int32 {
	return sizeofString(t.TopicName) +
		sizeofArray(len(t.Partitions), func(i int) int32 { return t.Partitions[i].size() })
}

func (t listOffsetRequestTopicV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.TopicName)
	wb.writeArray(len(t.Partitions), func(i int) { t.Partitions[i].writeTo(wb) })
}

func (t *listOffsetRequestTopicV0) readFrom(rb *readBuffer) {
	t.TopicName = rb.readString()
	rb.readArray(func() {
		p := listOffsetRequestPartitionV0{}
		p.readFrom(rb)
		t.Partitions = append(t.Partitions, p)
	})
}

type listOffsetRequestV0 struct {
	ReplicaID int32
	Topics    []listOffsetRequestTopicV0
}

func (r listOffsetRequestV0) size() int32 {
	return 4 + sizeofArray(len(r.Topics), func(i int) int32 { return r.Topics[i].size() })
}

func (r listOffsetRequestV0) writeTo(wb *writeBuffer) {
	wb.writeInt32(r.ReplicaID)
	wb.writeArray(len(r.Topics), func(i int) { r.Topics[i].writeTo(wb) })
}

func (r *listOffsetRequestV0) readFrom(rb *readBuffer) {
	r.ReplicaID = rb.readInt32()
	rb.readArray(func() {
		t := listOffsetRequestTopicV0{}
		t.readFrom(rb)
		r.Topics = append(r.Topics, t)
	})
}

type partitionOffsetV0 struct {
	Partition int32
	ErrorCode int16
	Offsets   []int64
}

func (p partitionOffsetV0) size() int32 {
	return 4 + 2 + 4 + 8*int32(len(p.Offsets))
}

func (p partitionOffsetV0) writeTo(wb *writeBuffer) {
	wb.writeInt32(p.Partition)
	wb.writeInt16(p.ErrorCode)
	wb.writeArray(len(p.Offsets), func(i int) { wb.writeInt64(p.Offsets[i]) })
}

func (p *partitionOffsetV0) readFrom(rb *readBuffer) {
	p.Partition = rb.readInt32()
	p.ErrorCode = rb.readInt16()
	p.Offsets = rb.readInt64Array()
}

type listOffsetResponseTopicV0 struct {
	TopicName        string
	PartitionOffsets []partitionOffsetV0
}

func (t listOffsetResponseTopicV0) size() int32 {
	return sizeofString(t.TopicName) +
		sizeofArray(len(t.PartitionOffsets), func(i int) int32 { return t.PartitionOffsets[i].size() })
}

func (t listOffsetResponseTopicV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.TopicName)
	wb.writeArray(len(t.PartitionOffsets), func(i int) { t.PartitionOffsets[i].writeTo(wb) })
}

func (t *listOffsetResponseTopicV0) readFrom(rb *readBuffer) {
	t.TopicName = rb.readString()
	rb.readArray(func() {
		p := partitionOffsetV0{}
		p.readFrom(rb)
		t.PartitionOffsets = append(t.PartitionOffsets, p)
	})
}

type listOffsetResponseV0 struct {
	Topics []listOffsetResponseTopicV0
}

func (r listOffsetResponseV0) size() int32 {
	return sizeofArray(len(r.Topics), func(i int) int32 { return r.Topics[i].size() })
}

func (r listOffsetResponseV0) writeTo(wb *writeBuffer) {
	wb.writeArray(len(r.Topics), func(i int) { r.Topics[i].writeTo(wb) })
}

func (r *listOffsetResponseV0) readFrom(rb *readBuffer) {
	rb.readArray(func() {
		t := listOffsetResponseTopicV0{}
		t.readFrom(rb)
		r.Topics = append(r.Topics, t)
	})
}

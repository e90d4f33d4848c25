package kafka

// Fetch API (v1), the 0.9 version carrying a throttle time and v0/v1
// message sets.

type fetchRequestPartitionV1 struct {
	Partition   int32
	FetchOffset int64
	MaxBytes    int32
}

func (p fetchRequestPartitionV1) size() int32 {
	return 4 + 8 + 4
}

func (p fetchRequestPartitionV1) writeTo(wb *writeBuffer) {
	wb.writeInt32(p.Partition)
	wb.writeInt64(p.FetchOffset)
	wb.writeInt32(p.MaxBytes)
}

func (p *fetchRequestPartitionV1) readFrom(rb *readBuffer) {
	p.Partition = rb.readInt32()
	p.FetchOffset = rb.readInt64()
	p.MaxBytes = rb.readInt32()
}

type fetchRequestTopicV1 struct {
	TopicName  string
	Partitions []fetchRequestPartitionV1
}

func (t fetchRequestTopicV1) size() int32 {
	return sizeofString(t.TopicName) +
		sizeofArray(len(t.Partitions), func(i int) int32 { return t.Partitions[i].size() })
}

func (t fetchRequestTopicV1) writeTo(wb *writeBuffer) {
	wb.writeString(t.TopicName)
	wb.writeArray(len(t.Partitions), func(i int) { t.Partitions[i].writeTo(wb) })
}

func (t *fetchRequestTopicV1) readFrom(rb *readBuffer) {
	t.TopicName = rb.readString()
	rb.readArray(func() {
		p := fetchRequestPartitionV1{}
		p.readFrom(rb)
		t.Partitions = append(t.Partitions, p)
	})
}

type fetchRequestV1 struct {
	// ReplicaID is always -1 for a client.
	ReplicaID   int32
	MaxWaitTime int32
	MinBytes    int32
	Topics      []fetchRequestTopicV1
}

func (r fetchRequestV1) size() int32 {
	return 4 + 4 + 4 +
		sizeofArray(len(r.Topics), func(i int) int32 { return r.Topics[i].size() })
}

func (r fetchRequestV1) writeTo(wb *writeBuffer) {
	wb.writeInt32(r.ReplicaID)
	wb.writeInt32(r.MaxWaitTime)
	wb.writeInt32(r.MinBytes)
	wb.writeArray(len(r.Topics), func(i int) { r.Topics[i].writeTo(wb) })
}

func (r *fetchRequestV1) readFrom(rb *readBuffer) {
	r.ReplicaID = rb.readInt32()
	r.MaxWaitTime = rb.readInt32()
	r.MinBytes = rb.readInt32()
	rb.readArray(func() {
		t := fetchRequestTopicV1{}
		t.readFrom(rb)
		r.Topics = append(r.Topics, t)
	})
}

// fetchResponsePartitionV1 is the decoded form of one partition of a fetch
// response: the message set is parsed eagerly, dropping a truncated trailing
// message, and Err carries either the broker error code translation or the
// message set decoding error.
type fetchResponsePartitionV1 struct {
	Partition     int32
	ErrorCode     int16
	HighWatermark int64
	Messages      []Message

	Err error
}

func (p *fetchResponsePartitionV1) readFrom(rb *readBuffer, topic string) {
	p.Partition = rb.readInt32()
	p.ErrorCode = rb.readInt16()
	p.HighWatermark = rb.readInt64()

	setSize := rb.readInt32()
	if rb.err != nil {
		return
	}
	if setSize < 0 {
		rb.setErr(InvalidMessageSize)
		return
	}

	p.Messages, p.Err = readMessageSet(rb, int(setSize), topic, p.Partition)
	if p.Err == nil && p.ErrorCode != 0 {
		p.Err = Error(p.ErrorCode)
		p.Messages = nil
	}
}

type fetchResponseTopicV1 struct {
	TopicName  string
	Partitions []fetchResponsePartitionV1
}

func (t *fetchResponseTopicV1) readFrom(rb *readBuffer) {
	t.TopicName = rb.readString()
	rb.readArray(func() {
		p := fetchResponsePartitionV1{}
		p.readFrom(rb, t.TopicName)
		t.Partitions = append(t.Partitions, p)
	})
}

type fetchResponseV1 struct {
	ThrottleTime int32
	Topics       []fetchResponseTopicV1
}

func (r *fetchResponseV1) readFrom(rb *readBuffer) {
	r.ThrottleTime = rb.readInt32()
	rb.readArray(func() {
		t := fetchResponseTopicV1{}
		t.readFrom(rb)
		r.Topics = append(r.Topics, t)
	})
}

// fetchResponseWriter is the encoding counterpart used by the test brokers:
// it frames pre-built message sets the way a server would.
type fetchResponseWriterPartition struct {
	Partition     int32
	ErrorCode     int16
	HighWatermark int64
	MessageSet    messageSet

	// Truncate cuts the encoded message set after this many bytes when
	// non-zero, simulating a server hitting the fetch byte budget.
	Truncate int32
}

func (p fetchResponseWriterPartition) setSize() int32 {
	size := p.MessageSet.size()
	if p.Truncate > 0 && p.Truncate < size {
		size = p.Truncate
	}
	return size
}

func (p fetchResponseWriterPartition) size() int32 {
	return 4 + 2 + 8 + 4 + p.setSize()
}

func (p fetchResponseWriterPartition) writeTo(wb *writeBuffer) {
	wb.writeInt32(p.Partition)
	wb.writeInt16(p.ErrorCode)
	wb.writeInt64(p.HighWatermark)

	size := p.setSize()
	wb.writeInt32(size)
	if size == p.MessageSet.size() {
		p.MessageSet.writeTo(wb)
		return
	}
	wb.Write(encode(p.MessageSet)[:size])
}

type fetchResponseWriterTopic struct {
	TopicName  string
	Partitions []fetchResponseWriterPartition
}

func (t fetchResponseWriterTopic) size() int32 {
	return sizeofString(t.TopicName) +
		sizeofArray(len(t.Partitions), func(i int) int32 { return t.Partitions[i].size() })
}

func (t fetchResponseWriterTopic) writeTo(wb *writeBuffer) {
	wb.writeString(t.TopicName)
	wb.writeArray(len(t.Partitions), func(i int) { t.Partitions[i].writeTo(wb) })
}

type fetchResponseWriterV1 struct {
	ThrottleTime int32
	Topics       []fetchResponseWriterTopic
}

func (r fetchResponseWriterV1) size() int32 {
	return 4 + sizeofArray(len(r.Topics), func(i int) int32 { return r.Topics[i].size() })
}

func (r fetchResponseWriterV1) writeTo(wb *writeBuffer) {
	wb.writeInt32(r.ThrottleTime)
	wb.writeArray(len(r.Topics), func(i int) { r.Topics[i].writeTo(wb) })
}

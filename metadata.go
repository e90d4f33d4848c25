package kafka

// Metadata API (v0), used to discover the brokers of the cluster and the
// leader of every partition.

type metadataRequestV0 struct {
	// Topics to fetch metadata for. An empty array asks for every topic the
	// cluster knows about.
	Topics []string
}

func (r metadataRequestV0) size() int32 {
	return sizeofStringArray(r.Topics)
}

func (r metadataRequestV0) writeTo(wb *writeBuffer) {
	wb.writeStringArray(r.Topics)
}

func (r *metadataRequestV0) readFrom(rb *readBuffer) {
	r.Topics = rb.readStringArray()
}

type brokerMetadataV0 struct {
	NodeID int32
	Host   string
	Port   int32
}

func (b brokerMetadataV0) size() int32 {
	return 4 + 4 + sizeofString(b.Host)
}

func (b brokerMetadataV0) writeTo(wb *writeBuffer) {
	wb.writeInt32(b.NodeID)
	wb.writeString(b.Host)
	wb.writeInt32(b.Port)
}

func (b *brokerMetadataV0) readFrom(rb *readBuffer) {
	b.NodeID = rb.readInt32()
	b.Host = rb.readString()
	b.Port = rb.readInt32()
}

type partitionMetadataV0 struct {
	PartitionErrorCode int16
	PartitionID        int32

	// Leader is the node id of the partition leader, or -1 while a leader
	// election is in progress.
	Leader   int32
	Replicas []int32
	Isr      []int32
}

func (p partitionMetadataV0) size() int32 {
	return 2 + 4 + 4 + sizeofInt32Array(p.Replicas) + sizeofInt32Array(p.Isr)
}

func (p partitionMetadataV0) writeTo(wb *writeBuffer) {
	wb.writeInt16(p.PartitionErrorCode)
	wb.writeInt32(p.PartitionID)
	wb.writeInt32(p.Leader)
	wb.writeInt32Array(p.Replicas)
	wb.writeInt32Array(p.Isr)
}

func (p *partitionMetadataV0) readFrom(rb *readBuffer) {
	p.PartitionErrorCode = rb.readInt16()
	p.PartitionID = rb.readInt32()
	p.Leader = rb.readInt32()
	p.Replicas = rb.readInt32Array()
	p.Isr = rb.readInt32Array()
}

type topicMetadataV0 struct {
	TopicErrorCode int16
	TopicName      string
	Partitions     []partitionMetadataV0
}

func (t topicMetadataV0) size() int32 {
	return 2 +
		sizeofString(t.TopicName) +
		sizeofArray(len(t.Partitions), func(i int) int32 { return t.Partitions[i].size() })
}

func (t topicMetadataV0) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.TopicErrorCode)
	wb.writeString(t.TopicName)
	wb.writeArray(len(t.Partitions), func(i int) { t.Partitions[i].writeTo(wb) })
}

func (t *topicMetadataV0) readFrom(rb *readBuffer) {
	t.TopicErrorCode = rb.readInt16()
	t.TopicName = rb.readString()
	rb.readArray(func() {
		p := partitionMetadataV0{}
		p.readFrom(rb)
		t.Partitions = append(t.Partitions, p)
	})
}

type metadataResponseV0 struct {
	Brokers []brokerMetadataV0
	Topics  []topicMetadataV0
}

func (r metadataResponseV0) size() int32 {
	return sizeofArray(len(r.Brokers), func(i int) int32 { return r.Brokers[i].size() }) +
		sizeofArray(len(r.Topics), func(i int) int32 { return r.Topics[i].size() })
}

func (r metadataResponseV0) writeTo(wb *writeBuffer) {
	wb.writeArray(len(r.Brokers), func(i int) { r.Brokers[i].writeTo(wb) })
	wb.writeArray(len(r.Topics), func(i int) { r.Topics[i].writeTo(wb) })
}

func (r *metadataResponseV0) readFrom(rb *readBuffer) {
	rb.readArray(func() {
		b := brokerMetadataV0{}
		b.readFrom(rb)
		r.Brokers = append(r.Brokers, b)
	})
	rb.readArray(func() {
		t := topicMetadataV0{}
		t.readFrom(rb)
		r.Topics = append(r.Topics, t)
	})
}

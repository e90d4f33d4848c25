package kafka

import "bytes"

// SyncGroup API (v0) plus the embedded member assignment the leader
// distributes to the group.

// groupAssignment is the binary assignment carried inside SyncGroup:
// version, topic to partitions mapping, opaque user data.
type groupAssignment struct {
	Version  int16
	Topics   map[string][]int32
	UserData []byte
}

func (t groupAssignment) size() int32 {
	sz := sizeofInt16(t.Version) + 4

	for topic, partitions := range t.Topics {
		sz += sizeofString(topic) + sizeofInt32Array(partitions)
	}

	return sz + sizeofBytes(t.UserData)
}

func (t groupAssignment) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.Version)
	wb.writeInt32(int32(len(t.Topics)))

	for topic, partitions := range t.Topics {
		wb.writeString(topic)
		wb.writeInt32Array(partitions)
	}

	wb.writeBytes(t.UserData)
}

func (t groupAssignment) bytes() []byte {
	buf := bytes.NewBuffer(nil)
	t.writeTo(&writeBuffer{w: buf})
	return buf.Bytes()
}

func (t *groupAssignment) readFrom(rb *readBuffer) {
	t.Version = rb.readInt16()
	t.Topics = rb.readMapStringInt32()
	t.UserData = rb.readBytes()
}

func decodeGroupAssignment(b []byte) (groupAssignment, error) {
	var assign groupAssignment
	// Some clients are known to distribute empty assignment payloads for
	// members that received no partitions; treat them as an empty mapping.
	if len(b) == 0 {
		assign.Topics = map[string][]int32{}
		return assign, nil
	}
	rb := &readBuffer{r: bytes.NewReader(b), remain: len(b)}
	assign.readFrom(rb)
	return assign, rb.err
}

type syncGroupRequestGroupAssignmentV0 struct {
	// MemberID assigned by the group coordinator
	MemberID string

	// MemberAssignments holds client encoded assignments
	MemberAssignments []byte
}

func (t syncGroupRequestGroupAssignmentV0) size() int32 {
	return sizeofString(t.MemberID) +
		sizeofBytes(t.MemberAssignments)
}

func (t syncGroupRequestGroupAssignmentV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.MemberID)
	wb.writeBytes(t.MemberAssignments)
}

func (t *syncGroupRequestGroupAssignmentV0) readFrom(rb *readBuffer) {
	t.MemberID = rb.readString()
	t.MemberAssignments = rb.readBytes()
}

type syncGroupRequestV0 struct {
	// GroupID holds the unique group identifier
	GroupID string

	// GenerationID holds the generation of the group.
	GenerationID int32

	// MemberID assigned by the group coordinator
	MemberID string

	// GroupAssignments is empty unless this member is the elected leader.
	GroupAssignments []syncGroupRequestGroupAssignmentV0
}

func (t syncGroupRequestV0) size() int32 {
	return sizeofString(t.GroupID) +
		sizeofInt32(t.GenerationID) +
		sizeofString(t.MemberID) +
		sizeofArray(len(t.GroupAssignments), func(i int) int32 { return t.GroupAssignments[i].size() })
}

func (t syncGroupRequestV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.GroupID)
	wb.writeInt32(t.GenerationID)
	wb.writeString(t.MemberID)
	wb.writeArray(len(t.GroupAssignments), func(i int) { t.GroupAssignments[i].writeTo(wb) })
}

func (t *syncGroupRequestV0) readFrom(rb *readBuffer) {
	t.GroupID = rb.readString()
	t.GenerationID = rb.readInt32()
	t.MemberID = rb.readString()
	rb.readArray(func() {
		a := syncGroupRequestGroupAssignmentV0{}
		a.readFrom(rb)
		t.GroupAssignments = append(t.GroupAssignments, a)
	})
}

type syncGroupResponseV0 struct {
	// ErrorCode holds response error code
	ErrorCode int16

	// MemberAssignments holds the client encoded assignment for this member
	MemberAssignments []byte
}

func (t syncGroupResponseV0) size() int32 {
	return sizeofInt16(t.ErrorCode) +
		sizeofBytes(t.MemberAssignments)
}

func (t syncGroupResponseV0) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.ErrorCode)
	wb.writeBytes(t.MemberAssignments)
}

func (t *syncGroupResponseV0) readFrom(rb *readBuffer) {
	t.ErrorCode = rb.readInt16()
	t.MemberAssignments = rb.readBytes()
}

package kafka

import "bytes"

// JoinGroup API (v0) plus the embedded consumer protocol metadata that the
// members exchange through the coordinator.

// groupMetadata is the subscription a member advertises in its join request:
// version, subscribed topics, opaque user data.
type groupMetadata struct {
	Version  int16
	Topics   []string
	UserData []byte
}

func (t groupMetadata) size() int32 {
	return sizeofInt16(t.Version) +
		sizeofStringArray(t.Topics) +
		sizeofBytes(t.UserData)
}

func (t groupMetadata) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.Version)
	wb.writeStringArray(t.Topics)
	wb.writeBytes(t.UserData)
}

func (t *groupMetadata) readFrom(rb *readBuffer) {
	t.Version = rb.readInt16()
	t.Topics = rb.readStringArray()
	t.UserData = rb.readBytes()
}

func (t groupMetadata) bytes() []byte {
	buf := bytes.NewBuffer(nil)
	t.writeTo(&writeBuffer{w: buf})
	return buf.Bytes()
}

func decodeGroupMetadata(b []byte) (groupMetadata, error) {
	var meta groupMetadata
	rb := &readBuffer{r: bytes.NewReader(b), remain: len(b)}
	meta.readFrom(rb)
	return meta, rb.err
}

type joinGroupRequestGroupProtocolV0 struct {
	ProtocolName     string
	ProtocolMetadata []byte
}

func (t joinGroupRequestGroupProtocolV0) size() int32 {
	return sizeofString(t.ProtocolName) +
		sizeofBytes(t.ProtocolMetadata)
}

func (t joinGroupRequestGroupProtocolV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.ProtocolName)
	wb.writeBytes(t.ProtocolMetadata)
}

func (t *joinGroupRequestGroupProtocolV0) readFrom(rb *readBuffer) {
	t.ProtocolName = rb.readString()
	t.ProtocolMetadata = rb.readBytes()
}

type joinGroupRequestV0 struct {
	// GroupID holds the unique group identifier
	GroupID string

	// SessionTimeout holds the coordinator considers the consumer dead if it
	// receives no heartbeat after this timeout in ms.
	SessionTimeout int32

	// MemberID assigned by the group coordinator or the zero string if joining
	// for the first time.
	MemberID string

	// ProtocolType holds the unique name for class of protocols implemented
	// by the group
	ProtocolType string

	// GroupProtocols holds the list of protocols that the member supports
	GroupProtocols []joinGroupRequestGroupProtocolV0
}

func (t joinGroupRequestV0) size() int32 {
	return sizeofString(t.GroupID) +
		sizeofInt32(t.SessionTimeout) +
		sizeofString(t.MemberID) +
		sizeofString(t.ProtocolType) +
		sizeofArray(len(t.GroupProtocols), func(i int) int32 { return t.GroupProtocols[i].size() })
}

func (t joinGroupRequestV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.GroupID)
	wb.writeInt32(t.SessionTimeout)
	wb.writeString(t.MemberID)
	wb.writeString(t.ProtocolType)
	wb.writeArray(len(t.GroupProtocols), func(i int) { t.GroupProtocols[i].writeTo(wb) })
}

func (t *joinGroupRequestV0) readFrom(rb *readBuffer) {
	t.GroupID = rb.readString()
	t.SessionTimeout = rb.readInt32()
	t.MemberID = rb.readString()
	t.ProtocolType = rb.readString()
	rb.readArray(func() {
		p := joinGroupRequestGroupProtocolV0{}
		p.readFrom(rb)
		t.GroupProtocols = append(t.GroupProtocols, p)
	})
}

type joinGroupResponseMemberV0 struct {
	// MemberID assigned by the group coordinator
	MemberID       string
	MemberMetadata []byte
}

func (t joinGroupResponseMemberV0) size() int32 {
	return sizeofString(t.MemberID) +
		sizeofBytes(t.MemberMetadata)
}

func (t joinGroupResponseMemberV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.MemberID)
	wb.writeBytes(t.MemberMetadata)
}

func (t *joinGroupResponseMemberV0) readFrom(rb *readBuffer) {
	t.MemberID = rb.readString()
	t.MemberMetadata = rb.readBytes()
}

type joinGroupResponseV0 struct {
	// ErrorCode holds response error code
	ErrorCode int16

	// GenerationID holds the generation of the group.
	GenerationID int32

	// GroupProtocol holds the group protocol selected by the coordinator
	GroupProtocol string

	// LeaderID holds the leader of the group
	LeaderID string

	// MemberID assigned by the group coordinator
	MemberID string

	// Members is only populated for the elected leader: every member of the
	// group with its subscription metadata.
	Members []joinGroupResponseMemberV0
}

func (t joinGroupResponseV0) size() int32 {
	return sizeofInt16(t.ErrorCode) +
		sizeofInt32(t.GenerationID) +
		sizeofString(t.GroupProtocol) +
		sizeofString(t.LeaderID) +
		sizeofString(t.MemberID) +
		sizeofArray(len(t.Members), func(i int) int32 { return t.Members[i].size() })
}

func (t joinGroupResponseV0) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.ErrorCode)
	wb.writeInt32(t.GenerationID)
	wb.writeString(t.GroupProtocol)
	wb.writeString(t.LeaderID)
	wb.writeString(t.MemberID)
	wb.writeArray(len(t.Members), func(i int) { t.Members[i].writeTo(wb) })
}

func (t *joinGroupResponseV0) readFrom(rb *readBuffer) {
	t.ErrorCode = rb.readInt16()
	t.GenerationID = rb.readInt32()
	t.GroupProtocol = rb.readString()
	t.LeaderID = rb.readString()
	t.MemberID = rb.readString()
	rb.readArray(func() {
		member := joinGroupResponseMemberV0{}
		member.readFrom(rb)
		t.Members = append(t.Members, member)
	})
}

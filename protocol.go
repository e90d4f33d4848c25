package kafka

import "bytes"

type apiKey int16

const (
	produceRequest          apiKey = 0
	fetchRequest            apiKey = 1
	listOffsetRequest       apiKey = 2
	metadataRequest         apiKey = 3
	offsetCommitRequest     apiKey = 8
	offsetFetchRequest      apiKey = 9
	groupCoordinatorRequest apiKey = 10
	joinGroupRequest        apiKey = 11
	heartbeatRequest        apiKey = 12
	leaveGroupRequest       apiKey = 13
	syncGroupRequest        apiKey = 14
	saslHandshakeRequest    apiKey = 17
)

type apiVersion int16

const (
	v0 apiVersion = 0
	v1 apiVersion = 1
	v2 apiVersion = 2
)

// writable is implemented by every request and response body.
type writable interface {
	size() int32
	writeTo(*writeBuffer)
}

// readable is implemented by every response (and, for the benefit of the
// tests, request) body.
type readable interface {
	readFrom(*readBuffer)
}

// requestHeader is the envelope prefixed to every request:
// size, api key, api version, correlation id, client id.
type requestHeader struct {
	Size          int32
	ApiKey        int16
	ApiVersion    int16
	CorrelationID int32
	ClientID      string
}

func (h requestHeader) size() int32 {
	return 4 + 2 + 2 + 4 + sizeofString(h.ClientID)
}

func (h requestHeader) writeTo(wb *writeBuffer) {
	wb.writeInt32(h.Size)
	wb.writeInt16(h.ApiKey)
	wb.writeInt16(h.ApiVersion)
	wb.writeInt32(h.CorrelationID)
	wb.writeString(h.ClientID)
}

func (h *requestHeader) readFrom(rb *readBuffer) {
	// Size is the frame prefix and has already been consumed by the caller.
	h.ApiKey = rb.readInt16()
	h.ApiVersion = rb.readInt16()
	h.CorrelationID = rb.readInt32()
	h.ClientID = rb.readString()
}

// encode renders a protocol value to its wire bytes.
func encode(w writable) []byte {
	buf := &bytes.Buffer{}
	w.writeTo(&writeBuffer{w: buf})
	return buf.Bytes()
}

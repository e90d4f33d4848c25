package kafka

// SaslHandshake API (v0), negotiating the SASL mechanism before the raw
// token exchange takes place on the same connection.

type saslHandshakeRequestV0 struct {
	// Mechanism holds the SASL Mechanism chosen by the client.
	Mechanism string
}

func (t saslHandshakeRequestV0) size() int32 {
	return sizeofString(t.Mechanism)
}

func (t saslHandshakeRequestV0) writeTo(wb *writeBuffer) {
	wb.writeString(t.Mechanism)
}

func (t *saslHandshakeRequestV0) readFrom(rb *readBuffer) {
	t.Mechanism = rb.readString()
}

type saslHandshakeResponseV0 struct {
	// ErrorCode holds response error code
	ErrorCode int16

	// EnabledMechanisms holds the mechanisms enabled in the server.
	EnabledMechanisms []string
}

func (t saslHandshakeResponseV0) size() int32 {
	return sizeofInt16(t.ErrorCode) +
		sizeofStringArray(t.EnabledMechanisms)
}

func (t saslHandshakeResponseV0) writeTo(wb *writeBuffer) {
	wb.writeInt16(t.ErrorCode)
	wb.writeStringArray(t.EnabledMechanisms)
}

func (t *saslHandshakeResponseV0) readFrom(rb *readBuffer) {
	t.ErrorCode = rb.readInt16()
	t.EnabledMechanisms = rb.readStringArray()
}

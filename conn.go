package kafka

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultClientID is the default value used as ClientID of kafka connections.
var DefaultClientID string

func init() {
	progname := filepath.Base(os.Args[0])
	hostname, _ := os.Hostname()
	DefaultClientID = fmt.Sprintf("%s@%s (github.com/3dna/kafka)", progname, hostname)
}

// Conn represents a connection to a kafka broker.
//
// A Conn carries a single in-flight request at a time: concurrent callers
// take turns. Correlation ids are assigned in strictly increasing order
// starting at 0, and responses are read back in the same order the requests
// were written, which lets the connection skip over responses to requests
// that were sent without waiting for a reply.
type Conn struct {
	conn net.Conn
	rbuf bufio.Reader
	wbuf bufio.Writer

	clientID    string
	readTimeout time.Duration

	mutex         sync.Mutex
	correlationID int32
	closed        bool
}

// ConnConfig is a configuration object used to create new instances of Conn.
type ConnConfig struct {
	// ClientID is sent in the envelope of every request. Defaults to
	// DefaultClientID.
	ClientID string

	// ReadTimeout bounds every request/response exchange on the connection.
	// Zero means no timeout.
	ReadTimeout time.Duration
}

// NewConn returns a new kafka connection wrapping conn.
func NewConn(conn net.Conn) *Conn {
	return NewConnWith(conn, ConnConfig{})
}

// NewConnWith returns a new kafka connection configured with config.
func NewConnWith(conn net.Conn, config ConnConfig) *Conn {
	if len(config.ClientID) == 0 {
		config.ClientID = DefaultClientID
	}
	c := &Conn{
		conn:        conn,
		clientID:    config.ClientID,
		readTimeout: config.ReadTimeout,
	}
	c.rbuf.Reset(conn)
	c.wbuf.Reset(conn)
	return c
}

// Close closes the kafka connection.
func (c *Conn) Close() error {
	c.mutex.Lock()
	c.closed = true
	c.mutex.Unlock()
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// roundTrip writes one request and, unless res is nil, decodes the matching
// response into res. A nil res means the caller doesn't wait for a reply; a
// later round trip will find the broker's response for it on the wire and
// discard it by correlation id.
func (c *Conn) roundTrip(key apiKey, version apiVersion, req writable, res readable) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return c.connError("request", net.ErrClosed)
	}

	id := c.correlationID
	c.correlationID++

	if c.readTimeout != 0 {
		c.conn.SetDeadline(time.Now().Add(c.readTimeout))
	}

	hdr := requestHeader{
		ApiKey:        int16(key),
		ApiVersion:    int16(version),
		CorrelationID: id,
		ClientID:      c.clientID,
	}
	hdr.Size = (hdr.size() + req.size()) - 4

	wb := &writeBuffer{w: &c.wbuf}
	hdr.writeTo(wb)
	req.writeTo(wb)

	if err := c.wbuf.Flush(); err != nil {
		c.fail()
		return c.connError("write", err)
	}

	if res == nil {
		return nil
	}

	return c.waitResponse(id, res)
}

// waitResponse reads response frames in order until the one matching id
// shows up, discarding any earlier response left on the wire by a request
// that didn't wait for its reply.
func (c *Conn) waitResponse(id int32, res readable) error {
	for {
		frame := &readBuffer{r: &c.rbuf, remain: 8}
		size := frame.readInt32()
		correlationID := frame.readInt32()
		if frame.err != nil {
			c.fail()
			return c.connError("read", frame.err)
		}

		rb := &readBuffer{r: &c.rbuf, remain: int(size) - 4}
		if correlationID != id {
			rb.discardRemain()
			if rb.err != nil {
				c.fail()
				return c.connError("read", rb.err)
			}
			continue
		}

		res.readFrom(rb)
		rb.discardRemain()
		if rb.err != nil {
			c.fail()
			return c.connError("read", rb.err)
		}
		return nil
	}
}

// fail closes the socket; there's no way to know if the connection is in a
// recoverable state so the pool has to redial.
func (c *Conn) fail() {
	c.closed = true
	c.conn.Close()
}

func (c *Conn) connError(op string, err error) error {
	addr := ""
	if ra := c.conn.RemoteAddr(); ra != nil {
		addr = ra.String()
	}
	return &ConnectionError{Op: op, Addr: addr, Err: err}
}

// saslAuthenticate exchanges one raw size-prefixed SASL token with the
// broker, as done by the pre-0.10.2 SASL flow that follows the handshake.
func (c *Conn) saslAuthenticate(data []byte) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.readTimeout != 0 {
		c.conn.SetDeadline(time.Now().Add(c.readTimeout))
	}

	wb := &writeBuffer{w: &c.wbuf}
	wb.writeInt32(int32(len(data)))
	wb.Write(data)
	if err := c.wbuf.Flush(); err != nil {
		c.fail()
		return nil, c.connError("write", err)
	}

	frame := &readBuffer{r: &c.rbuf, remain: 4}
	size := frame.readInt32()
	if frame.err != nil {
		c.fail()
		return nil, c.connError("read", frame.err)
	}

	rb := &readBuffer{r: &c.rbuf, remain: int(size)}
	token := make([]byte, int(size))
	rb.readFull(token)
	if rb.err != nil {
		c.fail()
		return nil, c.connError("read", rb.err)
	}
	return token, nil
}

// The typed request methods below decode the response without interpreting
// broker error codes; translation is left to the callers.

func (c *Conn) metadata(req metadataRequestV0) (metadataResponseV0, error) {
	var res metadataResponseV0
	err := c.roundTrip(metadataRequest, v0, req, &res)
	return res, err
}

func (c *Conn) listOffsets(req listOffsetRequestV0) (listOffsetResponseV0, error) {
	var res listOffsetResponseV0
	err := c.roundTrip(listOffsetRequest, v0, req, &res)
	return res, err
}

func (c *Conn) fetch(req fetchRequestV1) (fetchResponseV1, error) {
	var res fetchResponseV1
	err := c.roundTrip(fetchRequest, v1, req, &res)
	return res, err
}

func (c *Conn) groupCoordinator(req groupCoordinatorRequestV0) (groupCoordinatorResponseV0, error) {
	var res groupCoordinatorResponseV0
	err := c.roundTrip(groupCoordinatorRequest, v0, req, &res)
	return res, err
}

func (c *Conn) joinGroup(req joinGroupRequestV0) (joinGroupResponseV0, error) {
	var res joinGroupResponseV0
	err := c.roundTrip(joinGroupRequest, v0, req, &res)
	return res, err
}

func (c *Conn) syncGroup(req syncGroupRequestV0) (syncGroupResponseV0, error) {
	var res syncGroupResponseV0
	err := c.roundTrip(syncGroupRequest, v0, req, &res)
	return res, err
}

func (c *Conn) heartbeat(req heartbeatRequestV0) (heartbeatResponseV0, error) {
	var res heartbeatResponseV0
	err := c.roundTrip(heartbeatRequest, v0, req, &res)
	return res, err
}

func (c *Conn) leaveGroup(req leaveGroupRequestV0) (leaveGroupResponseV0, error) {
	var res leaveGroupResponseV0
	err := c.roundTrip(leaveGroupRequest, v0, req, &res)
	return res, err
}

func (c *Conn) offsetCommit(req offsetCommitRequestV2) (offsetCommitResponseV2, error) {
	var res offsetCommitResponseV2
	err := c.roundTrip(offsetCommitRequest, v2, req, &res)
	return res, err
}

func (c *Conn) offsetFetch(req offsetFetchRequestV1) (offsetFetchResponseV1, error) {
	var res offsetFetchResponseV1
	err := c.roundTrip(offsetFetchRequest, v1, req, &res)
	return res, err
}

func (c *Conn) saslHandshake(mechanism string) (saslHandshakeResponseV0, error) {
	var res saslHandshakeResponseV0
	err := c.roundTrip(saslHandshakeRequest, v0, saslHandshakeRequestV0{Mechanism: mechanism}, &res)
	return res, err
}

// send writes a request without waiting for the response. The broker will
// still reply; the next round trip on this connection skips the reply by
// correlation id.
func (c *Conn) send(key apiKey, version apiVersion, req writable) error {
	return c.roundTrip(key, version, req, nil)
}

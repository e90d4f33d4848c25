package kafka

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// dialTestBroker opens a client Conn against a testBroker.
func dialTestBroker(t *testing.T, b *testBroker) *Conn {
	t.Helper()

	nc, err := net.Dial("tcp", b.addr())
	if err != nil {
		t.Fatal(err)
	}
	conn := NewConnWith(nc, ConnConfig{
		ClientID:    "test",
		ReadTimeout: 5 * time.Second,
	})
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestConnResponsesInRequestOrder(t *testing.T) {
	b := newTestBroker(t, 1)
	b.handle(heartbeatRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req heartbeatRequestV0
		req.readFrom(rb)
		// Echo the generation back through the error code so the responses
		// are distinguishable.
		return heartbeatResponseV0{ErrorCode: int16(req.GenerationID)}
	})

	conn := dialTestBroker(t, b)

	for i := int32(1); i <= 5; i++ {
		res, err := conn.heartbeat(heartbeatRequestV0{GroupID: "g", GenerationID: i})
		if err != nil {
			t.Fatal(err)
		}
		if res.ErrorCode != int16(i) {
			t.Fatalf("request %d received response %d", i, res.ErrorCode)
		}
	}
}

func TestConnSkipsSuppressedResponse(t *testing.T) {
	b := newTestBroker(t, 1)
	b.handle(heartbeatRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req heartbeatRequestV0
		req.readFrom(rb)
		return heartbeatResponseV0{ErrorCode: int16(req.GenerationID)}
	})

	conn := dialTestBroker(t, b)

	// Fire-and-forget: the broker still replies, but nobody reads it yet.
	if err := conn.send(heartbeatRequest, v0, heartbeatRequestV0{GroupID: "g", GenerationID: 1}); err != nil {
		t.Fatal(err)
	}

	// The next request must get its own response, not the stale one sitting
	// in the pipe.
	res, err := conn.heartbeat(heartbeatRequestV0{GroupID: "g", GenerationID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.ErrorCode != 2 {
		t.Fatalf("expected response of request 2, got %d", res.ErrorCode)
	}
}

func TestConnShortFrame(t *testing.T) {
	// A server that advertises a larger frame than it delivers, then closes.
	client, server := connPipe(t)

	conn := NewConnWith(client, ConnConfig{ClientID: "test", ReadTimeout: 2 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := conn.heartbeat(heartbeatRequestV0{GroupID: "g"})
		done <- err
	}()

	// Consume the request, then send a frame header promising 100 bytes but
	// deliver only 6.
	discardRequest(t, server)

	buf := &bytes.Buffer{}
	wb := &writeBuffer{w: buf}
	wb.writeInt32(100)
	wb.writeInt32(0) // correlation id of the first request
	wb.writeInt16(0) // truncated body
	server.Write(buf.Bytes())
	server.Close()

	err := <-done
	if err == nil {
		t.Fatal("expected an error from the truncated response")
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a ConnectionError, got %T: %v", err, err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF in the chain, got %v", err)
	}
}

// connPipe builds an in-memory full-duplex connection pair.
func connPipe(t *testing.T) (client, server net.Conn) {
	t.Helper()

	c1, c2 := net.Pipe()
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

// discardRequest reads and drops one request frame from the server side of
// the pipe.
func discardRequest(t *testing.T, server net.Conn) {
	t.Helper()

	var head [4]byte
	if _, err := io.ReadFull(server, head[:]); err != nil {
		t.Fatal(err)
	}
	size := int64(int32(uint32(head[0])<<24 | uint32(head[1])<<16 | uint32(head[2])<<8 | uint32(head[3])))
	if _, err := io.CopyN(io.Discard, server, size); err != nil {
		t.Fatal(err)
	}
}

func TestConnCorrelationIDsAreMonotonic(t *testing.T) {
	b := newTestBroker(t, 1)

	var mu sync.Mutex
	var ids []int32
	b.handle(heartbeatRequest, func(hdr requestHeader, rb *readBuffer) writable {
		mu.Lock()
		ids = append(ids, hdr.CorrelationID)
		mu.Unlock()
		return heartbeatResponseV0{}
	})

	conn := dialTestBroker(t, b)
	for i := 0; i < 3; i++ {
		if _, err := conn.heartbeat(heartbeatRequestV0{GroupID: "g"}); err != nil {
			t.Fatal(err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range ids {
		if id != int32(i) {
			t.Fatalf("correlation ids not monotonic from 0: %v", ids)
		}
	}
}

func TestConnFailsAfterClose(t *testing.T) {
	b := newTestBroker(t, 1)
	b.handle(heartbeatRequest, func(hdr requestHeader, rb *readBuffer) writable {
		return heartbeatResponseV0{}
	})

	conn := dialTestBroker(t, b)
	conn.Close()

	if _, err := conn.heartbeat(heartbeatRequestV0{GroupID: "g"}); err == nil {
		t.Fatal("expected an error on a closed connection")
	}
}

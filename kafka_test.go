package kafka

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/net/nettest"
)

// testBroker is an in-process broker speaking just enough of the wire
// protocol for the tests: it decodes request envelopes and dispatches the
// bodies to per-API handler functions which return the response body to
// frame back.
type testBroker struct {
	t  *testing.T
	ln net.Listener

	nodeID int32

	mutex    sync.Mutex
	handlers map[apiKey]func(hdr requestHeader, rb *readBuffer) writable
	counts   map[apiKey]int
	closed   bool
}

func newTestBroker(t *testing.T, nodeID int32) *testBroker {
	t.Helper()

	ln, err := nettest.NewLocalListener("tcp")
	if err != nil {
		t.Fatal(err)
	}

	b := &testBroker{
		t:        t,
		ln:       ln,
		nodeID:   nodeID,
		handlers: make(map[apiKey]func(requestHeader, *readBuffer) writable),
		counts:   make(map[apiKey]int),
	}
	go b.serve()
	t.Cleanup(b.close)
	return b
}

func (b *testBroker) close() {
	b.mutex.Lock()
	b.closed = true
	b.mutex.Unlock()
	b.ln.Close()
}

func (b *testBroker) addr() string {
	return b.ln.Addr().String()
}

func (b *testBroker) hostPort() (string, int32) {
	host, port, _ := net.SplitHostPort(b.addr())
	p, _ := strconv.Atoi(port)
	return host, int32(p)
}

func (b *testBroker) broker() Broker {
	host, port := b.hostPort()
	return Broker{Host: host, Port: int(port), ID: int(b.nodeID)}
}

func (b *testBroker) handle(key apiKey, fn func(hdr requestHeader, rb *readBuffer) writable) {
	b.mutex.Lock()
	b.handlers[key] = fn
	b.mutex.Unlock()
}

func (b *testBroker) requestCount(key apiKey) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.counts[key]
}

func (b *testBroker) serve() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			return
		}
		go b.serveConn(conn)
	}
}

func (b *testBroker) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		head := &readBuffer{r: r, remain: 4}
		size := head.readInt32()
		if head.err != nil {
			return
		}

		rb := &readBuffer{r: r, remain: int(size)}
		var hdr requestHeader
		hdr.readFrom(rb)
		if rb.err != nil {
			return
		}

		b.mutex.Lock()
		fn := b.handlers[apiKey(hdr.ApiKey)]
		b.counts[apiKey(hdr.ApiKey)]++
		b.mutex.Unlock()

		if fn == nil {
			b.t.Errorf("test broker %d: no handler for api key %d", b.nodeID, hdr.ApiKey)
			return
		}

		res := fn(hdr, rb)
		rb.discardRemain()
		if rb.err != nil {
			return
		}
		if res == nil {
			continue
		}

		buf := &bytes.Buffer{}
		wb := &writeBuffer{w: buf}
		wb.writeInt32(4 + res.size())
		wb.writeInt32(hdr.CorrelationID)
		res.writeTo(wb)
		if _, err := conn.Write(buf.Bytes()); err != nil {
			return
		}
	}
}

// serveMetadata makes the broker answer metadata requests reporting the
// given brokers and topic layouts.
func (b *testBroker) serveMetadata(brokers []Broker, topics map[string][]partitionMetadataV0) {
	b.handle(metadataRequest, func(hdr requestHeader, rb *readBuffer) writable {
		var req metadataRequestV0
		req.readFrom(rb)

		res := metadataResponseV0{}
		for _, broker := range brokers {
			res.Brokers = append(res.Brokers, brokerMetadataV0{
				NodeID: int32(broker.ID),
				Host:   broker.Host,
				Port:   int32(broker.Port),
			})
		}
		names := req.Topics
		if len(names) == 0 {
			for name := range topics {
				names = append(names, name)
			}
		}
		for _, name := range names {
			partitions, ok := topics[name]
			if !ok {
				res.Topics = append(res.Topics, topicMetadataV0{
					TopicErrorCode: int16(UnknownTopicOrPartition),
					TopicName:      name,
				})
				continue
			}
			res.Topics = append(res.Topics, topicMetadataV0{
				TopicName:  name,
				Partitions: partitions,
			})
		}
		return res
	})
}

// fakeCoordinator implements the coordinator interface in memory for the
// group and offset manager tests, recording the call sequence and serving
// canned responses.
type fakeCoordinator struct {
	calls []string

	joinFn   func(joinGroupRequestV0) (joinGroupResponseV0, error)
	syncFn   func(syncGroupRequestV0) (syncGroupResponseV0, error)
	beatFn   func(heartbeatRequestV0) (heartbeatResponseV0, error)
	leaveFn  func(leaveGroupRequestV0) (leaveGroupResponseV0, error)
	commitFn func(offsetCommitRequestV2) (offsetCommitResponseV2, error)
	fetchFn  func(offsetFetchRequestV1) (offsetFetchResponseV1, error)
	partsFn  func(topics ...string) ([]Partition, error)
}

func (f *fakeCoordinator) joinGroup(ctx context.Context, req joinGroupRequestV0) (joinGroupResponseV0, error) {
	f.calls = append(f.calls, "JoinGroup")
	if f.joinFn == nil {
		return joinGroupResponseV0{}, nil
	}
	return f.joinFn(req)
}

func (f *fakeCoordinator) syncGroup(ctx context.Context, req syncGroupRequestV0) (syncGroupResponseV0, error) {
	f.calls = append(f.calls, "SyncGroup")
	if f.syncFn == nil {
		return syncGroupResponseV0{}, nil
	}
	return f.syncFn(req)
}

func (f *fakeCoordinator) heartbeat(ctx context.Context, req heartbeatRequestV0) (heartbeatResponseV0, error) {
	f.calls = append(f.calls, "Heartbeat")
	if f.beatFn == nil {
		return heartbeatResponseV0{}, nil
	}
	return f.beatFn(req)
}

func (f *fakeCoordinator) leaveGroup(ctx context.Context, req leaveGroupRequestV0) (leaveGroupResponseV0, error) {
	f.calls = append(f.calls, "LeaveGroup")
	if f.leaveFn == nil {
		return leaveGroupResponseV0{}, nil
	}
	return f.leaveFn(req)
}

func (f *fakeCoordinator) offsetCommit(ctx context.Context, req offsetCommitRequestV2) (offsetCommitResponseV2, error) {
	f.calls = append(f.calls, "OffsetCommit")
	if f.commitFn == nil {
		return offsetCommitResponseV2{}, nil
	}
	return f.commitFn(req)
}

func (f *fakeCoordinator) offsetFetch(ctx context.Context, req offsetFetchRequestV1) (offsetFetchResponseV1, error) {
	f.calls = append(f.calls, "OffsetFetch")
	if f.fetchFn == nil {
		return offsetFetchResponseV1{}, nil
	}
	return f.fetchFn(req)
}

func (f *fakeCoordinator) readPartitions(ctx context.Context, topics ...string) ([]Partition, error) {
	f.calls = append(f.calls, "Metadata")
	if f.partsFn == nil {
		return nil, nil
	}
	return f.partsFn(topics...)
}

// makeTestMessages builds a v0 message set holding the given offsets, with
// deterministic keys and values derived from the offset.
func makeTestMessages(offsets ...int64) messageSet {
	set := make(messageSet, len(offsets))
	for i, off := range offsets {
		set[i] = messageSetItem{
			Offset:  off,
			Message: makeMessage(0, []byte("k"+strconv.FormatInt(off, 10)), []byte("v"+strconv.FormatInt(off, 10))),
		}
	}
	return set
}

package kafka

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/3dna/kafka/compress"
)

const compressionCodecMask int8 = 0x03

// Message is a data structure representing a kafka message fetched from (or,
// through the framing hook, written to) a partition.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte

	// Time is the message create time, if the broker reported one. Messages
	// in the v0 wire format carry no timestamp and leave it zero.
	Time time.Time
}

// message is the v0/v1 wire representation:
// crc | magic | attributes | [timestamp] | key | value.
// The crc covers everything after itself.
type message struct {
	CRC        int32
	MagicByte  int8
	Attributes int8
	Timestamp  int64
	Key        []byte
	Value      []byte
}

func makeMessage(timestamp int64, key, value []byte) message {
	m := message{
		MagicByte: 0,
		Timestamp: timestamp,
		Key:       key,
		Value:     value,
	}
	m.CRC = crc32OfMessage(m.MagicByte, m.Attributes, m.Timestamp, m.Key, m.Value)
	return m
}

func (m message) size() int32 {
	size := 4 + 1 + 1 + sizeofBytes(m.Key) + sizeofBytes(m.Value)
	if m.MagicByte != 0 {
		size += 8
	}
	return size
}

func (m message) writeTo(wb *writeBuffer) {
	wb.writeInt32(m.CRC)
	wb.writeInt8(m.MagicByte)
	wb.writeInt8(m.Attributes)
	if m.MagicByte != 0 {
		wb.writeInt64(m.Timestamp)
	}
	wb.writeBytes(m.Key)
	wb.writeBytes(m.Value)
}

type messageSetItem struct {
	Offset  int64
	Message message
}

func (m messageSetItem) size() int32 {
	return 8 + 4 + m.Message.size()
}

func (m messageSetItem) writeTo(wb *writeBuffer) {
	wb.writeInt64(m.Offset)
	wb.writeInt32(m.Message.size())
	m.Message.writeTo(wb)
}

// messageSet is the sequence of messages carried inline in fetch responses
// and produce requests. Unlike every other protocol array it is not preceded
// by an item count, only by its size in bytes.
type messageSet []messageSetItem

func (s messageSet) size() (size int32) {
	for _, m := range s {
		size += m.size()
	}
	return
}

func (s messageSet) writeTo(wb *writeBuffer) {
	for _, m := range s {
		m.writeTo(wb)
	}
}

// compressMessageSet wraps msgs into a single wrapper message whose value is
// the codec-compressed encoding of the set. This is the framing hook used by
// producers; the consumer side only ever decompresses.
func compressMessageSet(codec compress.Codec, msgs messageSet) (messageSetItem, error) {
	buf := &bytes.Buffer{}
	w := codec.NewWriter(buf)
	wb := &writeBuffer{w: w}
	msgs.writeTo(wb)
	if err := w.Close(); err != nil {
		return messageSetItem{}, err
	}

	m := message{
		MagicByte:  0,
		Attributes: codec.Code() & compressionCodecMask,
		Value:      buf.Bytes(),
	}
	m.CRC = crc32OfMessage(m.MagicByte, m.Attributes, m.Timestamp, m.Key, m.Value)

	return messageSetItem{
		Offset:  msgs[len(msgs)-1].Offset,
		Message: m,
	}, nil
}

// readMessageSet decodes size bytes of message set from rb. The server is
// allowed to truncate the trailing message when it exceeds the fetch byte
// budget; the partial message is discarded, never returned. CRC mismatches
// surface as CorruptMessage.
func readMessageSet(rb *readBuffer, size int, topic string, partition int32) ([]Message, error) {
	var msgs []Message

	for size >= 12 {
		header := make([]byte, 12)
		rb.readFull(header)
		if rb.err != nil {
			return msgs, rb.err
		}
		size -= 12

		offset := int64(binary.BigEndian.Uint64(header[0:8]))
		msgSize := int(int32(binary.BigEndian.Uint32(header[8:12])))

		if msgSize < 0 {
			rb.discard(size)
			return msgs, InvalidMessageSize
		}
		if msgSize > size {
			// Truncated trailing message: skip whatever the server sent of it.
			rb.discard(size)
			return msgs, rb.err
		}

		raw := make([]byte, msgSize)
		rb.readFull(raw)
		if rb.err != nil {
			return msgs, rb.err
		}
		size -= msgSize

		decoded, err := decodeMessage(raw, offset, topic, partition)
		if err != nil {
			rb.discard(size)
			return msgs, err
		}
		msgs = append(msgs, decoded...)
	}

	// Fewer than 12 bytes cannot even hold an offset and a size: this is the
	// truncated header of the trailing message.
	rb.discard(size)
	return msgs, rb.err
}

// decodeMessage parses one raw wire message, recursing into the inner set
// when the attributes carry a compression codec.
func decodeMessage(raw []byte, offset int64, topic string, partition int32) ([]Message, error) {
	if len(raw) < 6 {
		return nil, InvalidMessageSize
	}

	crc := int32(binary.BigEndian.Uint32(raw[0:4]))
	magic := int8(raw[4])
	attributes := int8(raw[5])

	rb := &readBuffer{r: bytes.NewReader(raw[6:]), remain: len(raw) - 6}

	var timestamp int64
	switch magic {
	case 0:
	case 1:
		timestamp = rb.readInt64()
	default:
		return nil, fmt.Errorf("unsupported message version %d in fetch response", magic)
	}

	key := rb.readBytes()
	value := rb.readBytes()
	if rb.err != nil {
		return nil, rb.err
	}

	if crc != crc32OfMessage(magic, attributes, timestamp, key, value) {
		return nil, CorruptMessage
	}

	codec := attributes & compressionCodecMask
	if codec == 0 {
		return []Message{{
			Topic:     topic,
			Partition: int(partition),
			Offset:    offset,
			Key:       key,
			Value:     value,
			Time:      makeTime(timestamp),
		}}, nil
	}

	c := compress.Compression(codec).Codec()
	if c == nil {
		return nil, fmt.Errorf("unsupported compression codec %d in fetch response", codec)
	}

	r := c.NewReader(bytes.NewReader(value))
	inner, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return nil, CorruptMessage
	}

	irb := &readBuffer{r: bytes.NewReader(inner), remain: len(inner)}
	msgs, err := readMessageSet(irb, len(inner), topic, partition)
	if err != nil {
		return nil, err
	}

	// Wrapper messages in the v1 format carry the offset of the last inner
	// message while the inner offsets are relative; v0 inner offsets are
	// absolute already.
	if magic == 1 && len(msgs) != 0 {
		base := offset - msgs[len(msgs)-1].Offset
		for i := range msgs {
			msgs[i].Offset += base
		}
	}
	return msgs, nil
}

func makeTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond))
}

func timestamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

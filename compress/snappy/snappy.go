package snappy

import (
	"bytes"
	"io"

	xerial "github.com/eapache/go-xerial-snappy"
	"github.com/golang/snappy"
)

// Framing is an enumeration type used to enable or disable xerial framing of
// snappy messages.
type Framing int

const (
	Framed Framing = iota
	Unframed
)

// Codec is the implementation of a compress.Codec which supports creating
// readers and writers for kafka messages compressed with snappy.
//
// Historical kafka clients wrap snappy blocks in the xerial framing, which
// is what brokers hand back on fetch; the raw block format is kept available
// for the rare producer that emits it.
type Codec struct {
	// An optional framing to apply to snappy compression.
	//
	// Default to Framed.
	Framing Framing
}

// Code implements the compress.Codec interface.
func (c *Codec) Code() int8 { return 2 }

// Name implements the compress.Codec interface.
func (c *Codec) Name() string { return "snappy" }

// NewReader implements the compress.Codec interface.
//
// Decoding auto-detects the xerial framing, so a single reader handles
// values produced with either framing.
func (c *Codec) NewReader(r io.Reader) io.ReadCloser {
	return &reader{src: r}
}

// NewWriter implements the compress.Codec interface.
func (c *Codec) NewWriter(w io.Writer) io.WriteCloser {
	return &writer{dst: w, framed: c.Framing == Framed}
}

type reader struct {
	src     io.Reader
	decoded *bytes.Reader
	err     error
}

func (r *reader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.decoded == nil {
		raw, err := io.ReadAll(r.src)
		if err != nil {
			r.err = err
			return 0, err
		}
		data, err := xerial.Decode(raw)
		if err != nil {
			r.err = err
			return 0, err
		}
		r.decoded = bytes.NewReader(data)
	}
	return r.decoded.Read(b)
}

func (r *reader) Close() error {
	r.decoded = nil
	return nil
}

type writer struct {
	dst    io.Writer
	buf    bytes.Buffer
	framed bool
	err    error
}

func (w *writer) Write(b []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.buf.Write(b)
}

func (w *writer) Close() error {
	if w.err != nil {
		return w.err
	}
	var enc []byte
	if w.framed {
		enc = xerial.EncodeStream(nil, w.buf.Bytes())
	} else {
		enc = snappy.Encode(nil, w.buf.Bytes())
	}
	_, err := w.dst.Write(enc)
	w.err = err
	return err
}

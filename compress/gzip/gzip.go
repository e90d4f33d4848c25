package gzip

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// Codec is the implementation of a compress.Codec which supports creating
// readers and writers for kafka messages compressed with gzip.
type Codec struct {
	// The compression level to configure on writers created by this codec.
	// Acceptable values are defined in the standard gzip package.
	//
	// Default to gzip.DefaultCompression.
	Level int

	writerPool sync.Pool
}

// Code implements the compress.Codec interface.
func (c *Codec) Code() int8 { return 1 }

// Name implements the compress.Codec interface.
func (c *Codec) Name() string { return "gzip" }

// NewReader implements the compress.Codec interface.
func (c *Codec) NewReader(r io.Reader) io.ReadCloser {
	z := readerPool.Get().(*gzip.Reader)
	if err := z.Reset(r); err != nil {
		return &errorReader{err: err}
	}
	return &reader{z}
}

// NewWriter implements the compress.Codec interface.
func (c *Codec) NewWriter(w io.Writer) io.WriteCloser {
	x := c.writerPool.Get()
	z, _ := x.(*gzip.Writer)
	if z == nil {
		level := c.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		z, _ = gzip.NewWriterLevel(w, level)
	} else {
		z.Reset(w)
	}
	return &writer{codec: c, Writer: z}
}

type reader struct{ *gzip.Reader }

func (r *reader) Close() (err error) {
	if z := r.Reader; z != nil {
		r.Reader = nil
		err = z.Close()
		z.Reset(devNull{})
		readerPool.Put(z)
	}
	return
}

type writer struct {
	codec *Codec
	*gzip.Writer
}

func (w *writer) Close() (err error) {
	if z := w.Writer; z != nil {
		w.Writer = nil
		err = z.Close()
		z.Reset(io.Discard)
		w.codec.writerPool.Put(z)
	}
	return
}

type errorReader struct{ err error }

func (r *errorReader) Read([]byte) (int, error) { return 0, r.err }

func (r *errorReader) Close() error { return r.err }

type devNull struct{}

func (devNull) Read([]byte) (int, error)  { return 0, io.EOF }
func (devNull) Write([]byte) (int, error) { return 0, nil }

var readerPool = sync.Pool{
	New: func() interface{} { return new(gzip.Reader) },
}

package streamio

import (
	"compress/zlib"
	"io"
	"sync"
)

var (
	zlibReader = sync.Pool{
		New: func() any {
			return &ZLibReader{}
		},
	}
	zlibWriter = sync.Pool{
		New: func() any {
			return &ZlibWriter{Writer: zlib.NewWriter(nil)}
		},
	}
)

type zlibReadCloser interface {
	io.ReadCloser
	zlib.Resetter
}

// ZLibReader bundles a pooled zlib inflater with the preset dictionary it
// was constructed with. Read through the Reader field.
type ZLibReader struct {
	dict   *[]byte
	Reader zlibReadCloser
}

// GetZlibReader returns a ZLibReader that is managed by a sync.Pool.
// Returns a ZLibReader that is reset using a dictionary that is
// also managed by a sync.Pool.
//
// After use, the ZLibReader should be put back into the sync.Pool
// by calling PutZlibReader.
func GetZlibReader(r io.Reader) (*ZLibReader, error) {
	z := zlibReader.Get().(*ZLibReader)
	if z.dict == nil {
		z.dict = GetByteSlice()
	}
	if z.Reader == nil {
		zr, err := zlib.NewReaderDict(r, *z.dict)
		if err != nil {
			return z, err
		}
		z.Reader = zr.(zlibReadCloser)
		return z, nil
	}
	return z, z.Reader.Reset(r, *z.dict)
}

// PutZlibReader puts z back into its sync.Pool, first closing the reader.
// The byte slice dictionary stays attached to z and is reused by the next
// GetZlibReader that receives z; it is not returned to its own sync.Pool.
func PutZlibReader(z *ZLibReader) {
	if z.Reader != nil {
		_ = z.Reader.Close()
	}
	zlibReader.Put(z)
}

type ZlibWriter struct {
	*zlib.Writer
}

// GetZlibWriter returns a *zlib.Writer that is managed by a sync.Pool.
// Returns a writer that is reset with w and ready for use.
//
// After use, the *zlib.Writer should be put back into the sync.Pool
// by calling PutZlibWriter.
func GetZlibWriter(w io.Writer) *ZlibWriter {
	z := zlibWriter.Get().(*ZlibWriter)
	z.Reset(w)
	return z
}

// PutZlibWriter puts w back into its sync.Pool.
func PutZlibWriter(w *ZlibWriter) {
	_ = w.Writer.Close()
	zlibWriter.Put(w)
}

package session

import (
	"bytes"

	"github.com/klauspost/compress/zlib"
)

// zlibFlushTrailer is the 4-byte sequence a zlib sync flush always ends
// on. The upstream-compatible protocol uses its presence to mark the
// end of one logical message within a persistent deflate stream.
var zlibFlushTrailer = [4]byte{0x00, 0x00, 0xFF, 0xFF}

// Compressor wraps one persistent per-client deflate stream. It is
// never recreated or closed for the life of a session: every call to
// Compress feeds more bytes into the same stream and sync-flushes,
// producing one binary frame that a matching inflate stream can
// consume incrementally.
type Compressor struct {
	buf *bytes.Buffer
	zw  *zlib.Writer
}

// NewCompressor builds a Compressor at the fastest compression level,
// matching the upstream gateway's own framing (throughput over ratio:
// payloads are small and frequent).
func NewCompressor() (*Compressor, error) {
	buf := &bytes.Buffer{}
	zw, err := zlib.NewWriterLevel(buf, zlib.BestSpeed)
	if err != nil {
		return nil, err
	}
	return &Compressor{buf: buf, zw: zw}, nil
}

// Compress feeds payload into the persistent stream and sync-flushes
// it, returning one complete frame ending in the 4-byte trailer. The
// returned slice is only valid until the next call.
func (c *Compressor) Compress(payload []byte) ([]byte, error) {
	c.buf.Reset()

	if _, err := c.zw.Write(payload); err != nil {
		return nil, err
	}
	if err := c.zw.Flush(); err != nil {
		return nil, err
	}

	out := c.buf.Bytes()
	for len(out) < 4 || [4]byte{out[len(out)-4], out[len(out)-3], out[len(out)-2], out[len(out)-1]} != zlibFlushTrailer {
		if err := c.zw.Flush(); err != nil {
			return nil, err
		}
		out = c.buf.Bytes()
	}

	return out, nil
}

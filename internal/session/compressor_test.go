package session

import (
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
)

func TestCompressorEachFrameEndsInSyncFlushTrailer(t *testing.T) {
	c, err := NewCompressor()
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}

	frame, err := c.Compress([]byte(`{"op":10}`))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if len(frame) < 4 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	if !bytes.Equal(frame[len(frame)-4:], zlibFlushTrailer[:]) {
		t.Fatalf("frame does not end in the sync-flush trailer: % x", frame[len(frame)-4:])
	}
}

func TestCompressorStreamInflatesToOriginalMessagesInOrder(t *testing.T) {
	c, err := NewCompressor()
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}

	messages := []string{
		`{"op":10,"d":{"heartbeat_interval":41250}}`,
		`{"op":0,"t":"READY","s":0,"d":{}}`,
		`{"op":0,"t":"GUILD_CREATE","s":1,"d":{"id":"g1"}}`,
	}

	var stream bytes.Buffer
	for _, m := range messages {
		frame, err := c.Compress([]byte(m))
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		stream.Write(frame)
	}

	// The stream is never closed with a final deflate block (each message
	// ends only in a sync-flush marker), so io.ReadAll would hit
	// io.ErrUnexpectedEOF. Read each message's known length off the shared
	// inflater instead, mirroring how a client consumes one persistent
	// zlib stream message by message.
	zr, err := zlib.NewReader(bytes.NewReader(stream.Bytes()))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	defer zr.Close()

	for _, want := range messages {
		got := make([]byte, len(want))
		if _, err := io.ReadFull(zr, got); err != nil {
			t.Fatalf("ReadFull: %v", err)
		}
		if string(got) != want {
			t.Fatalf("inflated = %q, want %q", got, want)
		}
	}
}

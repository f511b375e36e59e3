package gatewaystate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/adred-codev/gatewaymux/internal/upstream"
)

type fakeCommandSink struct {
	sent []string
}

func (f *fakeCommandSink) Send(_ context.Context, _ int, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

var _ upstream.CommandSink = (*fakeCommandSink)(nil)

func TestShardStateSetReadyIsWriteOnce(t *testing.T) {
	shard := NewShardState(0, 8, &fakeCommandSink{})

	shard.SetReady(json.RawMessage(`{"user":{"id":"1"}}`))
	shard.SetReady(json.RawMessage(`{"user":{"id":"2"}}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	data, err := shard.WaitUntilReady(ctx)
	if err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
	if string(data) != `{"user":{"id":"1"}}` {
		t.Fatalf("ready data = %s, want the first write to stick", data)
	}
}

func TestShardStateWaitUntilReadyBlocksUntilSet(t *testing.T) {
	shard := NewShardState(0, 8, &fakeCommandSink{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if _, err := shard.WaitUntilReady(ctx); err != nil {
			t.Error(err)
		}
	}()

	select {
	case <-done:
		t.Fatal("WaitUntilReady returned before SetReady was called")
	case <-time.After(20 * time.Millisecond):
	}

	shard.SetReady(json.RawMessage(`{}`))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitUntilReady never returned after SetReady")
	}
}

func TestShardStateSendCommandDelegates(t *testing.T) {
	sink := &fakeCommandSink{}
	shard := NewShardState(3, 8, sink)

	if err := shard.SendCommand(context.Background(), `{"op":1,"d":null}`); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if len(sink.sent) != 1 || sink.sent[0] != `{"op":1,"d":null}` {
		t.Fatalf("sink.sent = %v", sink.sent)
	}
}

package gatewaystate

import (
	"encoding/json"
	"testing"
)

func TestGuildTrackerUpsertThenReady(t *testing.T) {
	tr := NewGuildTracker()
	tr.Upsert("g1", json.RawMessage(`{"id":"g1","name":"Guild One"}`))

	var seq int64
	ready, err := tr.GetReadyPayload(json.RawMessage(`{"user":{"id":"1"},"guilds":[{"id":"stale"}]}`), &seq)
	if err != nil {
		t.Fatalf("GetReadyPayload: %v", err)
	}

	var decoded struct {
		T string `json:"t"`
		S int64  `json:"s"`
		D struct {
			Guilds []struct {
				ID          string `json:"id"`
				Unavailable bool   `json:"unavailable"`
			} `json:"guilds"`
		} `json:"d"`
	}
	if err := json.Unmarshal(ready, &decoded); err != nil {
		t.Fatalf("unmarshal ready: %v", err)
	}

	if decoded.T != "READY" {
		t.Fatalf("t = %q, want READY", decoded.T)
	}
	if decoded.S != 0 {
		t.Fatalf("s = %d, want 0", decoded.S)
	}
	if len(decoded.D.Guilds) != 1 || decoded.D.Guilds[0].ID != "g1" || !decoded.D.Guilds[0].Unavailable {
		t.Fatalf("guilds = %+v, want one unavailable g1", decoded.D.Guilds)
	}
	if seq != 1 {
		t.Fatalf("seq after ready = %d, want 1", seq)
	}
}

func TestGuildTrackerGetGuildPayloadsSequencing(t *testing.T) {
	tr := NewGuildTracker()
	tr.Upsert("g1", json.RawMessage(`{"id":"g1"}`))
	tr.Upsert("g2", json.RawMessage(`{"id":"g2"}`))
	tr.MarkUnavailable("g2", json.RawMessage(`{"id":"g2","unavailable":true}`))

	seq := int64(1)
	frames, err := tr.GetGuildPayloads(&seq)
	if err != nil {
		t.Fatalf("GetGuildPayloads: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if seq != 3 {
		t.Fatalf("seq after burst = %d, want 3", seq)
	}

	// The tracker's iteration order is not fixed, so either guild may come
	// first; sequence numbers follow the order the frames are returned in.
	seen := map[string]string{}
	for i, f := range frames {
		var decoded struct {
			T string `json:"t"`
			S int64  `json:"s"`
			D struct {
				ID string `json:"id"`
			} `json:"d"`
		}
		if err := json.Unmarshal(f, &decoded); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if want := int64(1 + i); decoded.S != want {
			t.Fatalf("frame %d (%s) seq = %d, want %d", i, decoded.T, decoded.S, want)
		}
		seen[decoded.T] = decoded.D.ID
	}

	if id, ok := seen["GUILD_CREATE"]; !ok || id != "g1" {
		t.Fatalf("GUILD_CREATE guild = %q, ok=%v, want g1", id, ok)
	}
	if id, ok := seen["GUILD_DELETE"]; !ok || id != "g2" {
		t.Fatalf("GUILD_DELETE guild = %q, ok=%v, want g2", id, ok)
	}
}

func TestGuildTrackerRemove(t *testing.T) {
	tr := NewGuildTracker()
	tr.Upsert("g1", json.RawMessage(`{"id":"g1"}`))
	tr.Remove("g1")

	if _, ok := tr.snapshotRecord("g1"); ok {
		t.Fatal("expected g1 to be gone after Remove")
	}

	seq := int64(0)
	frames, err := tr.GetGuildPayloads(&seq)
	if err != nil {
		t.Fatalf("GetGuildPayloads: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
}

func TestGuildTrackerMarkUnavailableWithoutPriorSnapshot(t *testing.T) {
	tr := NewGuildTracker()
	tr.MarkUnavailable("ghost", json.RawMessage(`{"id":"ghost","unavailable":true}`))

	record, ok := tr.snapshotRecord("ghost")
	if !ok {
		t.Fatal("expected ghost to be tracked from its delete payload")
	}
	if !record.Unavailable {
		t.Fatal("expected ghost to be unavailable")
	}
	if record.Snapshot == nil {
		t.Fatal("expected a placeholder snapshot")
	}
}

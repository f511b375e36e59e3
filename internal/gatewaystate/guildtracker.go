package gatewaystate

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/adred-codev/gatewaymux/internal/protocol"
)

// GuildRecord is what the tracker remembers about one guild.
type GuildRecord struct {
	Unavailable bool
	// Snapshot is the raw "d" body of the last GUILD_CREATE/GUILD_UPDATE
	// seen for this guild. Kept even while Unavailable, per spec.
	Snapshot json.RawMessage
}

// GuildTracker is the shard's authoritative view of guild availability.
// Safe for concurrent mutation (from the single EventIngest task) and
// concurrent snapshot reads (from many ClientSessions). Each entry has
// its own lock. The map's read lock is held while a snapshot pass
// copies the list of IDs (a full pass over the keys); the records
// themselves are then read one at a time under each entry's own lock,
// outside the map lock.
type GuildTracker struct {
	mu     sync.RWMutex
	guilds map[string]*guildSlot
}

type guildSlot struct {
	mu     sync.RWMutex
	record GuildRecord
}

// NewGuildTracker returns an empty tracker.
func NewGuildTracker() *GuildTracker {
	return &GuildTracker{guilds: make(map[string]*guildSlot)}
}

func (t *GuildTracker) slotFor(id string, createIfMissing bool) *guildSlot {
	t.mu.RLock()
	slot, ok := t.guilds[id]
	t.mu.RUnlock()
	if ok || !createIfMissing {
		return slot
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if slot, ok = t.guilds[id]; ok {
		return slot
	}
	slot = &guildSlot{}
	t.guilds[id] = slot
	return slot
}

// Upsert handles GUILD_CREATE (insert or replace) and GUILD_UPDATE
// (mutate in place): both simply replace the stored snapshot and clear
// the unavailable flag.
func (t *GuildTracker) Upsert(id string, snapshot json.RawMessage) {
	slot := t.slotFor(id, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	slot.record = GuildRecord{Unavailable: false, Snapshot: snapshot}
}

// MarkUnavailable handles GUILD_DELETE with unavailable=true: the
// entry is kept, its prior snapshot retained, only the flag flips.
// If the guild was never tracked, a placeholder entry is created from
// the delete payload itself so the guild is still represented in
// later READY/GUILD-burst synthesis.
func (t *GuildTracker) MarkUnavailable(id string, deletePayload json.RawMessage) {
	slot := t.slotFor(id, true)
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.record.Snapshot == nil {
		slot.record.Snapshot = deletePayload
	}
	slot.record.Unavailable = true
}

// Remove handles GUILD_DELETE with unavailable=false (or absent): the
// shard no longer knows about the guild at all.
func (t *GuildTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.guilds, id)
}

// snapshotIDs returns every tracked guild ID, copied under the map's
// read lock. It reads no records: snapshotRecord reads each one later
// under that entry's own lock, so concurrent per-guild mutation never
// tears an individual record, but the overall set is not a single
// atomic view.
func (t *GuildTracker) snapshotIDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.guilds))
	for id := range t.guilds {
		ids = append(ids, id)
	}
	t.mu.RUnlock()
	return ids
}

func (t *GuildTracker) snapshotRecord(id string) (GuildRecord, bool) {
	t.mu.RLock()
	slot, ok := t.guilds[id]
	t.mu.RUnlock()
	if !ok {
		return GuildRecord{}, false
	}
	slot.mu.RLock()
	defer slot.mu.RUnlock()
	return slot.record, true
}

// nextSeq assigns the current value of *seq to a frame and advances
// *seq by one, so every frame synthesized through a single *seq
// reference receives a contiguous, strictly increasing number starting
// at whatever *seq held when the sequence of calls began (0 for a
// fresh client).
func nextSeq(seq *int64) int64 {
	v := *seq
	*seq++
	return v
}

// NextSeq is nextSeq exported for ClientSession's own renumbering step,
// so every sequence number a client ever sees -- READY, guild burst, or
// renumbered broadcast -- is assigned by the exact same convention.
func NextSeq(seq *int64) int64 {
	return nextSeq(seq)
}

// readyGuildEntry is the shape of one element of the synthetic READY's
// "guilds" array.
type readyGuildEntry struct {
	ID          string `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

// GetReadyPayload synthesizes a per-client READY dispatch from the
// shard's cached READY data and the tracker's current guild set. Every
// tracked guild ID is listed, marked unavailable, regardless of its
// actual current availability -- the GUILD_CREATE/GUILD_DELETE burst
// that follows immediately corrects the picture.
func (t *GuildTracker) GetReadyPayload(readyData json.RawMessage, seq *int64) ([]byte, error) {
	var d map[string]json.RawMessage
	if err := json.Unmarshal(readyData, &d); err != nil {
		return nil, fmt.Errorf("decode cached READY data: %w", err)
	}

	ids := t.snapshotIDs()
	entries := make([]readyGuildEntry, len(ids))
	for i, id := range ids {
		entries[i] = readyGuildEntry{ID: id, Unavailable: true}
	}
	guildsJSON, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("marshal ready guilds: %w", err)
	}
	d["guilds"] = guildsJSON

	s := nextSeq(seq)
	eventName := protocol.EventReady

	frame := struct {
		T  *string                    `json:"t"`
		S  int64                      `json:"s"`
		Op protocol.Opcode            `json:"op"`
		D  map[string]json.RawMessage `json:"d"`
	}{T: &eventName, S: s, Op: protocol.OpDispatch, D: d}

	return json.Marshal(frame)
}

// GetGuildPayloads synthesizes one dispatch frame per tracked guild:
// GUILD_CREATE for available entries, GUILD_DELETE for unavailable
// ones. Frames are assigned strictly increasing sequence numbers via
// the shared *seq reference, continuing from wherever GetReadyPayload
// left off.
func (t *GuildTracker) GetGuildPayloads(seq *int64) ([][]byte, error) {
	ids := t.snapshotIDs()
	frames := make([][]byte, 0, len(ids))

	for _, id := range ids {
		record, ok := t.snapshotRecord(id)
		if !ok {
			continue
		}

		eventName := protocol.EventGuildCreate
		if record.Unavailable {
			eventName = protocol.EventGuildDelete
		}

		s := nextSeq(seq)
		frame := struct {
			T  string          `json:"t"`
			S  int64           `json:"s"`
			Op protocol.Opcode `json:"op"`
			D  json.RawMessage `json:"d"`
		}{T: eventName, S: s, Op: protocol.OpDispatch, D: record.Snapshot}

		encoded, err := json.Marshal(frame)
		if err != nil {
			return nil, fmt.Errorf("marshal guild payload for %s: %w", id, err)
		}
		frames = append(frames, encoded)
	}

	return frames, nil
}

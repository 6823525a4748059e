package bus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"fiatjaf.com/nostrbus"
	"fiatjaf.com/nostrbus/kvstore"
)

// maxCursorIDs bounds how many ids sharing the newest created_at are remembered.
const maxCursorIDs = 16

// cursor tracks the newest created_at handled from one relay, together with the ids
// handled at exactly that second so a restart can seed the dedup cache with them.
//
// Stored value: 8 byte big endian timestamp followed by 32 byte ids.
type cursor struct {
	mu  sync.Mutex
	at  nostr.Timestamp
	ids []nostr.ID

	store kvstore.KVStore
	key   []byte
}

func cursorKey(account string, pk nostr.PubKey, relay string) []byte {
	return []byte("cursor/" + account + "/" + pk.Hex() + "/" + relay)
}

func loadCursor(store kvstore.KVStore, key []byte) (*cursor, error) {
	c := &cursor{store: store, key: key}
	if store == nil {
		return c, nil
	}

	raw, err := store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if raw != nil {
		if c.at, c.ids, err = decodeCursor(raw); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// since returns the cursor, or fallback when nothing was ever handled.
func (c *cursor) since(fallback nostr.Timestamp) nostr.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at == 0 {
		return fallback
	}
	return c.at
}

func (c *cursor) seen() []nostr.ID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]nostr.ID(nil), c.ids...)
}

// advance records a handled event. The cursor never moves backwards.
func (c *cursor) advance(ts nostr.Timestamp, id nostr.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	at, ids, changed := merge(c.at, c.ids, ts, id)
	if !changed {
		return nil
	}
	c.at, c.ids = at, ids

	if c.store == nil {
		return nil
	}
	return c.store.Update(c.key, func(old []byte) ([]byte, error) {
		prevAt, prevIDs, err := decodeCursor(old)
		if err != nil {
			prevAt, prevIDs = 0, nil
		}
		at, ids, changed := merge(prevAt, prevIDs, ts, id)
		if !changed {
			return nil, kvstore.NoOp
		}
		return encodeCursor(at, ids), nil
	})
}

func merge(at nostr.Timestamp, ids []nostr.ID, ts nostr.Timestamp, id nostr.ID) (nostr.Timestamp, []nostr.ID, bool) {
	switch {
	case ts > at:
		return ts, []nostr.ID{id}, true
	case ts < at:
		return at, ids, false
	}
	for _, known := range ids {
		if known == id {
			return at, ids, false
		}
	}
	ids = append(ids, id)
	if len(ids) > maxCursorIDs {
		ids = ids[len(ids)-maxCursorIDs:]
	}
	return at, ids, true
}

func encodeCursor(at nostr.Timestamp, ids []nostr.ID) []byte {
	buf := make([]byte, 8, 8+32*len(ids))
	binary.BigEndian.PutUint64(buf, uint64(at))
	for _, id := range ids {
		buf = append(buf, id[:]...)
	}
	return buf
}

func decodeCursor(raw []byte) (nostr.Timestamp, []nostr.ID, error) {
	if len(raw) == 0 {
		return 0, nil, nil
	}
	if len(raw) < 8 || (len(raw)-8)%32 != 0 {
		return 0, nil, fmt.Errorf("corrupt cursor of %d bytes", len(raw))
	}
	at := nostr.Timestamp(binary.BigEndian.Uint64(raw))
	ids := make([]nostr.ID, 0, (len(raw)-8)/32)
	for i := 8; i < len(raw); i += 32 {
		ids = append(ids, nostr.ID(raw[i:i+32]))
	}
	return at, ids, nil
}

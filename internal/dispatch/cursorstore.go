package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cursor store bounds. Entries expire after the TTL even when the LRU
// has room, so abandoned paginations cannot pin memory.
const (
	cursorStoreSize = 128
	cursorStoreTTL  = 15 * time.Minute
)

// CursorStore parks oversized cursor payloads behind opaque store ids.
// It is a bounded in-process LRU with TTL expiry; losing an entry only
// costs the agent a restarted pagination.
type CursorStore struct {
	lru *expirable.LRU[string, []byte]
}

// NewCursorStore creates a store with the default bounds.
func NewCursorStore() *CursorStore {
	return &CursorStore{lru: expirable.NewLRU[string, []byte](cursorStoreSize, nil, cursorStoreTTL)}
}

// Put stores payload and returns its opaque id.
func (s *CursorStore) Put(payload []byte) string {
	id := newStoreID()
	s.lru.Add(id, payload)
	return id
}

// Get resolves a store id.
func (s *CursorStore) Get(id string) ([]byte, bool) {
	return s.lru.Get(id)
}

// Len returns the live entry count.
func (s *CursorStore) Len() int { return s.lru.Len() }

func newStoreID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand only fails when the OS entropy source is broken;
		// a time-derived id keeps pagination working.
		return hex.EncodeToString([]byte(time.Now().String()))[:32]
	}
	return hex.EncodeToString(buf[:])
}

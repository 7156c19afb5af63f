// Package seekcache implements the deterministic materialization
// snapshot cache described in spec §4.12: a content-addressed key over
// (ceiling, frontier) guarding a serialized state blob, with corruption
// self-healing (a decode failure deletes the entry and falls through to
// a full materialize rather than failing the caller).
//
// Grounded on the teacher's internal/cache/manager.go (memory-first
// lookup, remote fallback) and internal/mcp/identity_resolver.go's
// bbolt get/set idiom, generalized here to a content-addressed key
// rather than a path-keyed cache.
package seekcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/state"
)

// keyVersion isolates future schema changes from existing cache entries,
// per spec §4.12 ("The v1 prefix isolates future schema changes").
const keyVersion = "v1"

// Key computes the deterministic cache key for a (ceiling, frontier)
// materialization, per spec §4.12: v1:t<ceiling>-<sha256Hex(sorted
// "writer:sha" pairs joined by \n)>. ceiling of 0 means unbounded.
func Key(ceiling uint64, frontier map[string]string) string {
	writers := make([]string, 0, len(frontier))
	for w := range frontier {
		writers = append(writers, w)
	}
	sort.Strings(writers)

	pairs := make([]string, 0, len(writers))
	for _, w := range writers {
		pairs = append(pairs, w+":"+frontier[w])
	}
	sum := sha256.Sum256([]byte(strings.Join(pairs, "\n")))

	return fmt.Sprintf("%s:t%s-%s", keyVersion, strconv.FormatUint(ceiling, 10), hex.EncodeToString(sum[:]))
}

// Entry is the cached payload: the serialized state snapshot at the key's
// (ceiling, frontier), available as a document for Put/Get round trips.
type Entry struct {
	Snapshot state.FullSnapshot `cbor:"snapshot"`
}

// Store is the persistence surface seekcache needs: a flat key/value
// map keyed by Key's output. Implementations are expected to back this
// with PersistencePort's blob store (write the encoded entry as a blob,
// keep the key->oid mapping in a dedicated ref or bucket) or a direct
// KV store such as bbolt; seekcache itself stays storage-agnostic.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
}

// Cache wraps a Store with the encode/decode and self-healing contract
// spec §4.12 requires.
type Cache struct {
	store Store
	codec *canon.Codec
}

// New constructs a Cache over store using codec for canonical encoding.
func New(store Store, codec *canon.Codec) *Cache {
	return &Cache{store: store, codec: codec}
}

// Get attempts to restore a cached state for key. ok is false on a
// cache miss, a read failure, or a decode failure — all three are
// non-fatal per spec §4.12 ("Read and write failures are non-fatal;
// always fall through"). A decode failure additionally deletes the
// corrupt entry before returning, so the next Get doesn't repeat the
// failed decode (self-healing, spec §4.12: "Decode failures invoke
// delete(key) and fall through").
func (c *Cache) Get(key string) (snap state.FullSnapshot, ok bool) {
	raw, found, err := c.store.Get(key)
	if err != nil || !found {
		return state.FullSnapshot{}, false
	}
	var entry Entry
	if err := c.codec.Decode(raw, &entry); err != nil {
		_ = c.store.Delete(key)
		return state.FullSnapshot{}, false
	}
	return entry.Snapshot, true
}

// Put stores snap under key. Callers skip calling Put when receipts
// were requested or no patches matched the ceiling, per spec §4.12's
// write-skip conditions; Put itself just writes unconditionally.
// Write failures are swallowed (non-fatal, per spec §4.12).
func (c *Cache) Put(key string, snap state.FullSnapshot) {
	encoded, err := c.codec.Encode(Entry{Snapshot: snap})
	if err != nil {
		return
	}
	_ = c.store.Put(key, encoded)
}

// MemStore is an in-memory Store, used by tests and the default
// in-memory PersistencePort pairing.
type MemStore struct {
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemStore) Put(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemStore) Delete(key string) error {
	delete(m.data, key)
	return nil
}

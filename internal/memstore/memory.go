// Package memstore implements spec §6's PersistencePort: a Git-like
// commit/blob/tree/ref store, content-addressed by SHA-256: blobs over
// their raw bytes, commits and trees over their canonical encoding. Two implementations are provided:
// Memory, an in-process map-backed store for tests and ephemeral
// graphs, and Bbolt, a durable on-disk store.
//
// Grounded on the teacher's internal/mcp/identity_resolver.go bbolt
// get/set idiom (bucket-per-kind, JSON-ish marshal/unmarshal through a
// View/Update transaction pair), generalized here to a content-addressed
// object store rather than a single path->paths cache.
package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/ports"
)

// commitObject is the canonically-encoded payload a commit's sha is
// computed over: the message, the parent shas, and the sign flag.
type commitObject struct {
	Message string   `cbor:"message"`
	Parents []string `cbor:"parents"`
	Sign    bool     `cbor:"sign"`
}

func commitSHA(codec *canon.Codec, obj commitObject) (string, error) {
	encoded, err := codec.Encode(obj)
	if err != nil {
		return "", err
	}
	return hexSHA256(encoded), nil
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func treeSHA(codec *canon.Codec, entries map[string]string) (string, error) {
	encoded, err := codec.Encode(entries)
	if err != nil {
		return "", err
	}
	return hexSHA256(encoded), nil
}

// Memory is an in-memory PersistencePort, suitable for tests and
// graphs that don't need to survive process restart.
type Memory struct {
	mu      sync.Mutex
	codec   *canon.Codec
	commits map[string]commitObject
	blobs   map[string][]byte
	trees   map[string]map[string]string
	refs    map[string]string
	config  map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		codec:   canon.New(),
		commits: make(map[string]commitObject),
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		refs:    make(map[string]string),
		config:  make(map[string]string),
	}
}

var _ ports.PersistencePort = (*Memory)(nil)

func (m *Memory) CommitNode(ctx context.Context, message string, parents []string, sign bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj := commitObject{Message: message, Parents: append([]string{}, parents...), Sign: sign}
	sha, err := commitSHA(m.codec, obj)
	if err != nil {
		return "", fmt.Errorf("memstore: hashing commit: %w", err)
	}
	m.commits[sha] = obj
	return sha, nil
}

func (m *Memory) ReadRef(ctx context.Context, ref string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sha, ok := m.refs[ref]
	return sha, ok, nil
}

func (m *Memory) UpdateRef(ctx context.Context, ref string, sha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[ref] = sha
	return nil
}

func (m *Memory) DeleteRef(ctx context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.refs, ref)
	return nil
}

func (m *Memory) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[oid]
	if !ok {
		return nil, fmt.Errorf("memstore: blob %s not found", oid)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) WriteBlob(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid := hexSHA256(data)
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[oid] = cp
	return oid, nil
}

func (m *Memory) ReadTree(ctx context.Context, oid string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tree, ok := m.trees[oid]
	if !ok {
		return nil, fmt.Errorf("memstore: tree %s not found", oid)
	}
	out := make(map[string]string, len(tree))
	for k, v := range tree {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) WriteTree(ctx context.Context, entries map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, err := treeSHA(m.codec, entries)
	if err != nil {
		return "", fmt.Errorf("memstore: hashing tree: %w", err)
	}
	cp := make(map[string]string, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	m.trees[oid] = cp
	return oid, nil
}

func (m *Memory) GetNodeInfo(ctx context.Context, sha string) (ports.NodeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.commits[sha]
	if !ok {
		return ports.NodeInfo{}, fmt.Errorf("memstore: commit %s not found", sha)
	}
	return ports.NodeInfo{Message: obj.Message, Parents: append([]string{}, obj.Parents...)}, nil
}

func (m *Memory) ListRefs(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for ref := range m.refs {
		if strings.HasPrefix(ref, prefix) {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) CountNodes(ctx context.Context, ref string) (int, error) {
	m.mu.Lock()
	tip, ok := m.refs[ref]
	m.mu.Unlock()
	if !ok {
		return 0, nil
	}
	count := 0
	seen := make(map[string]bool)
	queue := []string{tip}
	for len(queue) > 0 {
		sha := queue[0]
		queue = queue[1:]
		if seen[sha] {
			continue
		}
		seen[sha] = true
		m.mu.Lock()
		obj, ok := m.commits[sha]
		m.mu.Unlock()
		if !ok {
			continue
		}
		count++
		queue = append(queue, obj.Parents...)
	}
	return count, nil
}

func (m *Memory) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok, nil
}

func (m *Memory) ConfigSet(ctx context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

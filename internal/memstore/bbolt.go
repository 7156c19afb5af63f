package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/ports"
	bolt "go.etcd.io/bbolt"
)

var bucketNames = []string{"commits", "blobs", "trees", "refs", "config"}

// Bbolt is a durable, on-disk PersistencePort backed by a single bbolt
// database file, one bucket per object kind.
type Bbolt struct {
	db    *bolt.DB
	codec *canon.Codec
}

var _ ports.PersistencePort = (*Bbolt)(nil)

// OpenBbolt opens (creating if absent) a bbolt-backed store at path.
func OpenBbolt(path string) (*Bbolt, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("memstore: opening bbolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range bucketNames {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("memstore: creating buckets: %w", err)
	}
	return &Bbolt{db: db, codec: canon.New()}, nil
}

// Close releases the underlying bbolt file handle.
func (b *Bbolt) Close() error { return b.db.Close() }

func (b *Bbolt) CommitNode(ctx context.Context, message string, parents []string, sign bool) (string, error) {
	obj := commitObject{Message: message, Parents: append([]string{}, parents...), Sign: sign}
	sha, err := commitSHA(b.codec, obj)
	if err != nil {
		return "", fmt.Errorf("memstore: hashing commit: %w", err)
	}
	encoded, err := b.codec.Encode(obj)
	if err != nil {
		return "", err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("commits")).Put([]byte(sha), encoded)
	})
	if err != nil {
		return "", fmt.Errorf("memstore: writing commit: %w", err)
	}
	return sha, nil
}

func (b *Bbolt) ReadRef(ctx context.Context, ref string) (string, bool, error) {
	var sha string
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte("refs")).Get([]byte(ref))
		if v != nil {
			sha = string(v)
			found = true
		}
		return nil
	})
	return sha, found, err
}

func (b *Bbolt) UpdateRef(ctx context.Context, ref string, sha string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("refs")).Put([]byte(ref), []byte(sha))
	})
}

func (b *Bbolt) DeleteRef(ctx context.Context, ref string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("refs")).Delete([]byte(ref))
	})
}

func (b *Bbolt) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte("blobs")).Get([]byte(oid))
		if v == nil {
			return fmt.Errorf("memstore: blob %s not found", oid)
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

func (b *Bbolt) WriteBlob(ctx context.Context, data []byte) (string, error) {
	oid := hexSHA256(data)
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("blobs")).Put([]byte(oid), data)
	})
	if err != nil {
		return "", fmt.Errorf("memstore: writing blob: %w", err)
	}
	return oid, nil
}

func (b *Bbolt) ReadTree(ctx context.Context, oid string) (map[string]string, error) {
	var entries map[string]string
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte("trees")).Get([]byte(oid))
		if v == nil {
			return fmt.Errorf("memstore: tree %s not found", oid)
		}
		return b.codec.Decode(v, &entries)
	})
	return entries, err
}

func (b *Bbolt) WriteTree(ctx context.Context, entries map[string]string) (string, error) {
	oid, err := treeSHA(b.codec, entries)
	if err != nil {
		return "", fmt.Errorf("memstore: hashing tree: %w", err)
	}
	encoded, err := b.codec.Encode(entries)
	if err != nil {
		return "", err
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("trees")).Put([]byte(oid), encoded)
	})
	if err != nil {
		return "", fmt.Errorf("memstore: writing tree: %w", err)
	}
	return oid, nil
}

func (b *Bbolt) GetNodeInfo(ctx context.Context, sha string) (ports.NodeInfo, error) {
	var obj commitObject
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte("commits")).Get([]byte(sha))
		if v == nil {
			return fmt.Errorf("memstore: commit %s not found", sha)
		}
		return b.codec.Decode(v, &obj)
	})
	if err != nil {
		return ports.NodeInfo{}, err
	}
	return ports.NodeInfo{Message: obj.Message, Parents: obj.Parents}, nil
}

func (b *Bbolt) ListRefs(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte("refs")).Cursor()
		bp := []byte(prefix)
		for k, _ := c.Seek(bp); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			out = append(out, string(k))
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (b *Bbolt) Ping(ctx context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error { return nil })
}

func (b *Bbolt) CountNodes(ctx context.Context, ref string) (int, error) {
	tip, found, err := b.ReadRef(ctx, ref)
	if err != nil || !found {
		return 0, err
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
		info, err := b.GetNodeInfo(ctx, sha)
		if err != nil {
			continue
		}
		count++
		queue = append(queue, info.Parents...)
	}
	return count, nil
}

func (b *Bbolt) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte("config")).Get([]byte(key))
		if v != nil {
			value = string(v)
			found = true
		}
		return nil
	})
	return value, found, err
}

func (b *Bbolt) ConfigSet(ctx context.Context, key string, value string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("config")).Put([]byte(key), []byte(value))
	})
}

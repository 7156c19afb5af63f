// Package ports declares the external collaborator interfaces WarpGraph
// is built against. None of these are implemented by the engine itself;
// internal/memstore and internal/cryptoimpl supply default, swappable
// implementations used by the CLI and the test suite.
package ports

import "context"

// NodeInfo describes a single commit node in the persistence layer's DAG.
type NodeInfo struct {
	Message string
	Parents []string
	Author  string
	Tree    string
}

// PersistencePort is the commit/blob/tree/ref store WarpGraph is layered
// over. Implementations must serialize their own ref-update operations;
// WarpGraph assumes updateRef is atomic with respect to concurrent writers
// on the same ref.
type PersistencePort interface {
	CommitNode(ctx context.Context, message string, parents []string, sign bool) (string, error)
	ReadRef(ctx context.Context, ref string) (string, bool, error)
	UpdateRef(ctx context.Context, ref string, sha string) error
	DeleteRef(ctx context.Context, ref string) error
	ReadBlob(ctx context.Context, oid string) ([]byte, error)
	WriteBlob(ctx context.Context, data []byte) (string, error)
	ReadTree(ctx context.Context, oid string) (map[string]string, error)
	WriteTree(ctx context.Context, entries map[string]string) (string, error)
	GetNodeInfo(ctx context.Context, sha string) (NodeInfo, error)
	ListRefs(ctx context.Context, prefix string) ([]string, error)
	Ping(ctx context.Context) error
	CountNodes(ctx context.Context, ref string) (int, error)
	ConfigGet(ctx context.Context, key string) (string, bool, error)
	ConfigSet(ctx context.Context, key string, value string) error
}

// CryptoPort is the cryptographic primitive surface the engine consumes.
// "sha256" and "sha256" only are supported algorithm names; ports are
// free to reject anything else.
type CryptoPort interface {
	Hash(algorithm string, data []byte) (string, error)
	HMAC(algorithm string, key []byte, data []byte) ([]byte, error)
	TimingSafeEqual(a, b []byte) bool
}

// CodecPort is the canonical binary codec described in spec §4.1. Encode
// must be deterministic: encode(decode(x)) == encode(x) byte-for-byte.
type CodecPort interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
}

// HttpServerPort abstracts the HTTP transport the sync server rides on,
// so internal/httpsync stays testable without binding to net/http directly
// in its core dispatch logic.
type HttpServerPort interface {
	HandleFunc(pattern string, handler func(ResponseWriter, *Request))
	ListenAndServe(addr string) error
}

// ResponseWriter and Request are minimal transport-neutral shims so
// internal/httpsync's core dispatch function does not import net/http.
type ResponseWriter interface {
	WriteHeader(statusCode int)
	Write(data []byte) (int, error)
	Header() map[string][]string
}

// Request carries the subset of an inbound HTTP request WarpGraph's sync
// server needs to authenticate and dispatch a request.
type Request struct {
	Method        string
	Path          string
	Query         string
	Header        map[string][]string
	Body          []byte
	ContentLength int64
}

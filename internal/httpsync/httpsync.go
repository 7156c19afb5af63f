// Package httpsync is the thin HTTP composer of spec §4.11: it checks
// content-type, route, and body size, parses the sync request, calls
// _authorize, delegates to the graph's sync handler, and canonicalizes
// the JSON response. Size checking runs before authentication so an
// oversized body can never trigger expensive cryptographic work (spec
// §4.11: "Size check runs before authentication to prevent DoS on
// cryptographic work").
//
// Grounded on the teacher's cmd/crisk-check-server/main.go startup
// shape (wire dependencies, register one handler, serve), adapted from
// its stdio MCP transport to net/http — the teacher repo has no HTTP
// server framework dependency of its own to reuse, so a single-route
// JSON POST handler is built directly on net/http.ServeMux, exactly
// the surface ports.HttpServerPort models.
package httpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/syncauth"
	"github.com/git-stunts/warpgraph/internal/syncproto"
)

// DefaultMaxBodyBytes and MaxBodyBytesCap are spec §4.11's default and
// hard cap on request body size.
const (
	DefaultMaxBodyBytes = 4 * 1024 * 1024
	MaxBodyBytesCap     = 128 * 1024 * 1024
)

// SyncHandler is the graph-side sync responder this server delegates
// to once a request has passed routing, size, and auth checks.
type SyncHandler interface {
	HandleSyncRequest(ctx context.Context, req syncproto.Request) (syncproto.Response, error)
}

// Config configures a Server.
type Config struct {
	Path            string // default "/sync"
	MaxBodyBytes    int64  // default DefaultMaxBodyBytes, capped at MaxBodyBytesCap
	Mode            syncauth.Mode
	MaxClockSkew    time.Duration
	ResolveKey      syncauth.KeyResolver
	Nonces          *syncauth.NonceCache
	WriterAllowList []string
	Clock           func() time.Time

	// OnAuthResult, if set, is invoked with every syncauth.Result once
	// Verify returns, valid or not, so a caller can wire its own
	// metrics (e.g. a replayRejectCount gauge) without the server
	// itself taking a dependency on a particular metrics library.
	OnAuthResult func(syncauth.Result)
}

// Server composes routing, size limiting, authentication, and dispatch
// for the sync endpoint.
type Server struct {
	handler SyncHandler
	crypto  ports.CryptoPort
	cfg     Config

	mu           sync.Mutex
	passthroughs int64
}

// New constructs a Server. Unset Config fields fall back to spec
// defaults.
func New(handler SyncHandler, crypto ports.CryptoPort, cfg Config) *Server {
	if cfg.Path == "" {
		cfg.Path = "/sync"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.MaxBodyBytes > MaxBodyBytesCap {
		cfg.MaxBodyBytes = MaxBodyBytesCap
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Server{handler: handler, crypto: crypto, cfg: cfg}
}

// Passthroughs returns the number of requests that failed authentication
// but were allowed through under ModeLogOnly, the counter spec §4.11
// requires log-only mode to maintain.
func (s *Server) Passthroughs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passthroughs
}

// errorBody is the spec §6 error envelope: {"error": <message>}.
type errorBody struct {
	Error string `json:"error"`
}

// Handle dispatches req through the pipeline and writes a response to
// w. It never panics on malformed input; every failure path produces a
// JSON error body with the matching status code from spec §6.
func (s *Server) Handle(ctx context.Context, w ports.ResponseWriter, req *ports.Request) {
	if req.Method != "POST" {
		writeJSONError(w, 405, "method not allowed")
		return
	}
	if req.Path != s.cfg.Path {
		writeJSONError(w, 404, "not found")
		return
	}
	if req.ContentLength > s.cfg.MaxBodyBytes || int64(len(req.Body)) > s.cfg.MaxBodyBytes {
		writeJSONError(w, 413, "request body too large")
		return
	}
	if !hasJSONContentType(req.Header) {
		writeJSONError(w, 400, "content-type must be application/json")
		return
	}

	var syncReq syncproto.Request
	if err := json.Unmarshal(req.Body, &syncReq); err != nil {
		writeJSONError(w, 400, "malformed request body")
		return
	}

	headers := extractHeaders(req.Header)
	result := syncauth.Verify(s.crypto, syncauth.VerifyParams{
		Headers:         headers,
		Method:          req.Method,
		Path:            req.Path + queryPrefix(req.Query),
		ContentType:     firstHeader(req.Header, "content-type"),
		Body:            req.Body,
		Now:             s.cfg.Clock(),
		MaxClockSkew:    s.cfg.MaxClockSkew,
		ResolveKey:      s.cfg.ResolveKey,
		Nonces:          s.cfg.Nonces,
		WriterAllowList: s.cfg.WriterAllowList,
		RequestWriters:  frontierWriters(syncReq.Frontier),
	})
	if s.cfg.OnAuthResult != nil {
		s.cfg.OnAuthResult(result)
	}
	if !result.Valid {
		if s.cfg.Mode == syncauth.ModeLogOnly {
			s.mu.Lock()
			s.passthroughs++
			s.mu.Unlock()
		} else {
			writeJSONError(w, result.Status, string(result.Reason))
			return
		}
	}

	resp, err := s.handler.HandleSyncRequest(ctx, syncReq)
	if err != nil {
		writeJSONError(w, 500, err.Error())
		return
	}

	body, err := canonicalJSON(resp)
	if err != nil {
		writeJSONError(w, 500, "failed to encode response")
		return
	}
	w.WriteHeader(200)
	_, _ = w.Write(body)
}

func hasJSONContentType(header map[string][]string) bool {
	ct := firstHeader(header, "content-type")
	return len(ct) >= len("application/json") && ct[:len("application/json")] == "application/json"
}

func firstHeader(header map[string][]string, key string) string {
	for k, v := range header {
		if equalFoldASCII(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

func extractHeaders(header map[string][]string) syncauth.Headers {
	return syncauth.Headers{
		Version:   firstHeader(header, syncauth.HeaderSigVersion),
		KeyID:     firstHeader(header, syncauth.HeaderKeyID),
		Timestamp: firstHeader(header, syncauth.HeaderTimestamp),
		Nonce:     firstHeader(header, syncauth.HeaderNonce),
		Signature: firstHeader(header, syncauth.HeaderSignature),
	}
}

func queryPrefix(query string) string {
	if query == "" {
		return ""
	}
	return "?" + query
}

func frontierWriters(f syncproto.Frontier) []string {
	out := make([]string, 0, len(f))
	for w := range f {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// canonicalJSON marshals v with lexicographically sorted object keys,
// per spec §4.11 ("canonicalize the JSON response (sorted keys)").
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out, nil
}

func writeJSONError(w ports.ResponseWriter, status int, message string) {
	body, _ := json.Marshal(errorBody{Error: message})
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

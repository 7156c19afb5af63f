package httpsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/syncauth"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	status int
	body   []byte
	header map[string][]string
}

func (r *recordingWriter) WriteHeader(statusCode int)    { r.status = statusCode }
func (r *recordingWriter) Write(data []byte) (int, error) { r.body = append(r.body, data...); return len(data), nil }
func (r *recordingWriter) Header() map[string][]string {
	if r.header == nil {
		r.header = map[string][]string{}
	}
	return r.header
}

type stubSyncHandler struct {
	resp syncproto.Response
	err  error
}

func (s *stubSyncHandler) HandleSyncRequest(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	return s.resp, s.err
}

func signedRequest(t *testing.T, crypto ports.CryptoPort, secret []byte, path string, body []byte, now time.Time) *ports.Request {
	t.Helper()
	headers, err := syncauth.SignRequest(crypto, "key1", secret, "POST", path, "application/json", body, func() time.Time { return now })
	require.NoError(t, err)
	header := map[string][]string{
		"Content-Type":            {"application/json"},
		syncauth.HeaderSigVersion: {headers.Version},
		syncauth.HeaderKeyID:      {headers.KeyID},
		syncauth.HeaderTimestamp:  {headers.Timestamp},
		syncauth.HeaderNonce:      {headers.Nonce},
		syncauth.HeaderSignature:  {headers.Signature},
	}
	return &ports.Request{
		Method:        "POST",
		Path:          path,
		Header:        header,
		Body:          body,
		ContentLength: int64(len(body)),
	}
}

func newTestServer(handler SyncHandler, crypto ports.CryptoPort, secret []byte) *Server {
	return New(handler, crypto, Config{
		Path:         "/sync",
		MaxClockSkew: 5 * time.Minute,
		ResolveKey:   func(keyID string) ([]byte, bool) { return secret, keyID == "key1" },
		Nonces:       syncauth.NewNonceCache(10),
		Clock:        time.Now,
	})
}

func TestHandleRejectsWrongMethod(t *testing.T) {
	crypto := cryptoimpl.New()
	s := newTestServer(&stubSyncHandler{}, crypto, []byte("s"))
	w := &recordingWriter{}
	req := &ports.Request{Method: "GET", Path: "/sync"}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 405, w.status)
}

func TestHandleRejectsWrongPath(t *testing.T) {
	crypto := cryptoimpl.New()
	s := newTestServer(&stubSyncHandler{}, crypto, []byte("s"))
	w := &recordingWriter{}
	req := &ports.Request{Method: "POST", Path: "/other"}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 404, w.status)
}

func TestHandleRejectsOversizedBody(t *testing.T) {
	crypto := cryptoimpl.New()
	s := New(&stubSyncHandler{}, crypto, Config{MaxBodyBytes: 10})
	w := &recordingWriter{}
	req := &ports.Request{Method: "POST", Path: "/sync", Body: make([]byte, 100), ContentLength: 100}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 413, w.status)
}

func TestHandleRejectsMissingContentType(t *testing.T) {
	crypto := cryptoimpl.New()
	s := newTestServer(&stubSyncHandler{}, crypto, []byte("s"))
	w := &recordingWriter{}
	req := &ports.Request{Method: "POST", Path: "/sync", Body: []byte(`{}`)}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 400, w.status)
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	crypto := cryptoimpl.New()
	s := newTestServer(&stubSyncHandler{}, crypto, []byte("s"))
	w := &recordingWriter{}
	req := &ports.Request{
		Method:  "POST",
		Path:    "/sync",
		Header:  map[string][]string{"Content-Type": {"application/json"}},
		Body:    []byte(`not json`),
	}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 400, w.status)
}

func TestHandleRejectsUnsignedRequest(t *testing.T) {
	crypto := cryptoimpl.New()
	s := newTestServer(&stubSyncHandler{}, crypto, []byte("s"))
	w := &recordingWriter{}
	body := []byte(`{"type":"sync-request","frontier":{}}`)
	req := &ports.Request{
		Method:  "POST",
		Path:    "/sync",
		Header:  map[string][]string{"Content-Type": {"application/json"}},
		Body:    body,
	}
	s.Handle(context.Background(), w, req)
	require.Equal(t, 401, w.status)
}

func TestHandleAcceptsValidSignedRequestAndReturnsCanonicalJSON(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request","frontier":{}}`)
	now := time.Now()

	handler := &stubSyncHandler{resp: syncproto.Response{
		Type:     "sync-response",
		Frontier: syncproto.Frontier{"alice": "sha1"},
	}}
	s := newTestServer(handler, crypto, secret)
	w := &recordingWriter{}
	req := signedRequest(t, crypto, secret, "/sync", body, now)

	s.Handle(context.Background(), w, req)
	require.Equal(t, 200, w.status)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.body, &decoded))
	require.Equal(t, "sync-response", decoded["type"])
}

func TestHandleEnforcesWriterAllowList(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request","frontier":{"mallory":"sha1"}}`)
	now := time.Now()

	s := New(&stubSyncHandler{}, crypto, Config{
		Path:            "/sync",
		MaxClockSkew:    5 * time.Minute,
		ResolveKey:      func(keyID string) ([]byte, bool) { return secret, keyID == "key1" },
		Nonces:          syncauth.NewNonceCache(10),
		WriterAllowList: []string{"alice"},
		Clock:           func() time.Time { return now },
	})
	w := &recordingWriter{}
	req := signedRequest(t, crypto, secret, "/sync", body, now)
	s.Handle(context.Background(), w, req)
	require.Equal(t, 403, w.status)
}

func TestHandleSurfacesHandlerErrorAs500(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request","frontier":{}}`)
	now := time.Now()

	handler := &stubSyncHandler{err: errBoom{}}
	s := newTestServer(handler, crypto, secret)
	w := &recordingWriter{}
	req := signedRequest(t, crypto, secret, "/sync", body, now)
	s.Handle(context.Background(), w, req)
	require.Equal(t, 500, w.status)
}

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func TestHandleLogOnlyModePassesThroughAndCountsFailures(t *testing.T) {
	crypto := cryptoimpl.New()
	secret := []byte("shared-secret")
	body := []byte(`{"type":"sync-request","frontier":{}}`)

	var observed []syncauth.Result
	handler := &stubSyncHandler{resp: syncproto.Response{Type: "sync-response"}}
	s := New(handler, crypto, Config{
		Path:         "/sync",
		MaxClockSkew: 5 * time.Minute,
		Mode:         syncauth.ModeLogOnly,
		ResolveKey:   func(keyID string) ([]byte, bool) { return secret, keyID == "key1" },
		Nonces:       syncauth.NewNonceCache(10),
		Clock:        time.Now,
		OnAuthResult: func(r syncauth.Result) { observed = append(observed, r) },
	})

	w := &recordingWriter{}
	req := &ports.Request{
		Method: "POST",
		Path:   "/sync",
		Header: map[string][]string{"Content-Type": {"application/json"}},
		Body:   body,
	}
	s.Handle(context.Background(), w, req)

	require.Equal(t, 200, w.status)
	require.EqualValues(t, 1, s.Passthroughs())
	require.Len(t, observed, 1)
	require.False(t, observed[0].Valid)
}

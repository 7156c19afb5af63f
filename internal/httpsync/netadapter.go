package httpsync

import (
	"io"
	"net/http"

	"github.com/git-stunts/warpgraph/internal/ports"
)

// netHTTPServer adapts net/http to ports.HttpServerPort, the only place
// in this package that imports net/http directly; Server.Handle itself
// stays transport-neutral and testable without a real listener.
type netHTTPServer struct {
	mux *http.ServeMux
}

// NewNetHTTPServer returns an HttpServerPort backed by net/http.
func NewNetHTTPServer() ports.HttpServerPort {
	return &netHTTPServer{mux: http.NewServeMux()}
}

func (n *netHTTPServer) HandleFunc(pattern string, handler func(ports.ResponseWriter, *ports.Request)) {
	n.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		body, err := readAllLimited(r)
		if err != nil {
			w.WriteHeader(400)
			return
		}
		req := &ports.Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Header:        map[string][]string(r.Header),
			Body:          body,
			ContentLength: r.ContentLength,
		}
		handler(&responseWriterAdapter{w: w}, req)
	})
}

func (n *netHTTPServer) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, n.mux)
}

// responseWriterAdapter adapts http.ResponseWriter to ports.ResponseWriter.
type responseWriterAdapter struct {
	w http.ResponseWriter
}

func (r *responseWriterAdapter) WriteHeader(statusCode int) { r.w.WriteHeader(statusCode) }
func (r *responseWriterAdapter) Write(data []byte) (int, error) { return r.w.Write(data) }
func (r *responseWriterAdapter) Header() map[string][]string   { return map[string][]string(r.w.Header()) }

func readAllLimited(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, MaxBodyBytesCap+1))
}

package originlink

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/require"
)

func newTestLinker(t *testing.T, handler http.HandlerFunc) (*Linker, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL
	return New(client), server.Close
}

func TestAnnotateAuditCommit(t *testing.T) {
	linker, closeServer := newTestLinker(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/acme/widgets/commits/deadbeef", r.URL.Path)
		fmt.Fprint(w, `{
			"sha": "deadbeef",
			"html_url": "https://github.com/acme/widgets/commit/deadbeef",
			"commit": {"author": {"name": "Ada"}, "message": "fix: tighten validation"},
			"stats": {"additions": 12, "deletions": 3}
		}`)
	})
	defer closeServer()

	ann, err := linker.AnnotateAuditCommit(context.Background(), "acme", "widgets", "deadbeef")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", ann.SHA)
	require.Equal(t, "Ada", ann.Author)
	require.Equal(t, "fix: tighten validation", ann.Message)
	require.Equal(t, "https://github.com/acme/widgets/commit/deadbeef", ann.URL)
	require.Equal(t, 12, ann.Additions)
	require.Equal(t, 3, ann.Deletions)
}

func TestAnnotateAuditCommitPropagatesError(t *testing.T) {
	linker, closeServer := newTestLinker(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "No commit found for SHA: missing"}`)
	})
	defer closeServer()

	_, err := linker.AnnotateAuditCommit(context.Background(), "acme", "widgets", "missing")
	require.Error(t, err)
}

package warpgraph

import (
	"context"
	"testing"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/cryptoimpl"
	"github.com/git-stunts/warpgraph/internal/logging"
	"github.com/git-stunts/warpgraph/internal/memstore"
	"github.com/git-stunts/warpgraph/internal/seekcache"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T, cfg Config) *WarpGraph {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{Level: logging.INFO})
	require.NoError(t, err)
	g, err := New(memstore.NewMemory(), canon.New(), cryptoimpl.New(), nil, logger, cfg)
	require.NoError(t, err)
	return g
}

func newTestGraphWithSeekCache(t *testing.T, cfg Config) *WarpGraph {
	t.Helper()
	logger, err := logging.NewLogger(logging.Config{Level: logging.INFO})
	require.NoError(t, err)
	seek := seekcache.New(seekcache.NewMemStore(), canon.New())
	g, err := New(memstore.NewMemory(), canon.New(), cryptoimpl.New(), seek, logger, cfg)
	require.NoError(t, err)
	return g
}

func TestCommitThenMaterializeSeesTheNode(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice"})

	result, err := g.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, result.SHA)

	ok, err := g.HasNode(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCommitWithoutAutoMaterializeRequiresExplicitMaterialize(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice"})

	_, err := g.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)

	_, err = g.HasNode(ctx, "n1")
	require.Error(t, err)

	_, err = g.Materialize(ctx, MaterializeOptions{})
	require.NoError(t, err)

	ok, err := g.HasNode(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveNodeIsTombstonedNotVisible(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})

	_, err := g.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)
	_, err = g.CreatePatch().RemoveNode("n1").Commit(ctx)
	require.NoError(t, err)

	ok, err := g.HasNode(ctx, "n1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAddEdgeAndNeighbors(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})

	_, err := g.CreatePatch().AddNode("a").AddNode("b").AddEdge("a", "b", "knows").Commit(ctx)
	require.NoError(t, err)

	edges, err := g.GetEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	require.Equal(t, "a", edges[0].From)
	require.Equal(t, "b", edges[0].To)
	require.Equal(t, "knows", edges[0].Label)
}

func TestSetNodePropLastWriteWins(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})

	_, err := g.CreatePatch().AddNode("n1").SetNodeProp("n1", "status", "draft").Commit(ctx)
	require.NoError(t, err)
	_, err = g.CreatePatch().SetNodeProp("n1", "status", "final").Commit(ctx)
	require.NoError(t, err)

	props, err := g.GetNodeProps(ctx, "n1")
	require.NoError(t, err)
	require.Equal(t, "final", props["status"])
}

func TestCreateCheckpointAndStatus(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})

	_, err := g.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)

	cp, err := g.CreateCheckpoint(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cp.SHA)
	require.NotEmpty(t, cp.StateHash)

	st, err := g.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, st.PatchesSinceCheckpoint)
	require.Contains(t, st.Writers, "alice")
}

func TestMaterializeSliceReplaysOnlyEntityCone(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})

	_, err := g.CreatePatch().AddNode("a").Commit(ctx)
	require.NoError(t, err)
	_, err = g.CreatePatch().AddNode("b").Commit(ctx)
	require.NoError(t, err)

	s, receipts, err := g.MaterializeSlice(ctx, "a", nil)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.True(t, s.NodeVisible("a"))
	require.False(t, s.NodeVisible("b"))
}

func TestHandleSyncRequestAndApplySyncResponseRoundTrip(t *testing.T) {
	ctx := context.Background()
	producer := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true})
	consumer := newTestGraph(t, Config{Graph: "g", Writer: "bob", AutoMaterialize: true})

	_, err := producer.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)

	_, err = consumer.Materialize(ctx, MaterializeOptions{})
	require.NoError(t, err)

	local, err := syncproto.LocalFrontier(ctx, consumer.store, "g")
	require.NoError(t, err)
	req := syncproto.BuildRequest(local)

	resp, err := producer.HandleSyncRequest(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.Patches, 1)

	result, err := consumer.ApplySyncResponse(ctx, resp)
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)

	ok, err := consumer.HasNode(ctx, "n1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestWriterAllowListFiltersSyncResponse(t *testing.T) {
	ctx := context.Background()
	producer := newTestGraph(t, Config{Graph: "g", Writer: "alice", AutoMaterialize: true, WriterAllowList: []string{"bob"}})

	_, err := producer.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)

	resp, err := producer.HandleSyncRequest(ctx, syncproto.BuildRequest(syncproto.Frontier{}))
	require.NoError(t, err)
	require.Empty(t, resp.Patches)
}

func TestMaterializeWithSeekCacheHitMarksProvenanceDegraded(t *testing.T) {
	ctx := context.Background()
	g := newTestGraphWithSeekCache(t, Config{Graph: "g", Writer: "alice"})

	_, err := g.CreatePatch().AddNode("n1").Commit(ctx)
	require.NoError(t, err)

	first, err := g.Materialize(ctx, MaterializeOptions{})
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	_, err = g.CreateEntityBTR(ctx, "n1", []byte("k"))
	require.NoError(t, err)

	second, err := g.Materialize(ctx, MaterializeOptions{})
	require.NoError(t, err)
	require.True(t, second.CacheHit)

	_, err = g.CreateEntityBTR(ctx, "n1", []byte("k"))
	require.Error(t, err)
}

package syncproto

import (
	"context"
	"testing"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/memstore"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/msgcodec"
	"github.com/git-stunts/warpgraph/internal/refs"
	"github.com/git-stunts/warpgraph/internal/state"
	"github.com/stretchr/testify/require"
)

func commitPatch(t *testing.T, ctx context.Context, store *memstore.Memory, codec *canon.Codec, graph, writer string, lamport uint64, parent string, op model.Op) string {
	t.Helper()
	patch := model.Patch{Schema: model.Schema2, Writer: writer, Lamport: lamport, Ops: []model.Op{op}}
	blob, err := codec.Encode(patch)
	require.NoError(t, err)
	oid, err := store.WriteBlob(ctx, blob)
	require.NoError(t, err)
	msg, err := msgcodec.BuildPatchMessage(graph, writer, lamport, oid, model.Schema2)
	require.NoError(t, err)
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}
	sha, err := store.CommitNode(ctx, msg, parents, false)
	require.NoError(t, err)
	ref, err := refs.WriterTip(graph, writer)
	require.NoError(t, err)
	require.NoError(t, store.UpdateRef(ctx, ref, sha))
	return sha
}

func TestSyncNeededDetectsDifference(t *testing.T) {
	require.True(t, SyncNeeded(Frontier{"alice": "a"}, Frontier{"alice": "b"}))
	require.True(t, SyncNeeded(Frontier{"alice": "a"}, Frontier{}))
	require.False(t, SyncNeeded(Frontier{"alice": "a"}, Frontier{"alice": "a"}))
}

func TestBuildResponseTransfersMissingPatches(t *testing.T) {
	ctx := context.Background()
	codec := canon.New()
	store := memstore.NewMemory()

	sha1 := commitPatch(t, ctx, store, codec, "g", "alice", 1, "", model.Op{Kind: model.OpNodeAdd, Node: "a", Dot: crdt.Dot{Writer: "alice", Seq: 1}})
	sha2 := commitPatch(t, ctx, store, codec, "g", "alice", 2, sha1, model.Op{Kind: model.OpNodeAdd, Node: "b", Dot: crdt.Dot{Writer: "alice", Seq: 2}})
	_ = sha2

	resp, err := BuildResponse(ctx, store, codec, "g", Frontier{})
	require.NoError(t, err)
	require.Len(t, resp.Patches, 2)
	require.Equal(t, sha1, resp.Patches[0].SHA)
	require.Equal(t, sha2, resp.Patches[1].SHA)

	// Requester already has sha1: only sha2 should transfer.
	resp2, err := BuildResponse(ctx, store, codec, "g", Frontier{"alice": sha1})
	require.NoError(t, err)
	require.Len(t, resp2.Patches, 1)
	require.Equal(t, sha2, resp2.Patches[0].SHA)
}

func TestApplyResponseFoldsAndMergesFrontier(t *testing.T) {
	s := state.New()
	lastFrontier := Frontier{}
	resp := Response{
		Frontier: Frontier{"alice": "sha2"},
		Patches: []WirePatch{
			{WriterID: "alice", SHA: "sha1", Patch: model.Patch{Writer: "alice", Lamport: 1, Ops: []model.Op{
				{Kind: model.OpNodeAdd, Node: "x", Dot: crdt.Dot{Writer: "alice", Seq: 1}},
			}}},
		},
	}
	result, err := ApplyResponse(s, lastFrontier, resp)
	require.NoError(t, err)
	require.Equal(t, 1, result.Applied)
	require.True(t, s.NodeVisible("x"))
	require.Equal(t, "sha2", lastFrontier["alice"])
}

func TestPersistPatchesMakesSyncedWritersVisibleToLocalFrontier(t *testing.T) {
	producerCtx := context.Background()
	codec := canon.New()
	producer := memstore.NewMemory()
	consumer := memstore.NewMemory()

	sha1 := commitPatch(t, producerCtx, producer, codec, "g", "alice", 1, "", model.Op{Kind: model.OpNodeAdd, Node: "a", Dot: crdt.Dot{Writer: "alice", Seq: 1}})
	commitPatch(t, producerCtx, producer, codec, "g", "alice", 2, sha1, model.Op{Kind: model.OpNodeAdd, Node: "b", Dot: crdt.Dot{Writer: "alice", Seq: 2}})

	resp, err := BuildResponse(producerCtx, producer, codec, "g", Frontier{})
	require.NoError(t, err)
	require.Len(t, resp.Patches, 2)

	ctx := context.Background()
	before, err := LocalFrontier(ctx, consumer, "g")
	require.NoError(t, err)
	require.Empty(t, before)

	result, err := PersistPatches(ctx, consumer, codec, "g", resp.Patches)
	require.NoError(t, err)
	require.Len(t, result.SHAs, 2)
	require.NotEmpty(t, result.Frontier["alice"])

	after, err := LocalFrontier(ctx, consumer, "g")
	require.NoError(t, err)
	require.Equal(t, result.Frontier["alice"], after["alice"])
	require.False(t, SyncNeeded(result.Frontier, after))

	// Re-persisting the same patches is idempotent: the tip doesn't move.
	result2, err := PersistPatches(ctx, consumer, codec, "g", resp.Patches)
	require.NoError(t, err)
	require.Equal(t, result.Frontier["alice"], result2.Frontier["alice"])
}

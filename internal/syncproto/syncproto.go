// Package syncproto implements the peer synchronization protocol of
// spec §4.10: frontier exchange, the responder's per-writer commit-tail
// walk, syncNeeded, and response application against a cached state.
//
// Grounded on the teacher's internal/sync/commits.go, which walks a
// writer's commit history into graph edges; the same walk-and-collect
// shape is generalized here to a causal frontier comparison instead of
// a one-shot full-history import.
package syncproto

import (
	"context"
	"fmt"
	"sort"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/msgcodec"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/reducer"
	"github.com/git-stunts/warpgraph/internal/refs"
	"github.com/git-stunts/warpgraph/internal/state"
)

// Frontier maps writer id to its tip commit sha.
type Frontier map[string]string

// Clone returns an independent copy.
func (f Frontier) Clone() Frontier {
	out := make(Frontier, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Merge advances f to include every entry of other, overwriting f's
// existing value for a writer only if other has a different tip.
func (f Frontier) Merge(other Frontier) {
	for writer, sha := range other {
		f[writer] = sha
	}
}

// Request is the wire shape of a sync request, per spec §4.10.
type Request struct {
	Type     string   `json:"type"`
	Frontier Frontier `json:"frontier"`
}

// BuildRequest returns a sync request carrying local's current frontier.
func BuildRequest(local Frontier) Request {
	return Request{Type: "sync-request", Frontier: local.Clone()}
}

// WirePatch pairs a writer-tagged patch with its commit sha, the unit
// a sync response transfers.
type WirePatch struct {
	WriterID string      `json:"writerId"`
	SHA      string      `json:"sha"`
	Patch    model.Patch `json:"patch"`
}

// Response is the wire shape of a sync response, per spec §4.10.
type Response struct {
	Type     string      `json:"type"`
	Frontier Frontier    `json:"frontier"`
	Patches  []WirePatch `json:"patches"`
}

// LocalFrontier scans every writer ref under graph and returns the
// current tip frontier.
func LocalFrontier(ctx context.Context, store ports.PersistencePort, graph string) (Frontier, error) {
	prefix, err := refs.WritersPrefix(graph)
	if err != nil {
		return nil, err
	}
	writerRefs, err := store.ListRefs(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("syncproto: listing writer refs: %w", err)
	}
	out := make(Frontier, len(writerRefs))
	for _, ref := range writerRefs {
		_, writer, err := refs.ParseWriterTip(ref)
		if err != nil {
			continue
		}
		sha, ok, err := store.ReadRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("syncproto: reading %s: %w", ref, err)
		}
		if ok {
			out[writer] = sha
		}
	}
	return out, nil
}

// SyncNeeded reports whether remote's frontier differs from local's for
// any writer: a writer present in one but not the other, or present in
// both with different tips, both count (spec §4.10).
func SyncNeeded(local, remote Frontier) bool {
	if len(local) != len(remote) {
		return true
	}
	for writer, sha := range local {
		if remote[writer] != sha {
			return true
		}
	}
	return false
}

// BuildResponse walks, for every local writer, back from its tip until
// it reaches the sha the requester already has (remoteFrontier[writer])
// or the chain origin, collecting every patch commit along the way.
func BuildResponse(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, graph string, remoteFrontier Frontier) (Response, error) {
	local, err := LocalFrontier(ctx, store, graph)
	if err != nil {
		return Response{}, err
	}

	var patches []WirePatch
	for writer, tip := range local {
		known := remoteFrontier[writer]
		tail, err := walkTail(ctx, store, codec, writer, tip, known)
		if err != nil {
			return Response{}, err
		}
		patches = append(patches, tail...)
	}

	return Response{Type: "sync-response", Frontier: local, Patches: patches}, nil
}

// walkTail collects patch commits for writer from tip back to (but not
// including) known, oldest first.
func walkTail(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, writer, tip, known string) ([]WirePatch, error) {
	var collected []WirePatch
	sha := tip
	for sha != "" && sha != known {
		info, err := store.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, fmt.Errorf("syncproto: reading commit %s: %w", sha, err)
		}
		if msgcodec.DetectMessageKind(info.Message) == msgcodec.KindPatch {
			trailers, err := msgcodec.ParseTrailers(info.Message)
			if err != nil {
				return nil, fmt.Errorf("syncproto: parsing trailers of %s: %w", sha, err)
			}
			patchOID := trailers["eg-patch-oid"]
			raw, err := store.ReadBlob(ctx, patchOID)
			if err != nil {
				return nil, fmt.Errorf("syncproto: reading patch blob %s: %w", patchOID, err)
			}
			var patch model.Patch
			if err := codec.Decode(raw, &patch); err != nil {
				return nil, fmt.Errorf("syncproto: decoding patch blob %s: %w", patchOID, err)
			}
			collected = append(collected, WirePatch{WriterID: writer, SHA: sha, Patch: patch})
		}
		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}
	// Reverse into oldest-first order.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// ApplyResult is the outcome of ApplyResponse.
type ApplyResult struct {
	State   *state.State
	Applied int
}

// ApplyResponse folds resp's patches into s's cached state (mutated in
// place) and merges resp's frontier into lastFrontier, per spec §4.10.
func ApplyResponse(s *state.State, lastFrontier Frontier, resp Response) (ApplyResult, error) {
	pairs := make([]reducer.PatchWithSHA, len(resp.Patches))
	for i, wp := range resp.Patches {
		pairs[i] = reducer.PatchWithSHA{Patch: wp.Patch, SHA: wp.SHA}
	}
	reducer.SortCausally(pairs)
	if _, err := reducer.Fold(s, pairs); err != nil {
		return ApplyResult{}, fmt.Errorf("syncproto: applying sync response: %w", err)
	}
	lastFrontier.Merge(resp.Frontier)
	return ApplyResult{State: s, Applied: len(pairs)}, nil
}

// PersistResult is the outcome of PersistPatches: the local commit sha
// each input patch was written under (same order and length as the
// input slice) and the resulting tip frontier for every writer touched.
type PersistResult struct {
	Frontier Frontier
	SHAs     []string
}

// PersistPatches writes a sync response's patches into the local store
// as commits under each patch's writer, so a subsequent LocalFrontier
// scan sees them the same way it sees locally authored commits. Without
// this, a frontier advanced only in memory (via ApplyResponse's
// lastFrontier.Merge) would diverge from the store on the very next
// local scan, and anything keyed off a sha this package hands out
// (checkpoints, provenance, GC) would point at commits the local store
// never actually has.
//
// Each writer's existing local tip, if any, becomes the parent of the
// first patch persisted for that writer here. A patch whose sha already
// names a commit in the local store is skipped, which makes
// re-persisting an already-known patch a no-op rather than a duplicate. Patches are imported unsigned: the
// signature on a commit is the authoring writer's attestation, and a
// replica importing someone else's patch is not re-authoring it.
func PersistPatches(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, graph string, patches []WirePatch) (PersistResult, error) {
	tips := make(map[string]string, len(patches))
	out := PersistResult{Frontier: make(Frontier, len(patches)), SHAs: make([]string, len(patches))}

	for i, wp := range patches {
		writer := wp.WriterID
		if writer == "" {
			writer = wp.Patch.Writer
		}
		tipRef, err := refs.WriterTip(graph, writer)
		if err != nil {
			return PersistResult{}, err
		}

		parent, known := tips[writer]
		if !known {
			sha, found, rerr := store.ReadRef(ctx, tipRef)
			if rerr != nil {
				return PersistResult{}, fmt.Errorf("syncproto: reading %s: %w", tipRef, rerr)
			}
			if found {
				parent = sha
			}
		}

		// A commit already in the local store under wp.SHA is this same
		// patch, persisted earlier: keep the writer's chain as it is.
		if parent != "" && wp.SHA != "" {
			if _, ierr := store.GetNodeInfo(ctx, wp.SHA); ierr == nil {
				tips[writer] = parent
				out.Frontier[writer] = parent
				out.SHAs[i] = wp.SHA
				continue
			}
		}

		encoded, eerr := codec.Encode(wp.Patch)
		if eerr != nil {
			return PersistResult{}, fmt.Errorf("syncproto: encoding patch: %w", eerr)
		}
		patchOID, werr := store.WriteBlob(ctx, encoded)
		if werr != nil {
			return PersistResult{}, fmt.Errorf("syncproto: writing patch blob: %w", werr)
		}
		message, merr := msgcodec.BuildPatchMessage(graph, writer, wp.Patch.Lamport, patchOID, wp.Patch.Schema)
		if merr != nil {
			return PersistResult{}, merr
		}

		var parents []string
		if parent != "" {
			parents = []string{parent}
		}
		sha, cerr := store.CommitNode(ctx, message, parents, false)
		if cerr != nil {
			return PersistResult{}, fmt.Errorf("syncproto: persisting synced commit: %w", cerr)
		}
		if uerr := store.UpdateRef(ctx, tipRef, sha); uerr != nil {
			return PersistResult{}, fmt.Errorf("syncproto: updating %s: %w", tipRef, uerr)
		}

		tips[writer] = sha
		out.Frontier[writer] = sha
		out.SHAs[i] = sha
	}

	return out, nil
}

// sortedWriters is a small helper used by callers (e.g. httpsync) that
// want deterministic iteration order over a Frontier for logging or
// canonical encoding.
func sortedWriters(f Frontier) []string {
	out := make([]string, 0, len(f))
	for w := range f {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// SortedWriters exports sortedWriters for callers outside this package.
func SortedWriters(f Frontier) []string { return sortedWriters(f) }

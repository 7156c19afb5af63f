// Package warpgraph implements the orchestrator described in spec §4.8:
// materialize/status/commit/checkpoint/sync-coverage over a
// PersistencePort, wiring together internal/reducer, internal/state,
// internal/provenance, internal/seekcache, and internal/syncproto into
// a single per-graph handle.
//
// Grounded on the teacher's internal/graph/builder.go Builder and
// internal/cache/manager.go Manager: a struct that owns a mutable
// cached projection over an external store, exposing read accessors
// gated on freshness and a single entry point that rebuilds the cache,
// generalized here to CRDT state instead of a dependency graph.
package warpgraph

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/keycodec"
	"github.com/git-stunts/warpgraph/internal/logging"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/msgcodec"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/provenance"
	"github.com/git-stunts/warpgraph/internal/reducer"
	"github.com/git-stunts/warpgraph/internal/refs"
	"github.com/git-stunts/warpgraph/internal/seekcache"
	"github.com/git-stunts/warpgraph/internal/state"
	"github.com/git-stunts/warpgraph/internal/syncauth"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/git-stunts/warpgraph/internal/warperrors"
	"golang.org/x/sync/singleflight"
)

// Config configures a WarpGraph instance.
type Config struct {
	Graph string
	// Writer is this instance's commit identity. Required for Commit,
	// CreateCheckpoint, and SyncCoverage; optional for read-only use.
	Writer string
	// AutoMaterialize transparently runs Materialize before a read when
	// the cache is missing or stale, instead of returning E_NO_STATE /
	// E_STALE_STATE.
	AutoMaterialize bool
	// MaxSchema caps the op vocabulary this instance accepts, per spec
	// §4.5's schema gate. Defaults to model.Schema3.
	MaxSchema model.SchemaVersion
	// Sign is passed through to every CommitNode call.
	Sign bool
	// WriterAllowList, when non-empty, restricts HandleSyncRequest to
	// returning only patches whose referenced writers are all on the
	// list. This is the orchestrator's per-op enforcement layer; the
	// HTTP transport (internal/httpsync) separately checks the
	// request's frontier keys before a request ever reaches here.
	WriterAllowList []string
}

// MaterializeOptions parameterize Materialize.
type MaterializeOptions struct {
	// Ceiling, if non-zero, bounds the fold to patches with Lamport <=
	// Ceiling.
	Ceiling uint64
	// Receipts requests per-patch TickReceipts in the result. Per spec
	// §4.12, a materialize that asks for receipts never writes the
	// seek cache (the cached snapshot carries no receipts, so a cache
	// hit could never satisfy a receipts request anyway).
	Receipts bool
}

// MaterializeResult is the outcome of Materialize or MaterializeAt.
type MaterializeResult struct {
	State    *state.State
	Frontier syncproto.Frontier
	Receipts []reducer.TickReceipt
	CacheHit bool
}

// CommitResult is the outcome of a successful PatchBuilder.Commit.
type CommitResult struct {
	SHA     string
	Patch   model.Patch
	Receipt reducer.TickReceipt
}

// CheckpointResult is the outcome of CreateCheckpoint.
type CheckpointResult struct {
	SHA       string
	StateHash string
}

// CacheState names the freshness of the cached materialized state, per
// spec §4.8's status() shape.
type CacheState string

const (
	CacheFresh CacheState = "fresh"
	CacheStale CacheState = "stale"
	CacheNone  CacheState = "none"
)

// Status is the lightweight, O(writers) snapshot spec §4.8 requires
// status() to return without ever materializing.
type Status struct {
	CachedState            CacheState
	PatchesSinceCheckpoint int
	TombstoneRatio         float64
	Writers                []string
	Frontier               syncproto.Frontier
}

// WarpGraph is one graph's handle over a PersistencePort: cached CRDT
// state, the provenance index that state was built with, and the
// frontier the cache was last built against. Per spec §5, these fields
// are owned exclusively by this instance and mutated only through its
// own methods; nothing here is safe to share across instances pointed
// at the same graph without external coordination.
type WarpGraph struct {
	store  ports.PersistencePort
	codec  *canon.Codec
	crypto ports.CryptoPort
	logger *logging.Logger
	seek   *seekcache.Cache
	cfg    Config

	mu                     sync.Mutex
	state                  *state.State
	provIndex              *provenance.Index
	lastFrontier           syncproto.Frontier
	stateDirty             bool
	provenanceDegraded     bool
	patchesSinceCheckpoint int
	localSeq               uint64
	localSeqInit           bool

	group singleflight.Group
}

// New constructs a WarpGraph over store. seek may be nil to disable
// the seek cache. logger must not be nil.
func New(store ports.PersistencePort, codec *canon.Codec, crypto ports.CryptoPort, seek *seekcache.Cache, logger *logging.Logger, cfg Config) (*WarpGraph, error) {
	if err := refs.ValidateGraph(cfg.Graph); err != nil {
		return nil, err
	}
	if cfg.Writer != "" {
		if err := refs.ValidateWriter(cfg.Writer); err != nil {
			return nil, err
		}
	}
	if cfg.MaxSchema == 0 {
		cfg.MaxSchema = model.Schema3
	}
	return &WarpGraph{
		store:  store,
		codec:  codec,
		crypto: crypto,
		logger: logger,
		seek:   seek,
		cfg:    cfg,
	}, nil
}

// HasFrontierChanged reports whether the graph's current writer tips
// differ from the frontier the cache was last built against.
func (g *WarpGraph) HasFrontierChanged(ctx context.Context) (bool, error) {
	current, err := syncproto.LocalFrontier(ctx, g.store, g.cfg.Graph)
	if err != nil {
		return false, fmt.Errorf("warpgraph: checking frontier: %w", err)
	}
	g.mu.Lock()
	last := g.lastFrontier
	g.mu.Unlock()
	return syncproto.SyncNeeded(last, current), nil
}

// ensureFresh guarantees the cached state is usable for a read,
// auto-materializing when configured to, per spec §4.8.
func (g *WarpGraph) ensureFresh(ctx context.Context) error {
	g.mu.Lock()
	hasState := g.state != nil
	dirty := g.stateDirty
	g.mu.Unlock()

	if !hasState {
		if !g.cfg.AutoMaterialize {
			return warperrors.NoState()
		}
		_, err := g.Materialize(ctx, MaterializeOptions{})
		return err
	}

	changed, err := g.HasFrontierChanged(ctx)
	if err != nil {
		return err
	}
	if changed || dirty {
		if !g.cfg.AutoMaterialize {
			return warperrors.StaleState()
		}
		_, err := g.Materialize(ctx, MaterializeOptions{})
		return err
	}
	return nil
}

// Materialize reduces every patch in the graph (or every patch up to
// Ceiling) into a fresh cached state, persisting a seek-cache snapshot
// and rebuilding the provenance index, per spec §4.8. Concurrent calls
// with the same ceiling are deduplicated via singleflight.
func (g *WarpGraph) Materialize(ctx context.Context, opts MaterializeOptions) (*MaterializeResult, error) {
	key := strconv.FormatUint(opts.Ceiling, 10)
	if opts.Receipts {
		key += ":receipts"
	}
	v, err, _ := g.group.Do(key, func() (interface{}, error) {
		return g.doMaterialize(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MaterializeResult), nil
}

func (g *WarpGraph) doMaterialize(ctx context.Context, opts MaterializeOptions) (result *MaterializeResult, err error) {
	timer := g.logger.StartOp("materialize", g.cfg.Graph, g.cfg.Writer)
	defer func() { timer.Done(err) }()

	frontier, ferr := syncproto.LocalFrontier(ctx, g.store, g.cfg.Graph)
	if ferr != nil {
		err = fmt.Errorf("warpgraph: materialize: %w", ferr)
		return nil, err
	}

	if g.seek != nil && !opts.Receipts {
		cacheKey := seekcache.Key(opts.Ceiling, frontier)
		if snap, ok := g.seek.Get(cacheKey); ok {
			s := state.FromSnapshot(snap)
			g.mu.Lock()
			g.state = s
			g.provIndex = nil
			g.lastFrontier = frontier.Clone()
			g.stateDirty = false
			g.provenanceDegraded = true
			g.mu.Unlock()
			return &MaterializeResult{State: s, Frontier: frontier, CacheHit: true}, nil
		}
	}

	resp, berr := syncproto.BuildResponse(ctx, g.store, g.codec, g.cfg.Graph, syncproto.Frontier{})
	if berr != nil {
		err = fmt.Errorf("warpgraph: materialize: walking history: %w", berr)
		return nil, err
	}

	pairs := make([]reducer.PatchWithSHA, 0, len(resp.Patches))
	for _, wp := range resp.Patches {
		if opts.Ceiling > 0 && wp.Patch.Lamport > opts.Ceiling {
			continue
		}
		if verr := msgcodec.AssertOpsCompatible(wp.Patch.Ops, g.cfg.MaxSchema); verr != nil {
			err = warperrors.SchemaUnsupported(int(wp.Patch.Schema), int(g.cfg.MaxSchema))
			return nil, err
		}
		pairs = append(pairs, reducer.PatchWithSHA{Patch: wp.Patch, SHA: wp.SHA})
	}
	reducer.SortCausally(pairs)

	s := state.New()
	receipts, frerr := reducer.Fold(s, pairs)
	if frerr != nil {
		err = fmt.Errorf("warpgraph: materialize: folding patches: %w", frerr)
		return nil, err
	}

	idx := provenance.NewIndex()
	for _, pws := range pairs {
		idx.Record(patchWriteEntityIDs(pws.Patch), pws.SHA)
	}

	g.mu.Lock()
	g.state = s
	g.provIndex = idx
	g.lastFrontier = frontier.Clone()
	g.stateDirty = false
	g.provenanceDegraded = false
	g.mu.Unlock()

	if g.seek != nil && !opts.Receipts && len(pairs) > 0 {
		if snap, serr := s.Snapshot(); serr == nil {
			g.seek.Put(seekcache.Key(opts.Ceiling, frontier), snap)
		}
	}

	result = &MaterializeResult{State: s, Frontier: frontier}
	if opts.Receipts {
		result.Receipts = receipts
	}
	return result, nil
}

// MaterializeAt reduces the graph up to a specific checkpoint commit,
// verifying the fold reproduces the checkpoint's recorded state hash.
// It does not mutate this instance's live cache: the result is a
// point-in-time view, independent of whatever the writer tips have
// since advanced to.
func (g *WarpGraph) MaterializeAt(ctx context.Context, checkpointSHA string) (*MaterializeResult, error) {
	info, err := g.store.GetNodeInfo(ctx, checkpointSHA)
	if err != nil {
		return nil, fmt.Errorf("warpgraph: reading checkpoint %s: %w", checkpointSHA, err)
	}
	if msgcodec.DetectMessageKind(info.Message) != msgcodec.KindCheckpoint {
		return nil, fmt.Errorf("warpgraph: %s is not a checkpoint commit", checkpointSHA)
	}
	trailers, err := msgcodec.ParseTrailers(info.Message)
	if err != nil {
		return nil, err
	}

	frontierRaw, err := g.store.ReadBlob(ctx, trailers["eg-frontier-oid"])
	if err != nil {
		return nil, fmt.Errorf("warpgraph: reading checkpoint frontier: %w", err)
	}
	var frontier syncproto.Frontier
	if err := g.codec.Decode(frontierRaw, &frontier); err != nil {
		return nil, fmt.Errorf("warpgraph: decoding checkpoint frontier: %w", err)
	}

	pairs, err := g.walkFrontierPatches(ctx, frontier)
	if err != nil {
		return nil, err
	}
	reducer.SortCausally(pairs)

	s := state.New()
	receipts, err := reducer.Fold(s, pairs)
	if err != nil {
		return nil, fmt.Errorf("warpgraph: materializeAt: folding patches: %w", err)
	}

	stateHash, err := state.ComputeStateHash(s, g.codec)
	if err != nil {
		return nil, err
	}
	if stateHash != trailers["eg-state-hash"] {
		return nil, fmt.Errorf("warpgraph: checkpoint %s state hash mismatch: got %s want %s", checkpointSHA, stateHash, trailers["eg-state-hash"])
	}

	return &MaterializeResult{State: s, Frontier: frontier, Receipts: receipts}, nil
}

// walkFrontierPatches walks every writer in frontier from its recorded
// tip back to the chain origin, collecting patch commits newest-first
// per writer; callers that need causal order sort the result. Used by MaterializeAt (frontier pinned to a checkpoint)
// and GC (frontier pinned to the latest checkpoint).
func (g *WarpGraph) walkFrontierPatches(ctx context.Context, frontier syncproto.Frontier) ([]reducer.PatchWithSHA, error) {
	var pairs []reducer.PatchWithSHA
	for _, tip := range frontier {
		sha := tip
		for sha != "" {
			info, err := g.store.GetNodeInfo(ctx, sha)
			if err != nil {
				return nil, fmt.Errorf("warpgraph: reading commit %s: %w", sha, err)
			}
			if msgcodec.DetectMessageKind(info.Message) == msgcodec.KindPatch {
				trailers, err := msgcodec.ParseTrailers(info.Message)
				if err != nil {
					return nil, err
				}
				raw, err := g.store.ReadBlob(ctx, trailers["eg-patch-oid"])
				if err != nil {
					return nil, fmt.Errorf("warpgraph: reading patch blob: %w", err)
				}
				var patch model.Patch
				if err := g.codec.Decode(raw, &patch); err != nil {
					return nil, fmt.Errorf("warpgraph: decoding patch blob: %w", err)
				}
				pairs = append(pairs, reducer.PatchWithSHA{Patch: patch, SHA: sha})
			}
			if len(info.Parents) == 0 {
				break
			}
			sha = info.Parents[0]
		}
	}
	return pairs, nil
}

// patchWriteEntityIDs returns the entity ids patch's ops write to
// (never merely read), for provenance indexing. model.Op.EntityIDs
// doesn't cover edge ops (to avoid an import cycle with keycodec), so
// edge adds/tombstones are encoded here instead.
func patchWriteEntityIDs(patch model.Patch) []string {
	var ids []string
	for _, op := range patch.Ops {
		switch op.Kind {
		case model.OpNodeAdd, model.OpNodeTombstone:
			ids = append(ids, op.Node)
		case model.OpEdgeAdd, model.OpEdgeTombstone:
			if key, err := keycodec.EncodeEdgeKey(op.From, op.To, op.Label); err == nil {
				ids = append(ids, key)
			}
		case model.OpPropSet:
			ids = append(ids, op.Target)
		}
	}
	return ids
}

// HasNode reports whether node is live in the cached state.
func (g *WarpGraph) HasNode(ctx context.Context, node string) (bool, error) {
	if err := g.ensureFresh(ctx); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.NodeVisible(node), nil
}

// GetNodes returns every live node in the cached state, sorted.
func (g *WarpGraph) GetNodes(ctx context.Context) ([]string, error) {
	if err := g.ensureFresh(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	proj, err := g.state.Project()
	if err != nil {
		return nil, err
	}
	return proj.Nodes, nil
}

// GetEdges returns every live edge in the cached state.
func (g *WarpGraph) GetEdges(ctx context.Context) ([]state.EdgeTriple, error) {
	if err := g.ensureFresh(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	proj, err := g.state.Project()
	if err != nil {
		return nil, err
	}
	return proj.Edges, nil
}

// GetNodeProps returns node's visible properties, or nil if node isn't
// currently live.
func (g *WarpGraph) GetNodeProps(ctx context.Context, node string) (map[string]interface{}, error) {
	if err := g.ensureFresh(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.state.NodeVisible(node) {
		return nil, nil
	}
	out := make(map[string]interface{})
	for propKey, reg := range g.state.Prop {
		if !g.state.PropVisible(propKey) {
			continue
		}
		entity, key, err := keycodec.DecodePropKey(propKey)
		if err != nil || entity != node {
			continue
		}
		out[key] = reg.Value
	}
	return out, nil
}

// Neighbors returns the set of nodes reachable from node by one live
// edge, in either direction.
func (g *WarpGraph) Neighbors(ctx context.Context, node string) ([]string, error) {
	if err := g.ensureFresh(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	proj, err := g.state.Project()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(n string) {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	for _, e := range proj.Edges {
		if e.From == node {
			add(e.To)
		}
		if e.To == node {
			add(e.From)
		}
	}
	return out, nil
}

// PatchBuilder accumulates ops for a single patch. Build one with
// CreatePatch, add ops with the fluent setters, then Commit.
type PatchBuilder struct {
	g     *WarpGraph
	ops   []model.Op
	reads []string
	err   error
}

// CreatePatch returns an empty PatchBuilder for this graph.
func (g *WarpGraph) CreatePatch() *PatchBuilder {
	return &PatchBuilder{g: g}
}

func (b *PatchBuilder) nextDot() crdt.Dot {
	g := b.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.localSeqInit {
		if g.state != nil {
			g.localSeq = g.state.VersionVector[g.cfg.Writer]
		}
		g.localSeqInit = true
	}
	g.localSeq++
	return crdt.Dot{Writer: g.cfg.Writer, Seq: g.localSeq}
}

// AddNode adds node to the patch.
func (b *PatchBuilder) AddNode(node string) *PatchBuilder {
	b.ops = append(b.ops, model.Op{Kind: model.OpNodeAdd, Node: node, Dot: b.nextDot()})
	return b
}

// RemoveNode tombstones node, observing its currently-live dots.
func (b *PatchBuilder) RemoveNode(node string) *PatchBuilder {
	b.g.mu.Lock()
	var dots []crdt.Dot
	if b.g.state != nil {
		dots = b.g.state.NodeAlive.LiveDots(node)
	}
	b.g.mu.Unlock()
	b.ops = append(b.ops, model.Op{Kind: model.OpNodeTombstone, Node: node, ObservedDots: dots})
	return b
}

// AddEdge adds the (from, to, label) edge to the patch.
func (b *PatchBuilder) AddEdge(from, to, label string) *PatchBuilder {
	b.ops = append(b.ops, model.Op{Kind: model.OpEdgeAdd, From: from, To: to, Label: label, Dot: b.nextDot()})
	return b
}

// RemoveEdge tombstones the (from, to, label) edge, observing its
// currently-live dots.
func (b *PatchBuilder) RemoveEdge(from, to, label string) *PatchBuilder {
	edgeKey, err := keycodec.EncodeEdgeKey(from, to, label)
	if err != nil {
		b.err = err
		return b
	}
	b.g.mu.Lock()
	var dots []crdt.Dot
	if b.g.state != nil {
		dots = b.g.state.EdgeAlive.LiveDots(edgeKey)
	}
	b.g.mu.Unlock()
	b.ops = append(b.ops, model.Op{Kind: model.OpEdgeTombstone, From: from, To: to, Label: label, ObservedDots: dots})
	return b
}

// SetNodeProp sets a property on node.
func (b *PatchBuilder) SetNodeProp(node, key string, value interface{}) *PatchBuilder {
	b.ops = append(b.ops, model.Op{Kind: model.OpPropSet, Target: node, Key: key, Value: value, Dot: b.nextDot()})
	return b
}

// SetEdgeProp sets a property on the (from, to, label) edge. Requires
// MaxSchema >= Schema3.
func (b *PatchBuilder) SetEdgeProp(from, to, label, key string, value interface{}) *PatchBuilder {
	target, err := keycodec.EncodeEdgePropKey(from, to, label)
	if err != nil {
		b.err = err
		return b
	}
	b.ops = append(b.ops, model.Op{Kind: model.OpPropSet, Target: target, Key: key, Value: value, Dot: b.nextDot()})
	return b
}

// Read records entityID as a causal dependency this patch's author
// observed, without necessarily mutating it — input to the backward
// causal-cone walk.
func (b *PatchBuilder) Read(entityID string) *PatchBuilder {
	b.reads = append(b.reads, entityID)
	return b
}

// Commit validates, encodes, and writes the accumulated ops as a new
// patch commit, advancing this writer's ref and eagerly folding the
// patch into the cached state so a subsequent read sees it without a
// full Materialize, per spec §4.8.
func (b *PatchBuilder) Commit(ctx context.Context) (result *CommitResult, err error) {
	if b.err != nil {
		return nil, b.err
	}
	g := b.g
	timer := g.logger.StartOp("commit", g.cfg.Graph, g.cfg.Writer)
	defer func() { timer.Done(err) }()

	if g.cfg.Writer == "" {
		err = fmt.Errorf("warpgraph: commit requires a writer identity")
		return nil, err
	}
	if len(b.ops) == 0 {
		err = fmt.Errorf("warpgraph: patch has no ops")
		return nil, err
	}

	schema := msgcodec.DetectSchemaVersion(b.ops)
	if aerr := msgcodec.AssertOpsCompatible(b.ops, g.cfg.MaxSchema); aerr != nil {
		err = warperrors.SchemaUnsupported(int(schema), int(g.cfg.MaxSchema))
		return nil, err
	}

	tipRef, rerr := refs.WriterTip(g.cfg.Graph, g.cfg.Writer)
	if rerr != nil {
		err = rerr
		return nil, err
	}
	parentSHA, hasParent, rerr := g.store.ReadRef(ctx, tipRef)
	if rerr != nil {
		err = fmt.Errorf("warpgraph: reading writer tip: %w", rerr)
		return nil, err
	}

	var parentLamport uint64
	if hasParent {
		info, ierr := g.store.GetNodeInfo(ctx, parentSHA)
		if ierr != nil {
			err = fmt.Errorf("warpgraph: reading parent commit: %w", ierr)
			return nil, err
		}
		if trailers, terr := msgcodec.ParseTrailers(info.Message); terr == nil {
			if n, perr := strconv.ParseUint(trailers["eg-lamport"], 10, 64); perr == nil {
				parentLamport = n
			}
		}
	}

	g.mu.Lock()
	var observedLamport uint64
	context := crdt.VersionVector{}
	if g.state != nil {
		observedLamport = g.state.VersionVector[g.cfg.Writer]
		context = g.state.VersionVector.Clone()
	}
	g.mu.Unlock()

	lamport := parentLamport
	if observedLamport > lamport {
		lamport = observedLamport
	}
	lamport++

	patch := model.Patch{
		Schema:  schema,
		Writer:  g.cfg.Writer,
		Lamport: lamport,
		Context: context,
		Ops:     b.ops,
		Reads:   b.reads,
	}

	encoded, eerr := g.codec.Encode(patch)
	if eerr != nil {
		err = fmt.Errorf("warpgraph: encoding patch: %w", eerr)
		return nil, err
	}
	patchOID, werr := g.store.WriteBlob(ctx, encoded)
	if werr != nil {
		err = fmt.Errorf("warpgraph: writing patch blob: %w", werr)
		return nil, err
	}

	message, merr := msgcodec.BuildPatchMessage(g.cfg.Graph, g.cfg.Writer, lamport, patchOID, schema)
	if merr != nil {
		err = merr
		return nil, err
	}

	var parents []string
	if hasParent {
		parents = []string{parentSHA}
	}
	sha, cerr := g.store.CommitNode(ctx, message, parents, g.cfg.Sign)
	if cerr != nil {
		err = fmt.Errorf("warpgraph: committing patch: %w", cerr)
		return nil, err
	}
	if uerr := g.store.UpdateRef(ctx, tipRef, sha); uerr != nil {
		err = fmt.Errorf("warpgraph: updating writer tip: %w", uerr)
		return nil, err
	}

	g.mu.Lock()
	if g.state == nil {
		g.state = state.New()
		g.provIndex = provenance.NewIndex()
	}
	receipts, ferr := reducer.Fold(g.state, []reducer.PatchWithSHA{{Patch: patch, SHA: sha}})
	if ferr != nil {
		g.mu.Unlock()
		err = fmt.Errorf("warpgraph: folding own commit: %w", ferr)
		return nil, err
	}
	if g.provIndex != nil {
		g.provIndex.Record(patchWriteEntityIDs(patch), sha)
	}
	if g.lastFrontier == nil {
		g.lastFrontier = syncproto.Frontier{}
	}
	g.lastFrontier[g.cfg.Writer] = sha
	g.patchesSinceCheckpoint++
	g.mu.Unlock()

	result = &CommitResult{SHA: sha, Patch: patch, Receipt: receipts[0]}
	return result, nil
}

// CreateCheckpoint materializes (if stale) and commits a checkpoint
// recording the current state hash, frontier, and provenance index,
// per spec §4.8.
func (g *WarpGraph) CreateCheckpoint(ctx context.Context) (result *CheckpointResult, err error) {
	timer := g.logger.StartOp("checkpoint", g.cfg.Graph, g.cfg.Writer)
	defer func() { timer.Done(err) }()

	g.mu.Lock()
	needsMaterialize := g.state == nil || g.stateDirty
	g.mu.Unlock()
	if !needsMaterialize {
		changed, cerr := g.HasFrontierChanged(ctx)
		if cerr != nil {
			err = cerr
			return nil, err
		}
		needsMaterialize = changed
	}
	if needsMaterialize {
		if _, merr := g.Materialize(ctx, MaterializeOptions{}); merr != nil {
			err = merr
			return nil, err
		}
	}

	g.mu.Lock()
	s := g.state
	frontier := g.lastFrontier.Clone()
	idx := g.provIndex
	g.mu.Unlock()

	stateHash, herr := state.ComputeStateHash(s, g.codec)
	if herr != nil {
		err = herr
		return nil, err
	}

	frontierEncoded, ferr := g.codec.Encode(frontier)
	if ferr != nil {
		err = ferr
		return nil, err
	}
	frontierOID, werr := g.store.WriteBlob(ctx, frontierEncoded)
	if werr != nil {
		err = fmt.Errorf("warpgraph: writing checkpoint frontier blob: %w", werr)
		return nil, err
	}

	var indexEntries map[string][]string
	if idx != nil {
		indexEntries = idx.Entries()
	}
	indexEncoded, ierr := g.codec.Encode(indexEntries)
	if ierr != nil {
		err = ierr
		return nil, err
	}
	indexOID, werr2 := g.store.WriteBlob(ctx, indexEncoded)
	if werr2 != nil {
		err = fmt.Errorf("warpgraph: writing checkpoint index blob: %w", werr2)
		return nil, err
	}

	message, merr := msgcodec.BuildCheckpointMessage(g.cfg.Graph, stateHash, frontierOID, indexOID, g.cfg.MaxSchema)
	if merr != nil {
		err = merr
		return nil, err
	}

	checkpointRef, rerr := refs.CheckpointHead(g.cfg.Graph)
	if rerr != nil {
		err = rerr
		return nil, err
	}
	parentSHA, hasParent, rerr2 := g.store.ReadRef(ctx, checkpointRef)
	if rerr2 != nil {
		err = fmt.Errorf("warpgraph: reading checkpoint head: %w", rerr2)
		return nil, err
	}
	var parents []string
	if hasParent {
		parents = []string{parentSHA}
	}

	sha, cerr2 := g.store.CommitNode(ctx, message, parents, g.cfg.Sign)
	if cerr2 != nil {
		err = fmt.Errorf("warpgraph: committing checkpoint: %w", cerr2)
		return nil, err
	}
	if uerr := g.store.UpdateRef(ctx, checkpointRef, sha); uerr != nil {
		err = fmt.Errorf("warpgraph: updating checkpoint head: %w", uerr)
		return nil, err
	}

	g.mu.Lock()
	g.patchesSinceCheckpoint = 0
	g.mu.Unlock()

	return &CheckpointResult{SHA: sha, StateHash: stateHash}, nil
}

// SyncCoverage creates an anchor commit whose parents are every
// current writer tip, per spec §4.8, and advances coverage/head to it.
func (g *WarpGraph) SyncCoverage(ctx context.Context) (sha string, err error) {
	timer := g.logger.StartOp("sync_coverage", g.cfg.Graph, g.cfg.Writer)
	defer func() { timer.Done(err) }()

	frontier, ferr := syncproto.LocalFrontier(ctx, g.store, g.cfg.Graph)
	if ferr != nil {
		err = ferr
		return "", err
	}
	writers := syncproto.SortedWriters(frontier)
	parents := make([]string, 0, len(writers))
	for _, w := range writers {
		parents = append(parents, frontier[w])
	}

	message, merr := msgcodec.BuildAnchorMessage(g.cfg.Graph, g.cfg.MaxSchema)
	if merr != nil {
		err = merr
		return "", err
	}
	sha, cerr := g.store.CommitNode(ctx, message, parents, g.cfg.Sign)
	if cerr != nil {
		err = fmt.Errorf("warpgraph: committing coverage anchor: %w", cerr)
		return "", err
	}
	coverageRef, rerr := refs.CoverageHead(g.cfg.Graph)
	if rerr != nil {
		err = rerr
		return "", err
	}
	if uerr := g.store.UpdateRef(ctx, coverageRef, sha); uerr != nil {
		err = fmt.Errorf("warpgraph: updating coverage head: %w", uerr)
		return "", err
	}
	return sha, nil
}

// Status returns an O(writers) snapshot of this graph's cache
// freshness and basic shape. It never materializes, regardless of
// AutoMaterialize, per spec §4.8's purity requirement.
func (g *WarpGraph) Status(ctx context.Context) (Status, error) {
	frontier, err := syncproto.LocalFrontier(ctx, g.store, g.cfg.Graph)
	if err != nil {
		return Status{}, fmt.Errorf("warpgraph: status: %w", err)
	}

	g.mu.Lock()
	hasState := g.state != nil
	dirty := g.stateDirty
	last := g.lastFrontier
	patchesSinceCheckpoint := g.patchesSinceCheckpoint
	s := g.state
	g.mu.Unlock()

	cacheState := CacheNone
	if hasState {
		if dirty || syncproto.SyncNeeded(last, frontier) {
			cacheState = CacheStale
		} else {
			cacheState = CacheFresh
		}
	}

	var ratio float64
	if s != nil {
		ratio = tombstoneRatio(s)
	}

	return Status{
		CachedState:            cacheState,
		PatchesSinceCheckpoint: patchesSinceCheckpoint,
		TombstoneRatio:         ratio,
		Writers:                syncproto.SortedWriters(frontier),
		Frontier:               frontier,
	}, nil
}

func tombstoneRatio(s *state.State) float64 {
	var live, tomb int
	count := func(set *crdt.ORSet) {
		for _, el := range set.AllElements() {
			live += len(set.LiveDots(el))
			tomb += len(set.Tombstones(el))
		}
	}
	count(s.NodeAlive)
	count(s.EdgeAlive)
	total := live + tomb
	if total == 0 {
		return 0
	}
	return float64(tomb) / float64(total)
}

// PatchesFor returns the patch shas recorded against entityID by the
// last full Materialize. Returns E_PROVENANCE_DEGRADED if the cache
// was restored from a seek-cache hit (which carries no index) and
// E_NO_STATE if never materialized at all.
func (g *WarpGraph) PatchesFor(entityID string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.provIndex == nil {
		if g.provenanceDegraded {
			return nil, warperrors.ProvenanceDegraded()
		}
		return nil, warperrors.NoState()
	}
	return g.provIndex.PatchesFor(entityID), nil
}

// MaterializeSlice reduces only the backward causal cone of root: every
// patch that wrote to root, transitively through their declared Reads,
// per spec §4.9/§6.
func (g *WarpGraph) MaterializeSlice(ctx context.Context, root string, cancel <-chan struct{}) (*state.State, []reducer.TickReceipt, error) {
	g.mu.Lock()
	idx := g.provIndex
	degraded := g.provenanceDegraded
	g.mu.Unlock()
	if idx == nil {
		if degraded {
			return nil, nil, warperrors.ProvenanceDegraded()
		}
		return nil, nil, warperrors.NoState()
	}

	loader := func(sha string) (model.Patch, error) {
		info, err := g.store.GetNodeInfo(ctx, sha)
		if err != nil {
			return model.Patch{}, err
		}
		trailers, err := msgcodec.ParseTrailers(info.Message)
		if err != nil {
			return model.Patch{}, err
		}
		raw, err := g.store.ReadBlob(ctx, trailers["eg-patch-oid"])
		if err != nil {
			return model.Patch{}, err
		}
		var patch model.Patch
		if err := g.codec.Decode(raw, &patch); err != nil {
			return model.Patch{}, err
		}
		return patch, nil
	}

	payload, err := provenance.BackwardCausalCone(root, idx, loader, cancel)
	if err != nil {
		return nil, nil, err
	}

	pairs := make([]reducer.PatchWithSHA, len(payload))
	for i, e := range payload {
		pairs[i] = reducer.PatchWithSHA{Patch: e.Patch, SHA: e.SHA}
	}
	reducer.SortCausally(pairs)

	s := state.New()
	receipts, err := reducer.Fold(s, pairs)
	if err != nil {
		return nil, nil, fmt.Errorf("warpgraph: materializeSlice: folding patches: %w", err)
	}
	return s, receipts, nil
}

// CreateEntityBTR slices root's backward causal cone and signs it into
// a Boundary Transition Record (spec §4.9), proving "everything that
// ever wrote to this entity, in order, HMAC-authenticated" without
// exposing the signing key to callers of MaterializeSlice.
func (g *WarpGraph) CreateEntityBTR(ctx context.Context, root string, key []byte) (provenance.BTR, error) {
	g.mu.Lock()
	idx := g.provIndex
	degraded := g.provenanceDegraded
	g.mu.Unlock()
	if idx == nil {
		if degraded {
			return provenance.BTR{}, warperrors.ProvenanceDegraded()
		}
		return provenance.BTR{}, warperrors.NoState()
	}

	loader := func(sha string) (model.Patch, error) {
		info, err := g.store.GetNodeInfo(ctx, sha)
		if err != nil {
			return model.Patch{}, err
		}
		trailers, err := msgcodec.ParseTrailers(info.Message)
		if err != nil {
			return model.Patch{}, err
		}
		raw, err := g.store.ReadBlob(ctx, trailers["eg-patch-oid"])
		if err != nil {
			return model.Patch{}, err
		}
		var patch model.Patch
		if err := g.codec.Decode(raw, &patch); err != nil {
			return model.Patch{}, err
		}
		return patch, nil
	}

	payload, err := provenance.BackwardCausalCone(root, idx, loader, nil)
	if err != nil {
		return provenance.BTR{}, err
	}
	pairs := make([]reducer.PatchWithSHA, len(payload))
	for i, e := range payload {
		pairs[i] = reducer.PatchWithSHA{Patch: e.Patch, SHA: e.SHA}
	}
	reducer.SortCausally(pairs)
	for i, p := range pairs {
		payload[i] = provenance.Entry{Patch: p.Patch, SHA: p.SHA}
	}

	return provenance.CreateBTR(g.codec, key, state.New(), payload)
}

// GC drops provenance index entries for patches already covered by the
// latest checkpoint. Commit objects themselves are immutable and
// content-addressed; GC only prunes the in-memory index spec §4.8
// calls out as reclaimable.
func (g *WarpGraph) GC(ctx context.Context) error {
	checkpointRef, err := refs.CheckpointHead(g.cfg.Graph)
	if err != nil {
		return err
	}
	sha, ok, err := g.store.ReadRef(ctx, checkpointRef)
	if err != nil {
		return fmt.Errorf("warpgraph: gc: reading checkpoint head: %w", err)
	}
	if !ok {
		return nil
	}
	info, err := g.store.GetNodeInfo(ctx, sha)
	if err != nil {
		return fmt.Errorf("warpgraph: gc: reading checkpoint commit: %w", err)
	}
	trailers, err := msgcodec.ParseTrailers(info.Message)
	if err != nil {
		return err
	}
	frontierRaw, err := g.store.ReadBlob(ctx, trailers["eg-frontier-oid"])
	if err != nil {
		return fmt.Errorf("warpgraph: gc: reading checkpoint frontier: %w", err)
	}
	var checkpointFrontier syncproto.Frontier
	if err := g.codec.Decode(frontierRaw, &checkpointFrontier); err != nil {
		return fmt.Errorf("warpgraph: gc: decoding checkpoint frontier: %w", err)
	}

	pairs, err := g.walkFrontierPatches(ctx, checkpointFrontier)
	if err != nil {
		return err
	}
	covered := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		covered[p.SHA] = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.provIndex != nil {
		g.provIndex.Drop(covered)
	}
	return nil
}

// HandleSyncRequest implements httpsync.SyncHandler: it walks every
// local writer back to the shas the requester's frontier already has,
// then filters out any patch referencing a writer not on
// Config.WriterAllowList (when set), per spec §4.10/§D's allow-list
// resolution — this orchestrator checks every writer an op actually
// references, complementing the HTTP layer's coarser frontier-key
// check in internal/httpsync.
func (g *WarpGraph) HandleSyncRequest(ctx context.Context, req syncproto.Request) (resp syncproto.Response, err error) {
	timer := g.logger.StartOp("sync", g.cfg.Graph, g.cfg.Writer)
	defer func() { timer.Done(err) }()

	resp, berr := syncproto.BuildResponse(ctx, g.store, g.codec, g.cfg.Graph, req.Frontier)
	if berr != nil {
		err = fmt.Errorf("warpgraph: handling sync request: %w", berr)
		return syncproto.Response{}, err
	}

	if len(g.cfg.WriterAllowList) > 0 {
		allowed := make(map[string]bool, len(g.cfg.WriterAllowList))
		for _, w := range g.cfg.WriterAllowList {
			allowed[w] = true
		}
		filtered := resp.Patches[:0]
		for _, wp := range resp.Patches {
			ok := true
			for _, w := range syncauth.WritersOf([]model.Patch{wp.Patch}) {
				if !allowed[w] {
					ok = false
					break
				}
			}
			if ok {
				filtered = append(filtered, wp)
			}
		}
		resp.Patches = filtered
	}

	return resp, nil
}

// ApplySyncResponse persists resp's patches into the local store under
// their authoring writers, folds them into this graph's cached state,
// and merges the resulting local frontier into lastFrontier, per spec
// §4.10. Persisting first means the very next LocalFrontier scan (and
// hence HasFrontierChanged) sees these writers the same way it sees
// locally authored commits, instead of finding an empty local chain
// for them and discarding the synced state on the next AutoMaterialize.
// Materialize (or AutoMaterialize) must have run at least once before
// calling this, since it mutates the existing cache rather than
// building one from scratch.
func (g *WarpGraph) ApplySyncResponse(ctx context.Context, resp syncproto.Response) (syncproto.ApplyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == nil {
		return syncproto.ApplyResult{}, warperrors.NoState()
	}
	if g.lastFrontier == nil {
		g.lastFrontier = syncproto.Frontier{}
	}

	persisted, perr := syncproto.PersistPatches(ctx, g.store, g.codec, g.cfg.Graph, resp.Patches)
	if perr != nil {
		return syncproto.ApplyResult{}, fmt.Errorf("warpgraph: persisting synced patches: %w", perr)
	}

	result, err := syncproto.ApplyResponse(g.state, g.lastFrontier, resp)
	if err != nil {
		return syncproto.ApplyResult{}, err
	}
	g.lastFrontier.Merge(persisted.Frontier)

	for i, wp := range resp.Patches {
		if g.provIndex != nil {
			g.provIndex.Record(patchWriteEntityIDs(wp.Patch), persisted.SHAs[i])
		}
	}
	return result, nil
}

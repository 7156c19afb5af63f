// Package warpview implements the "Observers/views" abstraction spec §9
// names as a target ("a lightweight wrapper over materialized state
// exposing the same read contract; property expose/redact applied when
// returning properties. Edge visible only if both endpoints match the
// glob") without assigning it a dedicated §4 component. A View wraps an
// already-materialized *warpgraph.WarpGraph and restricts it to the
// subset of nodes a glob pattern matches, redacting properties through
// an injectable allow-list.
//
// Grounded on internal/warpgraph's own read contract
// (HasNode/GetNodes/GetEdges/GetNodeProps/Neighbors): a View implements
// the identical read surface so callers can swap a full graph handle for
// a filtered one without changing call sites. Glob matching uses the
// standard library's path.Match — the pack carries no third-party glob
// library (checked against every go.mod in the retrieval set), and
// path.Match's shell-style pattern syntax is exactly what spec §9 calls
// for ("glob-filtered").
package warpview

import (
	"context"
	"path"
	"sort"

	"github.com/git-stunts/warpgraph/internal/state"
)

// Source is the read contract a View wraps. *warpgraph.WarpGraph
// satisfies it; tests can supply a fake.
type Source interface {
	HasNode(ctx context.Context, node string) (bool, error)
	GetNodes(ctx context.Context) ([]string, error)
	GetEdges(ctx context.Context) ([]state.EdgeTriple, error)
	GetNodeProps(ctx context.Context, node string) (map[string]interface{}, error)
	Neighbors(ctx context.Context, node string) ([]string, error)
}

// PropertyPolicy decides whether a property key on a node is exposed by
// a View. A nil policy exposes every property a node carries.
type PropertyPolicy func(node, key string) bool

// AllowListPolicy builds a PropertyPolicy that exposes only the keys
// named in allow, regardless of node.
func AllowListPolicy(allow ...string) PropertyPolicy {
	set := make(map[string]bool, len(allow))
	for _, k := range allow {
		set[k] = true
	}
	return func(_, key string) bool { return set[key] }
}

// View is a read-only, glob-filtered projection over a Source.
type View struct {
	src    Source
	glob   string
	policy PropertyPolicy
}

// New returns a View over src restricted to nodes matching glob (a
// path.Match pattern; "*" matches every node) with properties filtered
// by policy (nil exposes everything).
func New(src Source, glob string, policy PropertyPolicy) *View {
	if glob == "" {
		glob = "*"
	}
	return &View{src: src, glob: glob, policy: policy}
}

func (v *View) matches(node string) bool {
	ok, err := path.Match(v.glob, node)
	return err == nil && ok
}

// HasNode reports whether node is live in the underlying source and
// matches this view's glob.
func (v *View) HasNode(ctx context.Context, node string) (bool, error) {
	if !v.matches(node) {
		return false, nil
	}
	return v.src.HasNode(ctx, node)
}

// GetNodes returns every live node matching this view's glob, sorted.
func (v *View) GetNodes(ctx context.Context) ([]string, error) {
	nodes, err := v.src.GetNodes(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if v.matches(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// GetEdges returns every live edge whose endpoints both match this
// view's glob, per spec §9: "Edge visible only if both endpoints match
// the glob".
func (v *View) GetEdges(ctx context.Context) ([]state.EdgeTriple, error) {
	edges, err := v.src.GetEdges(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]state.EdgeTriple, 0, len(edges))
	for _, e := range edges {
		if v.matches(e.From) && v.matches(e.To) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetNodeProps returns node's visible properties filtered by this
// view's PropertyPolicy, or nil if node doesn't match the glob or isn't
// live.
func (v *View) GetNodeProps(ctx context.Context, node string) (map[string]interface{}, error) {
	if !v.matches(node) {
		return nil, nil
	}
	props, err := v.src.GetNodeProps(ctx, node)
	if err != nil || props == nil {
		return props, err
	}
	if v.policy == nil {
		return props, nil
	}
	out := make(map[string]interface{}, len(props))
	for k, val := range props {
		if v.policy(node, k) {
			out[k] = val
		}
	}
	return out, nil
}

// Neighbors returns node's neighbors restricted to those matching this
// view's glob. Returns nil, nil if node itself doesn't match.
func (v *View) Neighbors(ctx context.Context, node string) ([]string, error) {
	if !v.matches(node) {
		return nil, nil
	}
	neighbors, err := v.src.Neighbors(ctx, node)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		if v.matches(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

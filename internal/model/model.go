// Package model defines the patch and operation types every other
// package builds, encodes, reduces, or indexes: the tagged-union Op
// variants of spec §3 and the Patch envelope that carries them.
//
// Grounded on the teacher's internal/models/models.go, which takes the
// same approach of a handful of small exported structs with no
// behavior beyond field tags, reused by every other package in the
// tree.
package model

import "github.com/git-stunts/warpgraph/internal/crdt"

// SchemaVersion distinguishes the op vocabulary a patch is allowed to
// use. Schema 2 permits node ops and edge membership; schema 3
// additionally permits PropSet on an edge-property target.
type SchemaVersion int

const (
	Schema2 SchemaVersion = 2
	Schema3 SchemaVersion = 3
)

// OpKind tags which Op variant a given Op value holds.
type OpKind string

const (
	OpNodeAdd       OpKind = "node_add"
	OpNodeTombstone OpKind = "node_tombstone"
	OpEdgeAdd       OpKind = "edge_add"
	OpEdgeTombstone OpKind = "edge_tombstone"
	OpPropSet       OpKind = "prop_set"
)

// Op is one of the five variants spec §3 enumerates. Exactly the fields
// relevant to Kind are populated; the rest are left at their zero
// value. This mirrors the teacher's preference for flat structs over
// Go's lack of native sum types, keeping the canonical encoding a
// single map per op rather than a polymorphic envelope.
type Op struct {
	Kind OpKind `cbor:"kind"`

	// NodeAdd, NodeTombstone
	Node string `cbor:"node,omitempty"`

	// EdgeAdd, EdgeTombstone
	From  string `cbor:"from,omitempty"`
	To    string `cbor:"to,omitempty"`
	Label string `cbor:"label,omitempty"`

	// NodeAdd, EdgeAdd, PropSet. The writer's own per-op causal dot; for
	// PropSet it supplies the tertiary LWW tie-break key spec §4.6 needs
	// alongside the patch-level Lamport and Writer.
	Dot crdt.Dot `cbor:"dot,omitempty"`

	// NodeTombstone, EdgeTombstone
	ObservedDots []crdt.Dot `cbor:"observed_dots,omitempty"`

	// PropSet: Target is the node id, or (schema 3) an edge-property
	// key produced by internal/keycodec.EncodeEdgePropKey. Key/Value
	// hold the property name and its new value.
	Target string      `cbor:"target,omitempty"`
	Key    string      `cbor:"key,omitempty"`
	Value  interface{} `cbor:"value,omitempty"`
}

// Patch is the unit a writer commits: a set of ops under a single
// causal context, per spec §3.
type Patch struct {
	Schema  SchemaVersion     `cbor:"schema"`
	Writer  string            `cbor:"writer"`
	Lamport uint64            `cbor:"lamport"`
	Context crdt.VersionVector `cbor:"context"`
	Ops     []Op              `cbor:"ops"`

	// Reads lists entity ids (node ids or encoded edge keys) this
	// patch's author observed while deciding its ops, without
	// necessarily mutating them. Supplements the backward causal-cone
	// walk (spec §6, Open Question on the "reads" field) so slicing can
	// include read-only dependencies, not just written ones.
	Reads []string `cbor:"reads,omitempty"`
}

// TargetsEdgeProp reports whether op is a PropSet whose target carries
// the edge-property sentinel, the sole condition that forces schema 3.
func (op Op) TargetsEdgeProp() bool {
	return op.Kind == OpPropSet && len(op.Target) > 0 && op.Target[0] == 0x01
}

// EntityIDs returns the entity id(s) an op reads or writes, for
// provenance indexing and the causal-cone walk. EdgeAdd/EdgeTombstone
// report the encoded edge key via From/To/Label at the call site
// (internal/keycodec), not here, to avoid an import cycle; callers
// that need the edge key should encode it themselves from From/To/Label.
func (op Op) EntityIDs() []string {
	switch op.Kind {
	case OpNodeAdd, OpNodeTombstone:
		return []string{op.Node}
	case OpPropSet:
		return []string{op.Target}
	default:
		return nil
	}
}

// Package state holds the CRDT-backed Warp state (spec §3's "State
// (Warp state)") and the canonical visible-projection serializer and
// hash described in spec §4.7.
//
// Grounded on spec §4.7 directly, encoded through internal/canon (the
// same canonical CBOR codec used for patches), hashed with the
// standard library's crypto/sha256 — the one primitive the pack's own
// crypto-heavy code (massifs-rootsigner.go) also reaches for directly
// rather than through a third-party wrapper.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/keycodec"
)

// State is the full CRDT interior for one graph: node and edge
// membership sets, per-key LWW registers, and the observed version
// vector.
type State struct {
	NodeAlive     *crdt.ORSet
	EdgeAlive     *crdt.ORSet
	Prop          map[string]*crdt.LWWRegister
	VersionVector crdt.VersionVector
}

// New returns an empty state.
func New() *State {
	return &State{
		NodeAlive:     crdt.NewORSet(),
		EdgeAlive:     crdt.NewORSet(),
		Prop:          make(map[string]*crdt.LWWRegister),
		VersionVector: crdt.VersionVector{},
	}
}

// Clone returns a deep, independent copy of s.
func (s *State) Clone() *State {
	out := &State{
		NodeAlive:     s.NodeAlive.Clone(),
		EdgeAlive:     s.EdgeAlive.Clone(),
		Prop:          make(map[string]*crdt.LWWRegister, len(s.Prop)),
		VersionVector: s.VersionVector.Clone(),
	}
	for k, reg := range s.Prop {
		out.Prop[k] = reg.Clone()
	}
	return out
}

// NodeVisible reports whether node has a live, non-tombstoned dot.
func (s *State) NodeVisible(node string) bool {
	return s.NodeAlive.Contains(node)
}

// EdgeVisible reports whether edgeKey is live in EdgeAlive and both of
// its decoded endpoints are visible, per spec §3's visibility
// invariant.
func (s *State) EdgeVisible(edgeKey string) bool {
	if !s.EdgeAlive.Contains(edgeKey) {
		return false
	}
	from, to, _, err := keycodec.DecodeEdgeKey(edgeKey)
	if err != nil {
		return false
	}
	return s.NodeVisible(from) && s.NodeVisible(to)
}

// PropVisible reports whether the value at propKey should be included
// in the visible projection: the register must hold a value and its
// target entity (a node, or for an edge-property key both edge
// endpoints) must be visible.
func (s *State) PropVisible(propKey string) bool {
	reg, ok := s.Prop[propKey]
	if !ok || !reg.HasValue() {
		return false
	}
	target, _, err := keycodec.DecodePropKey(propKey)
	if err != nil {
		return false
	}
	if keycodec.IsEdgePropKey(target) {
		from, to, label, err := keycodec.DecodeEdgePropKey(target)
		if err != nil {
			return false
		}
		edgeKey, err := keycodec.EncodeEdgeKey(from, to, label)
		if err != nil {
			return false
		}
		return s.EdgeVisible(edgeKey)
	}
	return s.NodeVisible(target)
}

// VisibleProjection is the canonical shape hashed by ComputeStateHash:
// sorted nodes, sorted decoded edges, sorted (node-or-edge-key, key,
// value) property triples.
type VisibleProjection struct {
	Nodes []string        `cbor:"nodes"`
	Edges []EdgeTriple    `cbor:"edges"`
	Props []PropTriple    `cbor:"props"`
}

// EdgeTriple is a decoded, visible edge.
type EdgeTriple struct {
	From  string `cbor:"from"`
	To    string `cbor:"to"`
	Label string `cbor:"label"`
}

// PropTriple is one visible property value.
type PropTriple struct {
	Entity string      `cbor:"entity"`
	Key    string      `cbor:"key"`
	Value  interface{} `cbor:"value"`
}

// Project builds the canonical visible projection of s, per spec §4.7
// steps 1-3.
func (s *State) Project() (VisibleProjection, error) {
	var proj VisibleProjection

	for _, node := range s.NodeAlive.Elements() {
		if s.NodeVisible(node) {
			proj.Nodes = append(proj.Nodes, node)
		}
	}
	sort.Strings(proj.Nodes)

	for _, edgeKey := range s.EdgeAlive.Elements() {
		if !s.EdgeVisible(edgeKey) {
			continue
		}
		from, to, label, err := keycodec.DecodeEdgeKey(edgeKey)
		if err != nil {
			return VisibleProjection{}, err
		}
		proj.Edges = append(proj.Edges, EdgeTriple{From: from, To: to, Label: label})
	}
	sort.Slice(proj.Edges, func(i, j int) bool {
		a, b := proj.Edges[i], proj.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Label < b.Label
	})

	for propKey, reg := range s.Prop {
		if !s.PropVisible(propKey) {
			continue
		}
		entity, key, err := keycodec.DecodePropKey(propKey)
		if err != nil {
			return VisibleProjection{}, err
		}
		proj.Props = append(proj.Props, PropTriple{Entity: entity, Key: key, Value: reg.Value})
	}
	sort.Slice(proj.Props, func(i, j int) bool {
		a, b := proj.Props[i], proj.Props[j]
		if a.Entity != b.Entity {
			return a.Entity < b.Entity
		}
		return a.Key < b.Key
	})

	return proj, nil
}

// ComputeStateHash returns hex(SHA-256(canonical CBOR of the visible
// projection)).
func ComputeStateHash(s *State, codec *canon.Codec) (string, error) {
	proj, err := s.Project()
	if err != nil {
		return "", err
	}
	encoded, err := codec.Encode(proj)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// FullSnapshot is the full-state serialization used for a BTR's U0: the
// visible projection plus the CRDT interior (live/tombstone dots,
// version vector, LWW metadata) so replay from U0 reproduces the exact
// interior, not just its visible surface (spec §4.7).
type FullSnapshot struct {
	Projection    VisibleProjection     `cbor:"projection"`
	NodeLive      map[string][]crdt.Dot `cbor:"node_live"`
	NodeTombstone map[string][]crdt.Dot `cbor:"node_tombstone"`
	EdgeLive      map[string][]crdt.Dot `cbor:"edge_live"`
	EdgeTombstone map[string][]crdt.Dot `cbor:"edge_tombstone"`
	Prop          map[string]lwwSnapshot `cbor:"prop"`
	VersionVector crdt.VersionVector     `cbor:"version_vector"`
}

type lwwSnapshot struct {
	Value   interface{} `cbor:"value"`
	Lamport uint64      `cbor:"lamport"`
	Writer  string      `cbor:"writer"`
	Dot     crdt.Dot    `cbor:"dot"`
}

// Snapshot builds s's FullSnapshot.
func (s *State) Snapshot() (FullSnapshot, error) {
	proj, err := s.Project()
	if err != nil {
		return FullSnapshot{}, err
	}
	snap := FullSnapshot{
		Projection:    proj,
		NodeLive:      liveDotsByElement(s.NodeAlive),
		NodeTombstone: tombstoneDotsByElement(s.NodeAlive),
		EdgeLive:      liveDotsByElement(s.EdgeAlive),
		EdgeTombstone: tombstoneDotsByElement(s.EdgeAlive),
		Prop:          make(map[string]lwwSnapshot, len(s.Prop)),
		VersionVector: s.VersionVector.Clone(),
	}
	for k, reg := range s.Prop {
		if !reg.HasValue() {
			continue
		}
		snap.Prop[k] = lwwSnapshot{Value: reg.Value, Lamport: reg.Lamport, Writer: reg.Writer, Dot: reg.Dot}
	}
	return snap, nil
}

// FromSnapshot reconstructs the mutable CRDT interior a FullSnapshot
// describes. Used both by BTR replay verification and by a seek-cache
// restore, which is why it lives alongside Snapshot rather than in a
// single caller's package.
func FromSnapshot(snap FullSnapshot) *State {
	s := New()
	for element, dots := range snap.NodeLive {
		for _, d := range dots {
			s.NodeAlive.Add(element, d)
		}
	}
	for element, dots := range snap.NodeTombstone {
		s.NodeAlive.Remove(element, dots)
	}
	for element, dots := range snap.EdgeLive {
		for _, d := range dots {
			s.EdgeAlive.Add(element, d)
		}
	}
	for element, dots := range snap.EdgeTombstone {
		s.EdgeAlive.Remove(element, dots)
	}
	for propKey, lww := range snap.Prop {
		reg := &crdt.LWWRegister{}
		reg.Update(lww.Value, lww.Lamport, lww.Writer, lww.Dot)
		s.Prop[propKey] = reg
	}
	s.VersionVector = snap.VersionVector.Clone()
	return s
}

func liveDotsByElement(s *crdt.ORSet) map[string][]crdt.Dot {
	out := make(map[string][]crdt.Dot)
	for _, element := range s.AllElements() {
		if dots := s.LiveDots(element); len(dots) > 0 {
			out[element] = dots
		}
	}
	return out
}

func tombstoneDotsByElement(s *crdt.ORSet) map[string][]crdt.Dot {
	out := make(map[string][]crdt.Dot)
	for _, element := range s.AllElements() {
		if dots := s.Tombstones(element); len(dots) > 0 {
			out[element] = dots
		}
	}
	return out
}

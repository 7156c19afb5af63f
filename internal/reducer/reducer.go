// Package reducer implements the deterministic join fold of spec §4.6:
// given an initial state and a causally-sorted run of patches, apply
// every op in order and optionally emit a TickReceipt per patch.
//
// Grounded on the teacher's internal/graph/builder.go Builder.BuildGraph
// orchestration: a sequential phase-processing loop that accumulates
// per-phase stats while mutating a shared backend, generalized here to
// CRDT op application with a per-op outcome instead of a node/edge
// count.
package reducer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/keycodec"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/state"
)

// OpOutcome reports what happened when a single op was folded.
type OpOutcome string

const (
	OutcomeApplied    OpOutcome = "applied"
	OutcomeSuperseded OpOutcome = "superseded"
	OutcomeRedundant  OpOutcome = "redundant"
)

// OpReceipt records one op's outcome within a TickReceipt.
type OpReceipt struct {
	Op     model.OpKind `json:"op"`
	Target string       `json:"target"`
	Result OpOutcome    `json:"result"`
	Reason string       `json:"reason,omitempty"`
}

// TickReceipt is the immutable, canonically-serializable record of one
// patch's fold, per spec §4.6.
type TickReceipt struct {
	PatchSHA string      `json:"patchSha"`
	Writer   string      `json:"writer"`
	Lamport  uint64      `json:"lamport"`
	Ops      []OpReceipt `json:"ops"`
}

// PatchWithSHA pairs a patch with the commit sha that carries it, the
// unit the causal sort and the fold both operate on.
type PatchWithSHA struct {
	Patch model.Patch
	SHA   string
}

// SortCausally orders patches by the spec §4.6 tuple comparator:
// lamport ascending, then writer id lexicographic, then commit sha
// lexicographic. Sorting is stable so equal tuples (impossible in
// practice, since a writer's lamport is monotone per chain) preserve
// input order.
func SortCausally(patches []PatchWithSHA) {
	sort.SliceStable(patches, func(i, j int) bool {
		a, b := patches[i].Patch, patches[j].Patch
		if a.Lamport != b.Lamport {
			return a.Lamport < b.Lamport
		}
		if a.Writer != b.Writer {
			return a.Writer < b.Writer
		}
		return patches[i].SHA < patches[j].SHA
	})
}

// Fold applies every patch in patches, in the order given (callers are
// expected to have already run SortCausally), against s, returning one
// TickReceipt per patch. s is mutated in place.
func Fold(s *state.State, patches []PatchWithSHA) ([]TickReceipt, error) {
	receipts := make([]TickReceipt, 0, len(patches))
	for _, pws := range patches {
		receipt, err := applyPatch(s, pws)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func applyPatch(s *state.State, pws PatchWithSHA) (TickReceipt, error) {
	patch := pws.Patch
	receipt := TickReceipt{
		PatchSHA: pws.SHA,
		Writer:   patch.Writer,
		Lamport:  patch.Lamport,
		Ops:      make([]OpReceipt, 0, len(patch.Ops)),
	}
	for _, op := range patch.Ops {
		opReceipt, err := applyOp(s, patch, op)
		if err != nil {
			return receipt, err
		}
		receipt.Ops = append(receipt.Ops, opReceipt)
	}
	return receipt, nil
}

func applyOp(s *state.State, patch model.Patch, op model.Op) (OpReceipt, error) {
	switch op.Kind {
	case model.OpNodeAdd:
		res := s.NodeAlive.Add(op.Node, op.Dot)
		s.VersionVector.Advance(op.Dot.Writer, op.Dot.Seq)
		return OpReceipt{Op: op.Kind, Target: op.Node, Result: addOutcome(res)}, nil

	case model.OpNodeTombstone:
		s.NodeAlive.Remove(op.Node, op.ObservedDots)
		return OpReceipt{Op: op.Kind, Target: op.Node, Result: OutcomeApplied}, nil

	case model.OpEdgeAdd:
		edgeKey, err := keycodec.EncodeEdgeKey(op.From, op.To, op.Label)
		if err != nil {
			return OpReceipt{}, fmt.Errorf("reducer: edge add: %w", err)
		}
		res := s.EdgeAlive.Add(edgeKey, op.Dot)
		s.VersionVector.Advance(op.Dot.Writer, op.Dot.Seq)
		return OpReceipt{Op: op.Kind, Target: edgeKey, Result: addOutcome(res)}, nil

	case model.OpEdgeTombstone:
		edgeKey, err := keycodec.EncodeEdgeKey(op.From, op.To, op.Label)
		if err != nil {
			return OpReceipt{}, fmt.Errorf("reducer: edge tombstone: %w", err)
		}
		s.EdgeAlive.Remove(edgeKey, op.ObservedDots)
		return OpReceipt{Op: op.Kind, Target: edgeKey, Result: OutcomeApplied}, nil

	case model.OpPropSet:
		return applyPropSet(s, patch, op)

	default:
		return OpReceipt{}, fmt.Errorf("reducer: unknown op kind %q", op.Kind)
	}
}

func applyPropSet(s *state.State, patch model.Patch, op model.Op) (OpReceipt, error) {
	propKey, err := keycodec.EncodePropKey(op.Target, op.Key)
	if err != nil {
		return OpReceipt{}, fmt.Errorf("reducer: prop set: %w", err)
	}
	reg, ok := s.Prop[propKey]
	if !ok {
		reg = &crdt.LWWRegister{}
		s.Prop[propKey] = reg
	}
	res := reg.Update(op.Value, patch.Lamport, patch.Writer, op.Dot)
	outcome := OutcomeApplied
	if res == crdt.LWWSuperseded {
		outcome = OutcomeSuperseded
	}
	return OpReceipt{Op: op.Kind, Target: propKey, Result: outcome}, nil
}

// CanonicalJSON renders receipt with lexicographically sorted object
// keys, per spec §4.6 ("canonically JSON-serializable with sorted
// keys"). Structs are routed through map[string]interface{} first
// because encoding/json preserves declared struct field order rather
// than sorting it, while it does sort map keys.
func (receipt TickReceipt) CanonicalJSON() ([]byte, error) {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("reducer: marshal receipt: %w", err)
	}
	var asMap map[string]interface{}
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, fmt.Errorf("reducer: re-decode receipt as map: %w", err)
	}
	out, err := json.Marshal(asMap)
	if err != nil {
		return nil, fmt.Errorf("reducer: marshal canonical receipt: %w", err)
	}
	return out, nil
}

func addOutcome(res crdt.AddResult) OpOutcome {
	if res == crdt.AddRedundant {
		return OutcomeRedundant
	}
	return OutcomeApplied
}

package reducer

import (
	"testing"

	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/keycodec"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/state"
)

func nodeAddPatch(writer string, lamport, seq uint64, node string, sha string) PatchWithSHA {
	return PatchWithSHA{
		SHA: sha,
		Patch: model.Patch{
			Schema:  model.Schema2,
			Writer:  writer,
			Lamport: lamport,
			Context: crdt.VersionVector{},
			Ops: []model.Op{
				{Kind: model.OpNodeAdd, Node: node, Dot: crdt.Dot{Writer: writer, Seq: seq}},
			},
		},
	}
}

func TestSortCausallyOrdersByLamportThenWriterThenSHA(t *testing.T) {
	patches := []PatchWithSHA{
		nodeAddPatch("bob", 2, 1, "n2", "shaB"),
		nodeAddPatch("alice", 1, 1, "n1", "shaA"),
		nodeAddPatch("alice", 2, 2, "n3", "shaA0"),
	}
	SortCausally(patches)
	if patches[0].Patch.Lamport != 1 {
		t.Fatalf("expected lamport 1 first, got %d", patches[0].Patch.Lamport)
	}
	// lamport 2: alice before bob (writer lexicographic)
	if patches[1].Patch.Writer != "alice" || patches[2].Patch.Writer != "bob" {
		t.Fatalf("expected alice before bob at equal lamport, got %v then %v", patches[1].Patch.Writer, patches[2].Patch.Writer)
	}
}

func TestFoldIsDeterministicAcrossTopologicallyEquivalentOrderings(t *testing.T) {
	mk := func() []PatchWithSHA {
		return []PatchWithSHA{
			nodeAddPatch("alice", 1, 1, "n1", "sha1"),
			nodeAddPatch("bob", 2, 1, "n2", "sha2"),
		}
	}

	order1 := mk()
	order2 := []PatchWithSHA{mk()[1], mk()[0]}
	SortCausally(order1)
	SortCausally(order2)

	s1 := state.New()
	if _, err := Fold(s1, order1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2 := state.New()
	if _, err := Fold(s2, order2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s1.NodeAlive.Contains("n1") != s2.NodeAlive.Contains("n1") {
		t.Fatal("fold result must not depend on pre-sort input order")
	}
	if s1.NodeAlive.Contains("n2") != s2.NodeAlive.Contains("n2") {
		t.Fatal("fold result must not depend on pre-sort input order")
	}
}

func TestFoldEmitsRedundantOnSecondAdd(t *testing.T) {
	s := state.New()
	patches := []PatchWithSHA{
		nodeAddPatch("alice", 1, 1, "n1", "sha1"),
		nodeAddPatch("alice", 2, 2, "n1", "sha2"),
	}
	receipts, err := Fold(s, patches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if receipts[0].Ops[0].Result != OutcomeApplied {
		t.Fatalf("expected first add applied, got %v", receipts[0].Ops[0].Result)
	}
	if receipts[1].Ops[0].Result != OutcomeRedundant {
		t.Fatalf("expected second add redundant, got %v", receipts[1].Ops[0].Result)
	}
}

func TestFoldPropSetEqualLamportLargerWriterWins(t *testing.T) {
	s := state.New()
	patches := []PatchWithSHA{
		{
			SHA: "sha1",
			Patch: model.Patch{
				Schema: model.Schema2, Writer: "bob", Lamport: 5,
				Ops: []model.Op{{Kind: model.OpPropSet, Target: "n1", Key: "color", Value: "blue", Dot: crdt.Dot{Writer: "bob", Seq: 1}}},
			},
		},
		{
			SHA: "sha2",
			Patch: model.Patch{
				Schema: model.Schema2, Writer: "alice", Lamport: 5,
				Ops: []model.Op{{Kind: model.OpPropSet, Target: "n1", Key: "color", Value: "red", Dot: crdt.Dot{Writer: "alice", Seq: 1}}},
			},
		},
	}
	SortCausally(patches)
	receipts, err := Fold(s, patches)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// equal lamport: alice sorts before bob lexicographically, so alice's
	// update applies first and bob's later update wins the writer tie-break.
	if receipts[0].Writer != "alice" || receipts[0].Ops[0].Result != OutcomeApplied {
		t.Fatalf("expected alice's update to apply first, got %+v", receipts[0])
	}
	if receipts[1].Writer != "bob" || receipts[1].Ops[0].Result != OutcomeApplied {
		t.Fatalf("expected bob's update to win the writer tie-break and apply, got %+v", receipts[1])
	}

	propKey, _ := keycodec.EncodePropKey("n1", "color")
	reg := s.Prop[propKey]
	if reg == nil || reg.Value != "blue" {
		t.Fatalf("expected final value 'blue' (bob wins tie-break), got %+v", reg)
	}
}

func TestTickReceiptCanonicalJSONHasSortedKeys(t *testing.T) {
	receipt := TickReceipt{
		PatchSHA: "sha1", Writer: "alice", Lamport: 1,
		Ops: []OpReceipt{{Op: model.OpNodeAdd, Target: "n1", Result: OutcomeApplied}},
	}
	out, err := receipt.CanonicalJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// "lamport" < "ops" < "patchSha" < "writer" alphabetically.
	wantOrder := []string{`"lamport"`, `"ops"`, `"patchSha"`, `"writer"`}
	s := string(out)
	lastIdx := -1
	for _, key := range wantOrder {
		idx := indexOf(s, key)
		if idx < 0 {
			t.Fatalf("expected key %s in output %s", key, s)
		}
		if idx < lastIdx {
			t.Fatalf("key %s out of order in output %s", key, s)
		}
		lastIdx = idx
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func TestFoldNodeTombstoneThenLateAddIsShadowed(t *testing.T) {
	s := state.New()
	dot := crdt.Dot{Writer: "alice", Seq: 1}
	patches := []PatchWithSHA{
		{
			SHA: "sha1",
			Patch: model.Patch{
				Schema: model.Schema2, Writer: "alice", Lamport: 1,
				Ops: []model.Op{{Kind: model.OpNodeTombstone, Node: "n1", ObservedDots: []crdt.Dot{dot}}},
			},
		},
		{
			SHA: "sha2",
			Patch: model.Patch{
				Schema: model.Schema2, Writer: "alice", Lamport: 2,
				Ops: []model.Op{{Kind: model.OpNodeAdd, Node: "n1", Dot: dot}},
			},
		},
	}
	if _, err := Fold(s, patches); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.NodeAlive.Contains("n1") {
		t.Fatal("an add whose dot was already tombstoned must not resurrect the node")
	}
}

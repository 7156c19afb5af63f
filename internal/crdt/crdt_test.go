package crdt

import "testing"

func TestORSetAddWinsUnderConcurrentRemove(t *testing.T) {
	s := NewORSet()
	dotA := Dot{Writer: "alice", Seq: 1}
	dotB := Dot{Writer: "bob", Seq: 1}

	s.Add("x", dotA)
	s.Add("x", dotB)
	if !s.Contains("x") {
		t.Fatal("x should be present after two adds")
	}

	// Remove observes only dotA (bob's concurrent add was unseen).
	s.Remove("x", []Dot{dotA})
	if !s.Contains("x") {
		t.Fatal("x should remain present: bob's dot was never tombstoned (add-wins)")
	}

	s.Remove("x", []Dot{dotB})
	if s.Contains("x") {
		t.Fatal("x should be absent once every live dot is tombstoned")
	}
}

func TestORSetRedundantAdd(t *testing.T) {
	s := NewORSet()
	dot := Dot{Writer: "alice", Seq: 1}
	if res := s.Add("x", dot); res != AddApplied {
		t.Fatalf("first add should be Applied, got %v", res)
	}
	dot2 := Dot{Writer: "alice", Seq: 2}
	if res := s.Add("x", dot2); res != AddRedundant {
		t.Fatalf("second add to an already-alive element should be Redundant, got %v", res)
	}
}

func TestORSetTombstoneBeforeAddShadowsLateAdd(t *testing.T) {
	s := NewORSet()
	dot := Dot{Writer: "alice", Seq: 1}
	s.Remove("x", []Dot{dot})
	s.Add("x", dot)
	if s.Contains("x") {
		t.Fatal("an add whose dot was already tombstoned must not resurrect the element")
	}
}

func TestORSetCommutativeConcurrentAdds(t *testing.T) {
	dotA := Dot{Writer: "alice", Seq: 1}
	dotB := Dot{Writer: "bob", Seq: 1}

	order1 := NewORSet()
	order1.Add("x", dotA)
	order1.Add("x", dotB)

	order2 := NewORSet()
	order2.Add("x", dotB)
	order2.Add("x", dotA)

	if order1.Contains("x") != order2.Contains("x") {
		t.Fatal("OR-Set add order must not affect membership")
	}
	if len(order1.LiveDots("x")) != len(order2.LiveDots("x")) {
		t.Fatal("OR-Set add order must not affect live dot count")
	}
}

func TestLWWRegisterHigherLamportWins(t *testing.T) {
	r := &LWWRegister{}
	r.Update("first", 1, "alice", Dot{Writer: "alice", Seq: 1})
	if res := r.Update("second", 2, "bob", Dot{Writer: "bob", Seq: 1}); res != LWWApplied {
		t.Fatalf("higher lamport should win, got %v", res)
	}
	if r.Value != "second" {
		t.Fatalf("expected value 'second', got %v", r.Value)
	}
}

func TestLWWRegisterTieBreaksOnWriter(t *testing.T) {
	r := &LWWRegister{}
	r.Update("from-alice", 5, "alice", Dot{Writer: "alice", Seq: 1})
	res := r.Update("from-bob", 5, "bob", Dot{Writer: "bob", Seq: 1})
	if res != LWWApplied {
		t.Fatalf("lexicographically larger writer should win tie, got %v", res)
	}
	if r.Value != "from-bob" {
		t.Fatalf("expected 'from-bob' to win, got %v", r.Value)
	}

	// Reapplying alice's lower-writer update at the same lamport must
	// not override bob's.
	res2 := r.Update("from-alice-again", 5, "alice", Dot{Writer: "alice", Seq: 2})
	if res2 != LWWSuperseded {
		t.Fatalf("lexicographically smaller writer should be superseded, got %v", res2)
	}
	if r.Value != "from-bob" {
		t.Fatal("register value should remain bob's after a superseded update")
	}
}

func TestLWWRegisterTieBreaksOnDotSeq(t *testing.T) {
	r := &LWWRegister{}
	r.Update("seq1", 5, "alice", Dot{Writer: "alice", Seq: 1})
	res := r.Update("seq2", 5, "alice", Dot{Writer: "alice", Seq: 2})
	if res != LWWApplied {
		t.Fatalf("larger dot seq should win final tie-break, got %v", res)
	}
	if r.Value != "seq2" {
		t.Fatalf("expected 'seq2', got %v", r.Value)
	}
}

func TestVersionVectorObservesAndMerge(t *testing.T) {
	vv := VersionVector{}
	vv.Advance("alice", 3)
	if !vv.Observes(Dot{Writer: "alice", Seq: 2}) {
		t.Fatal("vv should observe a dot at or below the advanced seq")
	}
	if vv.Observes(Dot{Writer: "alice", Seq: 4}) {
		t.Fatal("vv should not observe a dot above the advanced seq")
	}

	other := VersionVector{"bob": 7}
	vv.Merge(other)
	if vv["bob"] != 7 || vv["alice"] != 3 {
		t.Fatalf("merge should take the max per writer, got %+v", vv)
	}
}

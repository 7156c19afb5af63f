package provenance

import (
	"strings"
	"testing"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/crdt"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/state"
)

func samplePayload() Payload {
	return Payload{
		{SHA: "sha1", Patch: model.Patch{
			Schema: model.Schema2, Writer: "alice", Lamport: 1,
			Ops: []model.Op{{Kind: model.OpNodeAdd, Node: "n1", Dot: crdt.Dot{Writer: "alice", Seq: 1}}},
		}},
		{SHA: "sha2", Patch: model.Patch{
			Schema: model.Schema2, Writer: "alice", Lamport: 2,
			Ops: []model.Op{{Kind: model.OpNodeAdd, Node: "n2", Dot: crdt.Dot{Writer: "alice", Seq: 2}}},
		}},
	}
}

func TestPayloadConcatReplaysBothPayloads(t *testing.T) {
	a := samplePayload()[:1]
	b := samplePayload()[1:]
	left := a.Concat(b)
	s, _, err := left.Replay(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.NodeAlive.Contains("n1") || !s.NodeAlive.Contains("n2") {
		t.Fatal("concatenated payload replay should contain both nodes")
	}
}

func TestIndexRecordAndPatchesFor(t *testing.T) {
	idx := NewIndex()
	idx.Record([]string{"n1"}, "sha1")
	idx.Record([]string{"n1", "n2"}, "sha2")
	if got := idx.PatchesFor("n1"); len(got) != 2 || got[0] != "sha1" || got[1] != "sha2" {
		t.Fatalf("unexpected patch list for n1: %v", got)
	}
	if got := idx.PatchesFor("n2"); len(got) != 1 || got[0] != "sha2" {
		t.Fatalf("unexpected patch list for n2: %v", got)
	}
}

func TestBackwardCausalConeFollowsReadDependencies(t *testing.T) {
	idx := NewIndex()
	idx.Record([]string{"n2"}, "sha-write-n2")
	idx.Record([]string{"n1"}, "sha-write-n1-reads-n2")

	store := map[string]model.Patch{
		"sha-write-n2": {Writer: "alice", Lamport: 1, Ops: []model.Op{{Kind: model.OpNodeAdd, Node: "n2"}}},
		"sha-write-n1-reads-n2": {
			Writer: "alice", Lamport: 2,
			Ops:   []model.Op{{Kind: model.OpNodeAdd, Node: "n1"}},
			Reads: []string{"n2"},
		},
	}
	load := func(sha string) (model.Patch, error) { return store[sha], nil }

	payload, err := BackwardCausalCone("n1", idx, load, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected both the writing patch and its read dependency, got %d entries", len(payload))
	}
}

func TestBTRCreateAndVerifyRoundTrip(t *testing.T) {
	codec := canon.New()
	key := []byte("test-signing-key")

	initial := state.New()
	payload := samplePayload()

	btr, err := CreateBTR(codec, key, initial, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := VerifyBTR(codec, key, btr, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected a valid BTR, got reason %q", result.Reason)
	}
}

func TestBTRVerifyRejectsTamperedKappa(t *testing.T) {
	codec := canon.New()
	key := []byte("test-signing-key")
	initial := state.New()

	btr, err := CreateBTR(codec, key, initial, samplePayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tampered := btr
	tampered.Kappa = strings.Repeat("0", len(btr.Kappa))

	result, err := VerifyBTR(codec, key, tampered, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid || result.Reason != ReasonAuthMismatch {
		t.Fatalf("expected auth mismatch, got %+v", result)
	}
}

func TestBTRCreateRejectsEmptyKey(t *testing.T) {
	codec := canon.New()
	if _, err := CreateBTR(codec, nil, state.New(), samplePayload()); err == nil {
		t.Fatal("expected an error creating a BTR with an empty key")
	}
}

func TestBTRVerifyRejectsMissingField(t *testing.T) {
	codec := canon.New()
	result, err := VerifyBTR(codec, []byte("k"), BTR{Version: BTRVersion}, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Valid || result.Reason != ReasonMissingField {
		t.Fatalf("expected missing field, got %+v", result)
	}
}

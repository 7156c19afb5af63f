package msgcodec

import (
	"strings"
	"testing"

	"github.com/git-stunts/warpgraph/internal/model"
)

const hex40 = "abcdef0123456789abcdef0123456789abcdef01"
const hex64 = "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789"

func TestBuildAndParsePatchMessage(t *testing.T) {
	msg, err := BuildPatchMessage("g1", "alice", 4, hex40, model.Schema2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(msg, "warp:patch\n\n") {
		t.Fatalf("unexpected message shape: %q", msg)
	}
	if DetectMessageKind(msg) != KindPatch {
		t.Fatalf("expected KindPatch, got %v", DetectMessageKind(msg))
	}
	trailers, err := ParseTrailers(msg)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if trailers[keyGraph] != "g1" || trailers[keyWriter] != "alice" || trailers[keyLamport] != "4" {
		t.Fatalf("unexpected trailers: %+v", trailers)
	}
}

func TestBuildCheckpointMessage(t *testing.T) {
	msg, err := BuildCheckpointMessage("g1", hex64, hex40, hex40, model.Schema3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if DetectMessageKind(msg) != KindCheckpoint {
		t.Fatalf("expected KindCheckpoint, got %v", DetectMessageKind(msg))
	}
	trailers, err := ParseTrailers(msg)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if trailers[keyCheckpoint] != "v5" {
		t.Fatalf("expected checkpoint version v5, got %q", trailers[keyCheckpoint])
	}
}

func TestBuildAuditMessageTrailersAreLexicographic(t *testing.T) {
	msg, err := BuildAuditMessage("g1", "alice", hex40, hex64, model.Schema2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(msg, "\n")
	var keys []string
	for _, l := range lines[2:] {
		if l == "" {
			continue
		}
		keys = append(keys, strings.SplitN(l, ": ", 2)[0])
	}
	want := []string{keyDataCommit, keyGraph, keyKind, keyOpsDigest, keySchema, keyWriter}
	if len(keys) != len(want) {
		t.Fatalf("expected %d trailers, got %d: %v", len(want), len(keys), keys)
	}
	for i, k := range keys {
		if k != want[i] {
			t.Fatalf("trailer %d: expected %q, got %q (full order %v)", i, want[i], k, keys)
		}
	}
}

func TestDetectMessageKindReturnsNoneForNonWarpMessage(t *testing.T) {
	if DetectMessageKind("fix: unrelated commit\n\nSigned-off-by: someone") != KindNone {
		t.Fatal("expected KindNone for a non-WARP commit message")
	}
	if DetectMessageKind("no trailer block at all") != KindNone {
		t.Fatal("expected KindNone for a message with no trailer block")
	}
}

func TestBuildRejectsBadGraphOrOID(t *testing.T) {
	if _, err := BuildPatchMessage("bad..graph", "alice", 1, hex40, model.Schema2); err == nil {
		t.Fatal("expected an error for an invalid graph name")
	}
	if _, err := BuildPatchMessage("g1", "alice", 1, "not-hex", model.Schema2); err == nil {
		t.Fatal("expected an error for a malformed patch oid")
	}
}

func TestDetectSchemaVersion(t *testing.T) {
	v2ops := []model.Op{{Kind: model.OpNodeAdd, Node: "n1"}}
	if got := DetectSchemaVersion(v2ops); got != model.Schema2 {
		t.Fatalf("expected Schema2, got %v", got)
	}
	v3ops := []model.Op{{Kind: model.OpPropSet, Target: "\x01n1\x00n2\x00l"}}
	if got := DetectSchemaVersion(v3ops); got != model.Schema3 {
		t.Fatalf("expected Schema3, got %v", got)
	}
}

func TestAssertOpsCompatible(t *testing.T) {
	v2safe := []model.Op{{Kind: model.OpPropSet, Target: "n1"}}
	if err := AssertOpsCompatible(v2safe, model.Schema2); err != nil {
		t.Fatalf("v2-safe ops should be accepted under maxSchema 2: %v", err)
	}

	edgeProp := []model.Op{{Kind: model.OpPropSet, Target: "\x01n1\x00n2\x00l"}}
	if err := AssertOpsCompatible(edgeProp, model.Schema2); err == nil {
		t.Fatal("expected SchemaUnsupported-equivalent error for an edge-property op under maxSchema 2")
	}
	if err := AssertOpsCompatible(edgeProp, model.Schema3); err != nil {
		t.Fatalf("edge-property op should be accepted under maxSchema 3: %v", err)
	}
}

func TestComputeOpsDigestIsDeterministic(t *testing.T) {
	ops := []model.Op{{Kind: model.OpNodeAdd, Node: "n1"}}
	d1, err := ComputeOpsDigest(ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d2, err := ComputeOpsDigest(ops)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d1 != d2 {
		t.Fatal("ops digest must be deterministic across repeated calls")
	}
	if len(d1) != 64 {
		t.Fatalf("expected a 64-char hex digest, got %d chars", len(d1))
	}
}

// Package provenance implements the per-entity patch index, the
// provenance payload monoid, the backward causal-cone walk, and the
// Boundary Transition Record (BTR) create/verify pair described in
// spec §4.9.
//
// Grounded on the other_examples signed-commitment pattern in
// massifs-rootsigner.go (a record carrying input/output state
// commitments plus an authentication tag over their canonical
// encoding) — the same shape as a BTR's hIn/hOut/kappa, here produced
// with crypto/hmac and crypto/subtle rather than the COSE/ECDSA stack
// that file uses, since spec §4.11 specifies symmetric HMAC-SHA256.
package provenance

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/reducer"
	"github.com/git-stunts/warpgraph/internal/state"
	"github.com/git-stunts/warpgraph/internal/warperrors"
)

// Entry is one (patch, sha) pair in a provenance payload.
type Entry struct {
	Patch model.Patch `cbor:"patch"`
	SHA   string      `cbor:"sha"`
}

// Payload is an immutable ordered sequence of entries, forming a
// monoid under Concat: the empty payload is the identity, and fold
// order is preserved by concatenation, so Concat is associative.
type Payload []Entry

// Concat returns a new payload with other appended after p.
func (p Payload) Concat(other Payload) Payload {
	out := make(Payload, 0, len(p)+len(other))
	out = append(out, p...)
	out = append(out, other...)
	return out
}

// Slice returns entries [start, end), for extracting a causal cone
// sub-range.
func (p Payload) Slice(start, end int) Payload {
	out := make(Payload, end-start)
	copy(out, p[start:end])
	return out
}

// Replay applies p's patches, in their existing order, through the
// join reducer against initial (or a fresh state if initial is nil).
// Callers that need causal ordering must sort p with
// reducer.SortCausally before calling Replay.
func (p Payload) Replay(initial *state.State) (*state.State, []reducer.TickReceipt, error) {
	s := initial
	if s == nil {
		s = state.New()
	} else {
		s = s.Clone()
	}
	pairs := make([]reducer.PatchWithSHA, len(p))
	for i, e := range p {
		pairs[i] = reducer.PatchWithSHA{Patch: e.Patch, SHA: e.SHA}
	}
	receipts, err := reducer.Fold(s, pairs)
	return s, receipts, err
}

// Index maps an entity id (node id or encoded edge key) to the ordered
// list of patch shas that wrote to it, populated incrementally during
// reduction.
type Index struct {
	byEntity map[string][]string
}

// NewIndex returns an empty provenance index.
func NewIndex() *Index {
	return &Index{byEntity: make(map[string][]string)}
}

// Record appends sha to every entity id's patch list, in declaration
// order, skipping duplicates of the immediately preceding entry (a
// patch that touches the same entity twice is recorded once).
func (idx *Index) Record(entityIDs []string, sha string) {
	for _, id := range entityIDs {
		list := idx.byEntity[id]
		if len(list) > 0 && list[len(list)-1] == sha {
			continue
		}
		idx.byEntity[id] = append(list, sha)
	}
}

// PatchesFor returns the patch shas recorded against entityID, oldest
// first.
func (idx *Index) PatchesFor(entityID string) []string {
	return idx.byEntity[entityID]
}

// Entries returns a copy of the index's full entity->shas map, for
// checkpoint serialization.
func (idx *Index) Entries() map[string][]string {
	out := make(map[string][]string, len(idx.byEntity))
	for entity, list := range idx.byEntity {
		cp := make([]string, len(list))
		copy(cp, list)
		out[entity] = cp
	}
	return out
}

// FromEntries rebuilds an Index from a previously serialized Entries map.
func FromEntries(entries map[string][]string) *Index {
	idx := NewIndex()
	for entity, list := range entries {
		cp := make([]string, len(list))
		copy(cp, list)
		idx.byEntity[entity] = cp
	}
	return idx
}

// Drop removes every sha in covered from every entity's recorded list,
// deleting the entity entirely if nothing remains. Used by GC to shed
// provenance for patches already folded into a checkpoint.
func (idx *Index) Drop(covered map[string]bool) {
	for entity, list := range idx.byEntity {
		kept := list[:0]
		for _, sha := range list {
			if !covered[sha] {
				kept = append(kept, sha)
			}
		}
		if len(kept) == 0 {
			delete(idx.byEntity, entity)
		} else {
			idx.byEntity[entity] = kept
		}
	}
}

// PatchLoader resolves a patch sha to its decoded patch, with callers
// expected to cache results across a single causal-cone walk to avoid
// double I/O.
type PatchLoader func(sha string) (model.Patch, error)

// cancelCheckInterval is how many entities BackwardCausalCone processes
// between checks of the cancellation signal, per spec §5.
const cancelCheckInterval = 1000

// BackwardCausalCone performs a BFS over idx starting from root: for
// each entity in the frontier, pull every patch that wrote to it, then
// enqueue each patch's declared read dependencies. Loaded patches are
// cached so a patch reachable from multiple entities is fetched once.
// The collected set is returned unsorted; callers that want a
// replayable payload should sort it with reducer.SortCausally first.
func BackwardCausalCone(root string, idx *Index, load PatchLoader, cancel <-chan struct{}) (Payload, error) {
	visitedEntities := map[string]struct{}{root: {}}
	queue := []string{root}
	loaded := make(map[string]model.Patch)
	collected := make(map[string]Entry)

	processed := 0
	for len(queue) > 0 {
		entity := queue[0]
		queue = queue[1:]

		processed++
		if processed%cancelCheckInterval == 0 && cancelled(cancel) {
			return nil, warperrors.Aborted("causal_cone")
		}

		for _, sha := range idx.PatchesFor(entity) {
			patch, ok := loaded[sha]
			if !ok {
				var err error
				patch, err = load(sha)
				if err != nil {
					return nil, fmt.Errorf("provenance: loading patch %s: %w", sha, err)
				}
				loaded[sha] = patch
			}
			collected[sha] = Entry{Patch: patch, SHA: sha}

			for _, read := range patch.Reads {
				if _, seen := visitedEntities[read]; !seen {
					visitedEntities[read] = struct{}{}
					queue = append(queue, read)
				}
			}
		}
	}

	out := make(Payload, 0, len(collected))
	for _, e := range collected {
		out = append(out, e)
	}
	return out, nil
}

func cancelled(c <-chan struct{}) bool {
	if c == nil {
		return false
	}
	select {
	case <-c:
		return true
	default:
		return false
	}
}

// BTRVersion is the only version this codebase produces or accepts.
const BTRVersion = 1

// BTR is a Boundary Transition Record, per spec §4.9: a signed claim
// that replaying payload P against initial state U0 transitions the
// graph from hIn to hOut.
type BTR struct {
	Version int                 `cbor:"version"`
	HIn     string              `cbor:"hIn"`
	HOut    string              `cbor:"hOut"`
	U0      state.FullSnapshot  `cbor:"u0"`
	P       Payload             `cbor:"p"`
	T       string              `cbor:"t"`
	Kappa   string              `cbor:"kappa"`
}

// CreateBTR replays payload against initial, computing hIn/hOut and an
// HMAC-SHA256 authentication tag over the canonical encoding of every
// field but Kappa itself. key must be non-empty.
func CreateBTR(codec *canon.Codec, key []byte, initial *state.State, payload Payload) (BTR, error) {
	if len(key) == 0 {
		return BTR{}, fmt.Errorf("provenance: BTR signing key must not be empty")
	}
	hIn, err := state.ComputeStateHash(initial, codec)
	if err != nil {
		return BTR{}, fmt.Errorf("provenance: hashing initial state: %w", err)
	}
	u0, err := initial.Snapshot()
	if err != nil {
		return BTR{}, fmt.Errorf("provenance: snapshotting initial state: %w", err)
	}
	final, _, err := payload.Replay(initial)
	if err != nil {
		return BTR{}, fmt.Errorf("provenance: replaying payload: %w", err)
	}
	hOut, err := state.ComputeStateHash(final, codec)
	if err != nil {
		return BTR{}, fmt.Errorf("provenance: hashing final state: %w", err)
	}

	btr := BTR{
		Version: BTRVersion,
		HIn:     hIn,
		HOut:    hOut,
		U0:      u0,
		P:       payload,
		T:       time.Now().UTC().Format(time.RFC3339),
	}
	kappa, err := signBTR(codec, key, btr)
	if err != nil {
		return BTR{}, err
	}
	btr.Kappa = kappa
	return btr, nil
}

// signBTR computes HMAC-SHA256(key, canonicalCborEncode({version, hIn,
// hOut, U0, P, t})), hex-encoded. btr.Kappa is ignored; the signature
// covers every other field.
func signBTR(codec *canon.Codec, key []byte, btr BTR) (string, error) {
	signable := btr
	signable.Kappa = ""
	encoded, err := codec.Encode(signable)
	if err != nil {
		return "", fmt.Errorf("provenance: encoding BTR for signing: %w", err)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(encoded)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyReason enumerates why BTR verification failed.
type VerifyReason string

const (
	ReasonNone               VerifyReason = ""
	ReasonMissingField       VerifyReason = "Missing required field"
	ReasonUnsupportedVersion VerifyReason = "Unsupported version"
	ReasonAuthMismatch       VerifyReason = "Authentication tag mismatch"
	ReasonReplayMismatch     VerifyReason = "Replay mismatch"
	ReasonInvalidHex         VerifyReason = "Invalid hex"
)

// VerifyResult is the outcome of VerifyBTR.
type VerifyResult struct {
	Valid  bool
	Reason VerifyReason
}

// VerifyBTR validates btr's shape, re-derives kappa and compares it in
// constant time against the provided value, and, if verifyReplay is
// set, re-replays P against U0 to confirm hOut still matches.
func VerifyBTR(codec *canon.Codec, key []byte, btr BTR, verifyReplay bool) (VerifyResult, error) {
	if btr.HIn == "" || btr.HOut == "" || btr.T == "" || btr.Kappa == "" {
		return VerifyResult{Reason: ReasonMissingField}, nil
	}
	if btr.Version != BTRVersion {
		return VerifyResult{Reason: ReasonUnsupportedVersion}, nil
	}

	providedKappa, err := hex.DecodeString(btr.Kappa)
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidHex}, nil
	}

	expectedHex, err := signBTR(codec, key, btr)
	if err != nil {
		return VerifyResult{}, err
	}
	expectedKappa, err := hex.DecodeString(expectedHex)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("provenance: internal hex encode error: %w", err)
	}

	if len(providedKappa) != len(expectedKappa) {
		return VerifyResult{Reason: ReasonAuthMismatch}, nil
	}
	if subtle.ConstantTimeCompare(providedKappa, expectedKappa) != 1 {
		return VerifyResult{Reason: ReasonAuthMismatch}, nil
	}

	if verifyReplay {
		initial := state.FromSnapshot(btr.U0)
		final, _, err := btr.P.Replay(initial)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("provenance: replaying for verification: %w", err)
		}
		hOut, err := state.ComputeStateHash(final, codec)
		if err != nil {
			return VerifyResult{}, err
		}
		if hOut != btr.HOut {
			return VerifyResult{Reason: ReasonReplayMismatch}, nil
		}
	}

	return VerifyResult{Valid: true}, nil
}

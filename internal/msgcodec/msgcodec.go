// Package msgcodec encodes and decodes the trailer-bearing commit
// messages WARP attaches to patch, checkpoint, anchor, and audit
// commits (spec §4.5), and implements the schema-compatibility gate
// between the v2 and v3 op vocabularies.
//
// Grounded on the structured trailer-comment conventions the teacher
// uses throughout internal/graph/builder.go ("Reference:" style
// metadata trailers attached to generated text), generalized here to a
// fixed, validated key namespace.
package msgcodec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/git-stunts/warpgraph/internal/model"
	"github.com/git-stunts/warpgraph/internal/refs"
)

// MessageKind identifies the kind of WARP commit a message describes.
type MessageKind string

const (
	KindPatch      MessageKind = "patch"
	KindCheckpoint MessageKind = "checkpoint"
	KindAnchor     MessageKind = "anchor"
	KindAudit      MessageKind = "audit"
	KindNone       MessageKind = ""
)

// Trailer keys, namespaced per spec §4.5.
const (
	keyKind        = "eg-kind"
	keyGraph       = "eg-graph"
	keyWriter      = "eg-writer"
	keyLamport     = "eg-lamport"
	keyPatchOID    = "eg-patch-oid"
	keyStateHash   = "eg-state-hash"
	keyFrontierOID = "eg-frontier-oid"
	keyIndexOID    = "eg-index-oid"
	keySchema      = "eg-schema"
	keyCheckpoint  = "eg-checkpoint"
	keyDataCommit  = "eg-data-commit"
	keyOpsDigest   = "eg-ops-digest"
)

const checkpointVersion = "v5"

// BuildPatchMessage renders a patch commit message.
func BuildPatchMessage(graph, writer string, lamport uint64, patchOID string, schema model.SchemaVersion) (string, error) {
	if err := refs.ValidateGraph(graph); err != nil {
		return "", err
	}
	if err := refs.ValidateWriter(writer); err != nil {
		return "", err
	}
	if !isOIDHex(patchOID) {
		return "", fmt.Errorf("msgcodec: patch oid %q is not 40 or 64 lowercase hex chars", patchOID)
	}
	lines := []string{
		"warp:patch",
		"",
		trailer(keyKind, string(KindPatch)),
		trailer(keyGraph, graph),
		trailer(keyWriter, writer),
		trailer(keyLamport, strconv.FormatUint(lamport, 10)),
		trailer(keyPatchOID, patchOID),
		trailer(keySchema, schemaString(schema)),
	}
	return strings.Join(lines, "\n"), nil
}

// BuildCheckpointMessage renders a checkpoint commit message.
func BuildCheckpointMessage(graph, stateHash, frontierOID, indexOID string, schema model.SchemaVersion) (string, error) {
	if err := refs.ValidateGraph(graph); err != nil {
		return "", err
	}
	if !isHexOfLen(stateHash, 64) {
		return "", fmt.Errorf("msgcodec: state hash %q is not 64 lowercase hex chars", stateHash)
	}
	if !isOIDHex(frontierOID) {
		return "", fmt.Errorf("msgcodec: frontier oid %q is not 40 or 64 lowercase hex chars", frontierOID)
	}
	if !isOIDHex(indexOID) {
		return "", fmt.Errorf("msgcodec: index oid %q is not 40 or 64 lowercase hex chars", indexOID)
	}
	lines := []string{
		"warp:checkpoint",
		"",
		trailer(keyKind, string(KindCheckpoint)),
		trailer(keyGraph, graph),
		trailer(keySchema, schemaString(schema)),
		trailer(keyStateHash, stateHash),
		trailer(keyFrontierOID, frontierOID),
		trailer(keyIndexOID, indexOID),
		trailer(keyCheckpoint, checkpointVersion),
	}
	return strings.Join(lines, "\n"), nil
}

// BuildAnchorMessage renders an anchor commit message, which carries
// only kind, graph, and schema.
func BuildAnchorMessage(graph string, schema model.SchemaVersion) (string, error) {
	if err := refs.ValidateGraph(graph); err != nil {
		return "", err
	}
	lines := []string{
		"warp:anchor",
		"",
		trailer(keyKind, string(KindAnchor)),
		trailer(keyGraph, graph),
		trailer(keySchema, schemaString(schema)),
	}
	return strings.Join(lines, "\n"), nil
}

// BuildAuditMessage renders an audit commit message with its trailers
// in lexicographic key order, per spec §4.6.
func BuildAuditMessage(graph, writer, dataCommit, opsDigest string, schema model.SchemaVersion) (string, error) {
	if err := refs.ValidateGraph(graph); err != nil {
		return "", err
	}
	if err := refs.ValidateWriter(writer); err != nil {
		return "", err
	}
	if !isOIDHex(dataCommit) {
		return "", fmt.Errorf("msgcodec: data commit %q is not 40 or 64 lowercase hex chars", dataCommit)
	}
	if !isHexOfLen(opsDigest, 64) {
		return "", fmt.Errorf("msgcodec: ops digest %q is not 64 lowercase hex chars", opsDigest)
	}
	trailers := map[string]string{
		keyKind:       string(KindAudit),
		keyGraph:      graph,
		keyWriter:     writer,
		keyDataCommit: dataCommit,
		keyOpsDigest:  opsDigest,
		keySchema:     schemaString(schema),
	}
	keys := make([]string, 0, len(trailers))
	for k := range trailers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{"warp:audit", ""}
	for _, k := range keys {
		lines = append(lines, trailer(k, trailers[k]))
	}
	return strings.Join(lines, "\n"), nil
}

// DetectMessageKind safely reports which kind of WARP message msg is,
// returning KindNone without error for anything that isn't one.
func DetectMessageKind(msg string) MessageKind {
	trailers, ok := parseTrailers(msg)
	if !ok {
		return KindNone
	}
	switch MessageKind(trailers[keyKind]) {
	case KindPatch:
		return KindPatch
	case KindCheckpoint:
		return KindCheckpoint
	case KindAnchor:
		return KindAnchor
	case KindAudit:
		return KindAudit
	default:
		return KindNone
	}
}

// ParseTrailers parses and validates the trailer block of msg,
// returning the key/value map. Unknown messages (no trailer block, or
// an unrecognized eg-kind) return an error.
func ParseTrailers(msg string) (map[string]string, error) {
	trailers, ok := parseTrailers(msg)
	if !ok {
		return nil, fmt.Errorf("msgcodec: message has no trailer block")
	}
	kind := MessageKind(trailers[keyKind])
	switch kind {
	case KindPatch, KindCheckpoint, KindAnchor, KindAudit:
	default:
		return nil, fmt.Errorf("msgcodec: unrecognized eg-kind %q", trailers[keyKind])
	}
	for key, value := range trailers {
		if err := validateTrailerValue(key, value); err != nil {
			return nil, err
		}
	}
	return trailers, nil
}

// parseTrailers splits msg into title + trailer lines and returns the
// parsed key/value map. ok is false if msg has no blank-line-delimited
// trailer block at all.
func parseTrailers(msg string) (map[string]string, bool) {
	parts := strings.SplitN(msg, "\n\n", 2)
	if len(parts) != 2 {
		return nil, false
	}
	trailers := make(map[string]string)
	for _, line := range strings.Split(strings.TrimRight(parts[1], "\n"), "\n") {
		if line == "" {
			continue
		}
		kv := strings.SplitN(line, ": ", 2)
		if len(kv) != 2 {
			return nil, false
		}
		trailers[kv[0]] = kv[1]
	}
	if _, present := trailers[keyKind]; !present {
		return nil, false
	}
	return trailers, true
}

func validateTrailerValue(key, value string) error {
	switch key {
	case keyPatchOID, keyFrontierOID, keyIndexOID, keyDataCommit:
		if !isOIDHex(value) {
			return fmt.Errorf("msgcodec: %s value %q is not 40 or 64 lowercase hex chars", key, value)
		}
	case keyStateHash, keyOpsDigest:
		if !isHexOfLen(value, 64) {
			return fmt.Errorf("msgcodec: %s value %q is not 64 lowercase hex chars", key, value)
		}
	case keyLamport, keySchema:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("msgcodec: %s value %q is not a positive integer", key, value)
		}
	case keyGraph:
		if err := refs.ValidateGraph(value); err != nil {
			return fmt.Errorf("msgcodec: %s: %w", key, err)
		}
	case keyWriter:
		if err := refs.ValidateWriter(value); err != nil {
			return fmt.Errorf("msgcodec: %s: %w", key, err)
		}
	}
	return nil
}

// DetectSchemaVersion returns Schema3 if any op is a PropSet targeting
// an edge-property key (leading 0x01 sentinel), else Schema2.
func DetectSchemaVersion(ops []model.Op) model.SchemaVersion {
	for _, op := range ops {
		if op.TargetsEdgeProp() {
			return model.Schema3
		}
	}
	return model.Schema2
}

// AssertOpsCompatible rejects ops containing an edge-property PropSet
// when maxSchema caps the reader at Schema2. A Schema3-numbered patch
// whose ops are all v2-safe remains acceptable: the schema number
// alone is never the rejection criterion, only the op contents are.
func AssertOpsCompatible(ops []model.Op, maxSchema model.SchemaVersion) error {
	if maxSchema >= model.Schema3 {
		return nil
	}
	for i, op := range ops {
		if op.TargetsEdgeProp() {
			return fmt.Errorf("msgcodec: op %d is an edge-property PropSet, unsupported under schema %d", i, maxSchema)
		}
	}
	return nil
}

// ComputeOpsDigest returns sha256Hex("git-warp:opsDigest:v1\0" ||
// canonicalJSON(ops)), the audit receipt's ops fingerprint.
func ComputeOpsDigest(ops []model.Op) (string, error) {
	canonical, err := canonicalJSON(ops)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte("git-warp:opsDigest:v1\x00"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON renders ops as JSON with lexicographically sorted
// object keys, raw UTF-8, and standard JSON escapes (encoding/json
// escapes control bytes including NUL as \u0000, matching spec §4.6).
// Structs are routed through map[string]interface{} first because
// encoding/json preserves declared struct field order rather than
// sorting it, while it does sort map keys.
func canonicalJSON(ops []model.Op) ([]byte, error) {
	raw, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("msgcodec: marshal ops: %w", err)
	}
	var asMaps []map[string]interface{}
	if err := json.Unmarshal(raw, &asMaps); err != nil {
		return nil, fmt.Errorf("msgcodec: re-decode ops as maps: %w", err)
	}
	out, err := json.Marshal(asMaps)
	if err != nil {
		return nil, fmt.Errorf("msgcodec: marshal canonical ops: %w", err)
	}
	return out, nil
}

func trailer(key, value string) string {
	return key + ": " + value
}

func schemaString(schema model.SchemaVersion) string {
	return strconv.Itoa(int(schema))
}

func isOIDHex(s string) bool {
	return isHexOfLen(s, 40) || isHexOfLen(s, 64)
}

func isHexOfLen(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

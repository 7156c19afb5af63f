// Package keycodec encodes and decodes the composite keys described in
// spec §4.4: edge keys (from \0 to \0 label) and edge-property keys
// (a leading 0x01 sentinel byte followed by the edge key), kept in a
// distinct namespace from plain node-property keys.
//
// Grounded on the teacher's internal/graph/builder.go composite node id
// helpers (buildCompositeNodeID / parseCompositeNodeID), generalized
// from a colon separator to the \0 separator and 0x01 sentinel spec §4.4
// requires.
package keycodec

import (
	"fmt"
	"strings"
)

const (
	separator        = "\x00"
	edgePropSentinel = byte(0x01)
)

// EncodeEdgeKey builds the from\0to\0label composite key identifying an
// edge. Returns an error if any component contains a reserved byte.
func EncodeEdgeKey(from, to, label string) (string, error) {
	for _, c := range []string{from, to, label} {
		if err := checkComponent(c); err != nil {
			return "", err
		}
	}
	var b strings.Builder
	b.Grow(len(from) + len(to) + len(label) + 2)
	b.WriteString(from)
	b.WriteString(separator)
	b.WriteString(to)
	b.WriteString(separator)
	b.WriteString(label)
	return b.String(), nil
}

// DecodeEdgeKey splits an edge key back into (from, to, label).
func DecodeEdgeKey(key string) (from, to, label string, err error) {
	parts := strings.Split(key, separator)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("keycodec: %q is not a valid edge key (expected 3 components, got %d)", key, len(parts))
	}
	return parts[0], parts[1], parts[2], nil
}

// EncodeEdgePropKey builds a property target key in the edge-property
// namespace: a 0x01 sentinel byte followed by the edge key. This keeps
// edge properties from colliding with node-property keys in the same
// prop map, per spec §4.4.
func EncodeEdgePropKey(from, to, label string) (string, error) {
	edgeKey, err := EncodeEdgeKey(from, to, label)
	if err != nil {
		return "", err
	}
	return string(edgePropSentinel) + edgeKey, nil
}

// IsEdgePropKey reports whether key carries the edge-property sentinel.
func IsEdgePropKey(key string) bool {
	return len(key) > 0 && key[0] == edgePropSentinel
}

// DecodeEdgePropKey strips the sentinel and splits the remainder into
// (from, to, label). Returns an error if key is not in the
// edge-property namespace.
func DecodeEdgePropKey(key string) (from, to, label string, err error) {
	if !IsEdgePropKey(key) {
		return "", "", "", fmt.Errorf("keycodec: %q does not carry the edge-property sentinel", key)
	}
	return DecodeEdgeKey(key[1:])
}

// checkComponent rejects components containing the separator or the
// edge-property sentinel byte, per spec §4.4's encoder contract.
func checkComponent(c string) error {
	if strings.Contains(c, separator) {
		return fmt.Errorf("keycodec: component %q contains the reserved separator byte", c)
	}
	if strings.IndexByte(c, edgePropSentinel) >= 0 {
		return fmt.Errorf("keycodec: component %q contains the reserved sentinel byte 0x01", c)
	}
	return nil
}

// propKeyFieldSep separates a PropSet's target (a node id, or an
// edge-property key already containing \0 and 0x01 bytes of its own)
// from its property name when both are combined into a single LWW
// register map key. The state's prop map is keyed by propKey, per spec
// §3 ("prop: mapping propKey → LWW register"); since a single entity
// can hold several distinct properties, propKey must combine the
// target with the property name, not just the target alone.
const propKeyFieldSep = "\x02"

// EncodePropKey combines a PropSet's target and property name into the
// propKey used as the state's prop map key.
func EncodePropKey(target, key string) (string, error) {
	if strings.Contains(key, propKeyFieldSep) {
		return "", fmt.Errorf("keycodec: property name %q contains the reserved field separator byte", key)
	}
	return target + propKeyFieldSep + key, nil
}

// DecodePropKey splits a propKey back into (target, name).
func DecodePropKey(propKey string) (target, key string, err error) {
	idx := strings.Index(propKey, propKeyFieldSep)
	if idx < 0 {
		return "", "", fmt.Errorf("keycodec: %q is not a valid propKey (missing field separator)", propKey)
	}
	return propKey[:idx], propKey[idx+1:], nil
}

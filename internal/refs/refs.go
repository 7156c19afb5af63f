// Package refs builds and parses the namespaced ref paths WarpGraph uses
// in the underlying PersistencePort, as laid out in spec §4.2. Every ref
// shares the prefix refs/warp/<graph>/… so a single prefix scan enumerates
// writers.
//
// Grounded on the teacher's internal/graph/builder.go composite-id
// helpers (buildCompositeNodeID / parseCompositeNodeID): the same
// separator-delimited, validated, round-trippable identifier idiom,
// generalized here to ref paths instead of graph node ids.
package refs

import (
	"fmt"
	"strings"
)

const basePrefix = "refs/warp"

// disallowed characters in a graph or writer id, per spec §3's Graph
// invariant ("no .., ;, space, NUL").
func hasDisallowed(s string) bool {
	return strings.Contains(s, "..") ||
		strings.Contains(s, ";") ||
		strings.Contains(s, " ") ||
		strings.Contains(s, "\x00")
}

// ValidateGraph checks a graph name against spec §3's invariant.
func ValidateGraph(graph string) error {
	if graph == "" {
		return fmt.Errorf("refs: graph name must not be empty")
	}
	if hasDisallowed(graph) {
		return fmt.Errorf("refs: graph name %q contains a disallowed character", graph)
	}
	if strings.Contains(graph, "/") {
		return fmt.Errorf("refs: graph name %q must not contain '/'", graph)
	}
	return nil
}

var writerCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789._-"

// ValidateWriter checks a writer id against spec §3's
// `[A-Za-z0-9._-]{1,64}` invariant.
func ValidateWriter(writer string) error {
	if len(writer) < 1 || len(writer) > 64 {
		return fmt.Errorf("refs: writer id %q must be 1-64 characters", writer)
	}
	for _, r := range writer {
		if !strings.ContainsRune(writerCharset, r) {
			return fmt.Errorf("refs: writer id %q contains disallowed character %q", writer, r)
		}
	}
	return nil
}

// WriterTip returns refs/warp/<graph>/writers/<writerId>.
func WriterTip(graph, writer string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	if err := ValidateWriter(writer); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/writers/%s", basePrefix, graph, writer), nil
}

// WritersPrefix returns refs/warp/<graph>/writers/, for enumerating
// every writer tip via a prefix scan.
func WritersPrefix(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/writers/", basePrefix, graph), nil
}

// CheckpointHead returns refs/warp/<graph>/checkpoints/head.
func CheckpointHead(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/checkpoints/head", basePrefix, graph), nil
}

// CoverageHead returns refs/warp/<graph>/coverage/head.
func CoverageHead(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/coverage/head", basePrefix, graph), nil
}

// CursorActive returns refs/warp/<graph>/cursor/active.
func CursorActive(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/cursor/active", basePrefix, graph), nil
}

// CursorSaved returns refs/warp/<graph>/cursor/saved/<name>.
func CursorSaved(graph, name string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	if name == "" || hasDisallowed(name) || strings.Contains(name, "/") {
		return "", fmt.Errorf("refs: cursor name %q is invalid", name)
	}
	return fmt.Sprintf("%s/%s/cursor/saved/%s", basePrefix, graph, name), nil
}

// SeekCache returns refs/warp/<graph>/seek-cache.
func SeekCache(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/seek-cache", basePrefix, graph), nil
}

// GraphPrefix returns refs/warp/<graph>/, the root every ref for a
// graph is nested under.
func GraphPrefix(graph string) (string, error) {
	if err := ValidateGraph(graph); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/", basePrefix, graph), nil
}

// ParseWriterTip extracts the graph and writer id from a writer tip ref,
// rejecting any path containing traversal sequences or foreign prefixes.
func ParseWriterTip(ref string) (graph, writer string, err error) {
	if strings.Contains(ref, "..") {
		return "", "", fmt.Errorf("refs: path %q contains a traversal sequence", ref)
	}
	if !strings.HasPrefix(ref, basePrefix+"/") {
		return "", "", fmt.Errorf("refs: path %q is not under %s/", ref, basePrefix)
	}
	rest := strings.TrimPrefix(ref, basePrefix+"/")
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "writers" {
		return "", "", fmt.Errorf("refs: path %q is not a writer tip ref", ref)
	}
	graph, writer = parts[0], parts[2]
	if err := ValidateGraph(graph); err != nil {
		return "", "", err
	}
	if err := ValidateWriter(writer); err != nil {
		return "", "", err
	}
	return graph, writer, nil
}

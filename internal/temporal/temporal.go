// Package temporal implements the "Temporal queries" component named in
// spec §2's component table (3% share) but left without a dedicated
// section in §4: always/eventually predicate evaluation over replayed
// history (spec §9, "Supplemented Features"). Both predicates replay the
// full (or ceiling-bounded) causal history through internal/reducer,
// evaluating the caller's predicate after every patch application rather
// than only against the final materialized state.
//
// Grounded on internal/warpgraph's own materialize walk (it assembles the
// same causally-sorted patch/sha pairs from a PersistencePort and folds
// them through internal/reducer); this package reuses that shape but
// stops to evaluate a predicate after each fold step instead of only
// returning the final state.
package temporal

import (
	"context"
	"fmt"

	"github.com/git-stunts/warpgraph/internal/canon"
	"github.com/git-stunts/warpgraph/internal/ports"
	"github.com/git-stunts/warpgraph/internal/reducer"
	"github.com/git-stunts/warpgraph/internal/state"
	"github.com/git-stunts/warpgraph/internal/syncproto"
	"github.com/git-stunts/warpgraph/internal/warperrors"
)

// Predicate inspects a materialized state at one point in the replayed
// history and reports whether it holds.
type Predicate func(*state.State) bool

// Options bounds the history replayed by Always/Eventually.
type Options struct {
	// Ceiling, if non-zero, stops the replay after folding the last
	// patch with Lamport <= Ceiling, mirroring
	// warpgraph.MaterializeOptions.Ceiling.
	Ceiling uint64
}

// Always reports whether pred holds after every patch application in
// the graph's causal history, in causal order (spec §9: "always(pred)
// requires the predicate to hold after every patch application"). A
// graph with no patches vacuously satisfies Always.
func Always(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, graph string, pred Predicate, opts Options) (bool, error) {
	ok := true
	err := replay(ctx, store, codec, graph, opts, func(s *state.State) bool {
		if !pred(s) {
			ok = false
			return false // no need to keep folding once it's falsified
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Eventually reports whether pred holds after at least one patch
// application in the graph's causal history (spec §9: "eventually(pred)
// requires at least one"). A graph with no patches never satisfies
// Eventually.
func Eventually(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, graph string, pred Predicate, opts Options) (bool, error) {
	found := false
	err := replay(ctx, store, codec, graph, opts, func(s *state.State) bool {
		if pred(s) {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// replay walks graph's full causal history (bounded by opts.Ceiling, if
// set), folding one patch at a time and calling visit with the resulting
// state after each fold. visit returns false to stop early.
func replay(ctx context.Context, store ports.PersistencePort, codec *canon.Codec, graph string, opts Options, visit func(*state.State) bool) error {
	resp, err := syncproto.BuildResponse(ctx, store, codec, graph, syncproto.Frontier{})
	if err != nil {
		return fmt.Errorf("temporal: walking history: %w", err)
	}

	pairs := make([]reducer.PatchWithSHA, 0, len(resp.Patches))
	for _, wp := range resp.Patches {
		if opts.Ceiling > 0 && wp.Patch.Lamport > opts.Ceiling {
			continue
		}
		pairs = append(pairs, reducer.PatchWithSHA{Patch: wp.Patch, SHA: wp.SHA})
	}
	reducer.SortCausally(pairs)

	s := state.New()
	for _, pair := range pairs {
		if _, err := reducer.Fold(s, []reducer.PatchWithSHA{pair}); err != nil {
			return fmt.Errorf("temporal: folding patch %s: %w", pair.SHA, err)
		}
		if !visit(s) {
			return nil
		}
		select {
		case <-ctx.Done():
			return warperrors.Aborted("temporal replay")
		default:
		}
	}
	return nil
}

// Package originlink is the optional bridge SPEC_FULL.md §B wires in for
// repos that mirror WarpGraph graphs alongside a GitHub-hosted object
// store: it annotates an audit commit's eg-data-commit trailer (spec §6)
// with the upstream GitHub commit metadata that SHA actually points at,
// for display purposes only. It never participates in materialization,
// reduction, or any core graph operation — annotations are a read-only
// side channel.
//
// Grounded on the teacher's internal/github/client.go (rate-limited
// *github.Client wrapper); this package keeps the same wrapping idiom
// but trims it to the single lookup WarpGraph's audit trail needs.
package originlink

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
)

// Annotation is the upstream commit metadata attached to a WarpGraph
// audit commit for display.
type Annotation struct {
	SHA       string
	Author    string
	Message   string
	URL       string
	Additions int
	Deletions int
}

// Linker annotates audit commits with upstream GitHub commit metadata.
type Linker struct {
	client *github.Client
}

// New wraps an authenticated *github.Client. Pass github.NewClient(nil)
// for unauthenticated, rate-limited-by-IP access.
func New(client *github.Client) *Linker {
	return &Linker{client: client}
}

// AnnotateAuditCommit looks up sha in owner/repo and returns the
// display metadata for a WarpGraph audit commit's eg-data-commit
// trailer (spec §6). It makes no changes to the graph or to GitHub;
// the result is purely informational.
func (l *Linker) AnnotateAuditCommit(ctx context.Context, owner, repo, sha string) (Annotation, error) {
	commit, _, err := l.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return Annotation{}, fmt.Errorf("originlink: fetching commit %s/%s@%s: %w", owner, repo, sha, err)
	}

	ann := Annotation{SHA: commit.GetSHA(), URL: commit.GetHTMLURL()}
	if author := commit.GetCommit().GetAuthor(); author != nil {
		ann.Author = author.GetName()
	}
	ann.Message = commit.GetCommit().GetMessage()
	if stats := commit.GetStats(); stats != nil {
		ann.Additions = stats.GetAdditions()
		ann.Deletions = stats.GetDeletions()
	}
	return ann, nil
}

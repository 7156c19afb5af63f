package syncauth

import "github.com/git-stunts/warpgraph/internal/model"

// WritersOf collects every writer id referenced anywhere in patches:
// the patch's own Writer, and every op's dot and observed-dot writers.
// Per spec §D's allow-list resolution, enforcement checks every writer
// an op references, not just the request's frontier keys, since a
// forged frontier entry without matching ops would otherwise bypass
// the list.
func WritersOf(patches []model.Patch) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, p := range patches {
		add(p.Writer)
		for _, op := range p.Ops {
			add(op.Dot.Writer)
			for _, d := range op.ObservedDots {
				add(d.Writer)
			}
		}
	}
	return out
}

package searchindex

import (
	"slices"
	"strings"
)

// LookupOptions narrows a Lookup. Zero values mean no restriction.
type LookupOptions struct {
	Crates []string
	Kinds  []ItemKind
	Limit  int
}

// Lookup returns items whose name or qualified path contains query,
// case-insensitively, in crate then item order. An empty query matches
// every item. Results are not ranked.
func (ix *Index) Lookup(query string, opts LookupOptions) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Item
	for _, name := range ix.names {
		if len(opts.Crates) > 0 && !slices.Contains(opts.Crates, name) {
			continue
		}
		c := ix.crates[name]
		for i := range c.desc.Names {
			it, _ := c.Item(i)
			if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, it.Kind) {
				continue
			}
			if q != "" &&
				!strings.Contains(strings.ToLower(it.Name), q) &&
				!strings.Contains(strings.ToLower(it.Path()), q) {
				continue
			}
			out = append(out, it)
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out
			}
		}
	}
	return out
}

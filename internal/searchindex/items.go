package searchindex

import (
	"slices"
	"strings"
)

// Item is a resolved entry of a crate: the parallel columns of the
// descriptor joined for one index.
type Item struct {
	Crate         string
	Index         int
	Kind          ItemKind
	Name          string
	ModulePath    string
	Parent        *TypePath
	Doc           string
	Function      *FunctionType
	Signature     string
	Deprecated    bool
	Disambiguator string
}

// Path returns the fully qualified path, e.g. qrc::QRCode::new.
func (it Item) Path() string {
	parts := make([]string, 0, 3)
	if it.ModulePath != "" {
		parts = append(parts, it.ModulePath)
	}
	if it.Parent != nil {
		parts = append(parts, it.Parent.Name)
	}
	parts = append(parts, it.Name)
	return strings.Join(parts, "::")
}

// Item returns the resolved item at index i.
func (c *Crate) Item(i int) (Item, bool) {
	if i < 0 || i >= len(c.desc.Names) {
		return Item{}, false
	}
	d := &c.desc
	it := Item{
		Crate:      c.name,
		Index:      i,
		Name:       d.Names[i],
		ModulePath: c.itemPaths[i],
	}
	if i < len(d.Kinds) {
		it.Kind, _ = KindFromCode(d.Kinds[i])
	}
	if i < len(d.Docs) {
		it.Doc = d.Docs[i]
	}
	if i < len(d.Parents) {
		if tp, ok := c.TypePath(d.Parents[i]); ok {
			it.Parent = &tp
		}
	}
	if i < len(d.Functions) && d.Functions[i] != nil {
		it.Function = d.Functions[i].Clone()
		it.Signature = c.RenderSignature(it.Function)
	}
	it.Deprecated = slices.Contains(d.Deprecated, i)
	for _, b := range d.ImplDisambiguators {
		if b.Index == i {
			it.Disambiguator = b.Name
			break
		}
	}
	return it, true
}

// Items returns every item in index order.
func (c *Crate) Items() []Item {
	out := make([]Item, 0, len(c.desc.Names))
	for i := range c.desc.Names {
		it, _ := c.Item(i)
		out = append(out, it)
	}
	return out
}

// FindItem returns the first item whose fully qualified path equals path.
func (c *Crate) FindItem(path string) (Item, bool) {
	for i := range c.desc.Names {
		it, _ := c.Item(i)
		if it.Path() == path {
			return it, true
		}
	}
	return Item{}, false
}

// KindCounts tallies items per kind.
func (c *Crate) KindCounts() map[ItemKind]int {
	counts := make(map[ItemKind]int)
	for i := 0; i < len(c.desc.Kinds); i++ {
		if k, ok := KindFromCode(c.desc.Kinds[i]); ok {
			counts[k]++
		}
	}
	return counts
}

package searchindex

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrUnknownCrate is returned when a crate name is not present in an index.
var ErrUnknownCrate = errors.New("unknown crate")

// Index maps crate names to their descriptors, preserving payload order.
// An Index is never modified after construction; accessors hand out copies.
type Index struct {
	names  []string
	crates map[string]*Crate
}

func newIndex() *Index {
	return &Index{crates: make(map[string]*Crate)}
}

// put adds or replaces a crate. Only used while an index is being built.
func (ix *Index) put(name string, d Descriptor) {
	if _, ok := ix.crates[name]; !ok {
		ix.names = append(ix.names, name)
	}
	ix.crates[name] = newCrate(name, d)
}

// Len returns the number of crates.
func (ix *Index) Len() int { return len(ix.names) }

// Names returns crate names in payload order.
func (ix *Index) Names() []string { return slices.Clone(ix.names) }

// Crate returns the named crate.
func (ix *Index) Crate(name string) (*Crate, bool) {
	c, ok := ix.crates[name]
	return c, ok
}

// Crates returns all crates in payload order.
func (ix *Index) Crates() []*Crate {
	out := make([]*Crate, len(ix.names))
	for i, n := range ix.names {
		out[i] = ix.crates[n]
	}
	return out
}

// Descriptor returns a deep copy of the named crate's descriptor.
func (ix *Index) Descriptor(name string) (Descriptor, error) {
	c, ok := ix.crates[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownCrate, name)
	}
	return c.Descriptor(), nil
}

// Subset returns an index holding only the named crates, in the given order.
func (ix *Index) Subset(names []string) (*Index, error) {
	out := newIndex()
	for _, n := range names {
		c, ok := ix.crates[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCrate, n)
		}
		out.names = append(out.names, n)
		out.crates[n] = c
	}
	return out, nil
}

// Merge combines indexes. Crates keep the position of their first
// appearance; a later index replaces an earlier crate of the same name.
func Merge(indexes ...*Index) *Index {
	out := newIndex()
	for _, ix := range indexes {
		if ix == nil {
			continue
		}
		for _, n := range ix.names {
			if _, ok := out.crates[n]; !ok {
				out.names = append(out.names, n)
			}
			out.crates[n] = ix.crates[n]
		}
	}
	return out
}

// Validate checks every crate's invariants and joins the violations.
func (ix *Index) Validate() error {
	var errs []error
	for _, n := range ix.names {
		if err := ix.crates[n].desc.validate(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Crate is one crate of an index together with its resolved path tables.
type Crate struct {
	name      string
	desc      Descriptor
	itemPaths []string
	qPaths    map[int]string
}

func newCrate(name string, d Descriptor) *Crate {
	c := &Crate{name: name, desc: d, qPaths: make(map[int]string, len(d.Paths))}
	for _, e := range d.Paths {
		c.qPaths[e.Index] = e.Path
	}

	sorted := slices.Clone(d.Paths)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	c.itemPaths = make([]string, len(d.Names))
	last, next := "", 0
	for i := range c.itemPaths {
		for next < len(sorted) && sorted[next].Index <= i {
			last = sorted[next].Path
			next++
		}
		c.itemPaths[i] = last
	}
	return c
}

func (c *Crate) Name() string { return c.name }
func (c *Crate) Doc() string  { return c.desc.Doc }

// Len returns the number of items.
func (c *Crate) Len() int { return len(c.desc.Names) }

// Descriptor returns a deep copy of the wire record.
func (c *Crate) Descriptor() Descriptor { return c.desc.Clone() }

// TypePaths returns a copy of the "p" table.
func (c *Crate) TypePaths() []TypePath { return slices.Clone(c.desc.TypePaths) }

// TypePath resolves a 1-based "p" id.
func (c *Crate) TypePath(id int) (TypePath, bool) {
	if id < 1 || id > len(c.desc.TypePaths) {
		return TypePath{}, false
	}
	return c.desc.TypePaths[id-1], true
}

// ModulePath returns the "q" path a type path points at, if any.
func (c *Crate) ModulePath(tp TypePath) (string, bool) {
	if !tp.HasPath {
		return "", false
	}
	p, ok := c.qPaths[tp.PathIndex]
	return p, ok
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	out := Descriptor{
		Doc:                d.Doc,
		Kinds:              d.Kinds,
		Names:              slices.Clone(d.Names),
		Paths:              slices.Clone(d.Paths),
		Docs:               slices.Clone(d.Docs),
		Parents:            slices.Clone(d.Parents),
		Deprecated:         slices.Clone(d.Deprecated),
		TypePaths:          slices.Clone(d.TypePaths),
		ImplDisambiguators: slices.Clone(d.ImplDisambiguators),
	}
	if d.Functions != nil {
		out.Functions = make(Signatures, len(d.Functions))
		for i, fn := range d.Functions {
			out.Functions[i] = fn.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of f. A nil receiver yields nil.
func (f *FunctionType) Clone() *FunctionType {
	if f == nil {
		return nil
	}
	out := &FunctionType{
		Inputs: cloneTypeRefs(f.Inputs),
		Output: cloneTypeRefs(f.Output),
	}
	if f.Where != nil {
		out.Where = make([][]TypeRef, len(f.Where))
		for i, w := range f.Where {
			out.Where[i] = cloneTypeRefs(w)
		}
	}
	return out
}

func cloneTypeRefs(refs []TypeRef) []TypeRef {
	if refs == nil {
		return nil
	}
	out := make([]TypeRef, len(refs))
	for i, r := range refs {
		out[i] = TypeRef{ID: r.ID, Generics: cloneTypeRefs(r.Generics)}
		if r.Bindings != nil {
			out[i].Bindings = make([]Binding, len(r.Bindings))
			for j, b := range r.Bindings {
				out[i].Bindings[j] = Binding{Key: b.Key, Constraints: cloneTypeRefs(b.Constraints)}
			}
		}
	}
	return out
}

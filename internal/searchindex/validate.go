package searchindex

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ValidationError describes one broken invariant of a crate descriptor.
// Index is -1 when the problem concerns a whole column.
type ValidationError struct {
	Crate  string
	Field  string
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s: %s", e.Crate, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s[%d]: %s", e.Crate, e.Field, e.Index, e.Reason)
}

type validator struct {
	crate string
	errs  []error
}

func (v *validator) fail(field string, index int, format string, args ...any) {
	v.errs = append(v.errs, &ValidationError{
		Crate:  v.crate,
		Field:  field,
		Index:  index,
		Reason: fmt.Sprintf(format, args...),
	})
}

func (d *Descriptor) validate(crate string) error {
	v := &validator{crate: crate}
	n := len(d.Names)

	if got := utf8.RuneCountInString(d.Kinds); got != n {
		v.fail("t", -1, "length %d, want %d", got, n)
	}
	if len(d.Docs) != n {
		v.fail("d", -1, "length %d, want %d", len(d.Docs), n)
	}
	if len(d.Parents) != n {
		v.fail("i", -1, "length %d, want %d", len(d.Parents), n)
	}
	if len(d.Functions) != 0 && len(d.Functions) != n {
		v.fail("f", -1, "length %d, want 0 or %d", len(d.Functions), n)
	}

	for i := 0; i < len(d.Kinds); i++ {
		if _, ok := KindFromCode(d.Kinds[i]); !ok {
			v.fail("t", i, "unknown kind code %q", d.Kinds[i])
		}
	}

	qKeys := make(map[int]bool, len(d.Paths))
	for i, e := range d.Paths {
		if e.Index < 0 {
			v.fail("q", i, "negative key %d", e.Index)
		}
		if qKeys[e.Index] {
			v.fail("q", i, "duplicate key %d", e.Index)
		}
		qKeys[e.Index] = true
	}

	np := len(d.TypePaths)
	for i, tp := range d.TypePaths {
		if !tp.Kind.Valid() {
			v.fail("p", i, "unknown kind %d", int(tp.Kind))
		}
		if tp.HasPath && !qKeys[tp.PathIndex] {
			v.fail("p", i, "path index %d not in q", tp.PathIndex)
		}
	}

	for i, parent := range d.Parents {
		if parent < 0 || parent > np {
			v.fail("i", i, "parent %d outside p (len %d)", parent, np)
		}
	}

	for i, fn := range d.Functions {
		if fn == nil {
			continue
		}
		check := func(ref TypeRef) {
			if ref.IsGeneric() {
				return
			}
			if ref.ID > np {
				v.fail("f", i, "type id %d outside p (len %d)", ref.ID, np)
			}
		}
		checkBinding := func(b Binding) {
			if b.Key < 1 || b.Key > np {
				v.fail("f", i, "binding key %d outside p (len %d)", b.Key, np)
			}
		}
		fn.walk(check, checkBinding)
	}

	for i, idx := range d.Deprecated {
		if idx < 0 || idx >= n {
			v.fail("c", i, "item %d out of range", idx)
		}
	}
	for i, b := range d.ImplDisambiguators {
		if b.Index < 0 || b.Index >= n {
			v.fail("b", i, "item %d out of range", b.Index)
		}
	}

	return errors.Join(v.errs...)
}

// walk visits every type reference and binding of f, depth first.
func (f *FunctionType) walk(ref func(TypeRef), binding func(Binding)) {
	var visit func([]TypeRef)
	visit = func(refs []TypeRef) {
		for _, r := range refs {
			ref(r)
			visit(r.Generics)
			for _, b := range r.Bindings {
				binding(b)
				visit(b.Constraints)
			}
		}
	}
	visit(f.Inputs)
	visit(f.Output)
	for _, w := range f.Where {
		visit(w)
	}
}

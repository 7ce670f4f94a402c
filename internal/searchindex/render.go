package searchindex

import (
	"fmt"
	"strings"
)

const genericLetters = "TUVWXYZ"

// genericName names the n-th (1-based) generic parameter.
func genericName(n int) string {
	if n >= 1 && n <= len(genericLetters) {
		return genericLetters[n-1 : n]
	}
	return fmt.Sprintf("T%d", n)
}

// RenderSignature renders f as plain text, e.g.
// "fn(QRCode, Rgba<u8>) -> RgbaImage". Generic parameters are named T, U, V
// in order of their ids.
func (c *Crate) RenderSignature(f *FunctionType) string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("fn(")
	b.WriteString(c.renderList(f.Inputs))
	b.WriteString(")")

	switch len(f.Output) {
	case 0:
	case 1:
		if out := c.RenderType(f.Output[0]); out != "()" {
			b.WriteString(" -> ")
			b.WriteString(out)
		}
	default:
		b.WriteString(" -> (")
		b.WriteString(c.renderList(f.Output))
		b.WriteString(")")
	}

	var preds []string
	for i, w := range f.Where {
		if len(w) == 0 {
			continue
		}
		bounds := make([]string, len(w))
		for j, r := range w {
			bounds[j] = c.RenderType(r)
		}
		preds = append(preds, genericName(i+1)+": "+strings.Join(bounds, " + "))
	}
	if len(preds) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(preds, ", "))
	}
	return b.String()
}

// RenderType renders a single type reference.
func (c *Crate) RenderType(r TypeRef) string {
	switch {
	case r.ID == 0:
		return "_"
	case r.IsGeneric():
		return genericName(-r.ID)
	}

	tp, ok := c.TypePath(r.ID)
	if !ok {
		return fmt.Sprintf("?%d", r.ID)
	}

	if tp.Kind == KindPrimitive {
		switch tp.Name {
		case "tuple":
			switch len(r.Generics) {
			case 0:
				return "()"
			case 1:
				return "(" + c.RenderType(r.Generics[0]) + ",)"
			default:
				return "(" + c.renderList(r.Generics) + ")"
			}
		case "reference":
			if len(r.Generics) == 1 {
				return "&" + c.RenderType(r.Generics[0])
			}
		case "slice", "array":
			if len(r.Generics) == 1 {
				return "[" + c.RenderType(r.Generics[0]) + "]"
			}
		case "pointer":
			if len(r.Generics) == 1 {
				return "*" + c.RenderType(r.Generics[0])
			}
		}
	}

	args := make([]string, 0, len(r.Generics)+len(r.Bindings))
	for _, g := range r.Generics {
		args = append(args, c.RenderType(g))
	}
	for _, bd := range r.Bindings {
		key := fmt.Sprintf("?%d", bd.Key)
		if ktp, ok := c.TypePath(bd.Key); ok {
			key = ktp.Name
		}
		vals := make([]string, len(bd.Constraints))
		for i, v := range bd.Constraints {
			vals[i] = c.RenderType(v)
		}
		args = append(args, key+"="+strings.Join(vals, " + "))
	}
	if len(args) == 0 {
		return tp.Name
	}
	return tp.Name + "<" + strings.Join(args, ", ") + ">"
}

func (c *Crate) renderList(refs []TypeRef) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = c.RenderType(r)
	}
	return strings.Join(parts, ", ")
}

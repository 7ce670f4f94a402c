package searchindex

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ItemKind is the rustdoc item type. The payload encodes it as 'A'+kind in
// the per-crate "t" string and as a plain integer in the "p" table.
type ItemKind int

const (
	KindKeyword ItemKind = iota
	KindPrimitive
	KindModule
	KindExternCrate
	KindImport
	KindStruct
	KindEnum
	KindFunction
	KindTypeAlias
	KindStatic
	KindTrait
	KindImpl
	KindTyMethod
	KindMethod
	KindStructField
	KindVariant
	KindMacro
	KindAssocType
	KindConstant
	KindAssocConst
	KindUnion
	KindForeignType
	KindOpaque
	KindAttr
	KindDerive
	KindTraitAlias
	KindGeneric
)

var kindNames = [...]string{
	"keyword", "primitive", "mod", "externcrate", "import", "struct", "enum",
	"fn", "type", "static", "trait", "impl", "tymethod", "method", "structfield",
	"variant", "macro", "associatedtype", "constant", "associatedconstant",
	"union", "foreigntype", "opaque", "attr", "derive", "traitalias", "generic",
}

func (k ItemKind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Valid reports whether k is a known rustdoc item type.
func (k ItemKind) Valid() bool {
	return k >= 0 && int(k) < len(kindNames)
}

// Code returns the single-character encoding used in the "t" string.
func (k ItemKind) Code() byte {
	return byte('A' + k)
}

// KindFromCode decodes a "t" string character.
func KindFromCode(c byte) (ItemKind, bool) {
	k := ItemKind(int(c) - 'A')
	return k, k.Valid()
}

// ParseKind resolves a kind by its rustdoc name ("struct", "fn", ...).
func ParseKind(name string) (ItemKind, bool) {
	for i, n := range kindNames {
		if n == name {
			return ItemKind(i), true
		}
	}
	return 0, false
}

// Descriptor is the per-crate record of a search index, in wire order.
type Descriptor struct {
	Doc                string              `json:"doc"`
	Kinds              string              `json:"t"`
	Names              []string            `json:"n"`
	Paths              []PathEntry         `json:"q"`
	Docs               []string            `json:"d"`
	Parents            []int               `json:"i"`
	Functions          Signatures          `json:"f"`
	Deprecated         []int               `json:"c"`
	TypePaths          []TypePath          `json:"p"`
	ImplDisambiguators []ImplDisambiguator `json:"b"`
}

// PathEntry is one row of the sparse "q" table: items from Index onward
// live in module Path until the next entry.
type PathEntry struct {
	Index int
	Path  string
}

func (e *PathEntry) UnmarshalJSON(data []byte) error {
	return decodePair(data, &e.Index, &e.Path)
}

func (e PathEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Index, e.Path})
}

// ImplDisambiguator pairs an item index with the anchor of its impl block.
type ImplDisambiguator struct {
	Index int
	Name  string
}

func (b *ImplDisambiguator) UnmarshalJSON(data []byte) error {
	return decodePair(data, &b.Index, &b.Name)
}

func (b ImplDisambiguator) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{b.Index, b.Name})
}

// TypePath is one row of the "p" table. PathIndex is a key of the "q"
// table and is only meaningful when HasPath is set.
type TypePath struct {
	Kind      ItemKind
	Name      string
	PathIndex int
	HasPath   bool
}

func (p *TypePath) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("type path: %w", err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("type path: expected 2 or 3 elements, got %d", len(parts))
	}
	var kind int
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return fmt.Errorf("type path kind: %w", err)
	}
	p.Kind = ItemKind(kind)
	if err := json.Unmarshal(parts[1], &p.Name); err != nil {
		return fmt.Errorf("type path name: %w", err)
	}
	p.HasPath = len(parts) == 3
	p.PathIndex = 0
	if p.HasPath {
		if err := json.Unmarshal(parts[2], &p.PathIndex); err != nil {
			return fmt.Errorf("type path index: %w", err)
		}
	}
	return nil
}

func (p TypePath) MarshalJSON() ([]byte, error) {
	if p.HasPath {
		return json.Marshal([]any{int(p.Kind), p.Name, p.PathIndex})
	}
	return json.Marshal([]any{int(p.Kind), p.Name})
}

// TypeRef is a type reference inside an encoded signature. Positive IDs are
// 1-based into the "p" table, negative IDs name generic parameters and 0 is
// an unnamed type. A nil Generics slice means the reference was a bare id.
type TypeRef struct {
	ID       int
	Generics []TypeRef
	Bindings []Binding
}

// IsGeneric reports whether the reference names a generic parameter.
func (t TypeRef) IsGeneric() bool { return t.ID < 0 }

func (t *TypeRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		*t = TypeRef{}
		return json.Unmarshal(data, &t.ID)
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) == 0 || len(parts) > 3 {
		return fmt.Errorf("type ref: expected 1 to 3 elements, got %d", len(parts))
	}
	*t = TypeRef{}
	if err := json.Unmarshal(parts[0], &t.ID); err != nil {
		return fmt.Errorf("type ref id: %w", err)
	}
	if len(parts) > 1 {
		if err := json.Unmarshal(parts[1], &t.Generics); err != nil {
			return fmt.Errorf("type ref generics: %w", err)
		}
		if t.Generics == nil {
			t.Generics = []TypeRef{}
		}
	}
	if len(parts) > 2 {
		if err := json.Unmarshal(parts[2], &t.Bindings); err != nil {
			return fmt.Errorf("type ref bindings: %w", err)
		}
		if t.Bindings == nil {
			t.Bindings = []Binding{}
		}
	}
	return nil
}

func (t TypeRef) MarshalJSON() ([]byte, error) {
	if t.Generics == nil && t.Bindings == nil {
		return json.Marshal(t.ID)
	}
	generics := t.Generics
	if generics == nil {
		generics = []TypeRef{}
	}
	if t.Bindings == nil {
		return json.Marshal([]any{t.ID, generics})
	}
	return json.Marshal([]any{t.ID, generics, t.Bindings})
}

// Binding is an associated-type constraint such as Iterator<Item = T>.
type Binding struct {
	Key         int
	Constraints []TypeRef
}

func (b *Binding) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("binding: expected 2 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &b.Key); err != nil {
		return fmt.Errorf("binding key: %w", err)
	}
	list, err := decodeTypeList(parts[1])
	if err != nil {
		return fmt.Errorf("binding constraints: %w", err)
	}
	b.Constraints = list
	return nil
}

func (b Binding) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{b.Key, typeList(b.Constraints)})
}

// FunctionType is a decoded "f" entry. Where holds one constraint list per
// generic parameter, in parameter order.
type FunctionType struct {
	Inputs []TypeRef
	Output []TypeRef
	Where  [][]TypeRef
}

func (f *FunctionType) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) < 2 {
		return fmt.Errorf("function type: expected at least 2 elements, got %d", len(parts))
	}
	var err error
	*f = FunctionType{}
	if f.Inputs, err = decodeTypeList(parts[0]); err != nil {
		return fmt.Errorf("function inputs: %w", err)
	}
	if f.Output, err = decodeTypeList(parts[1]); err != nil {
		return fmt.Errorf("function output: %w", err)
	}
	for i, raw := range parts[2:] {
		w, err := decodeTypeList(raw)
		if err != nil {
			return fmt.Errorf("where clause %d: %w", i, err)
		}
		f.Where = append(f.Where, w)
	}
	return nil
}

func (f FunctionType) MarshalJSON() ([]byte, error) {
	parts := []any{typeList(f.Inputs), typeList(f.Output)}
	for _, w := range f.Where {
		parts = append(parts, typeList(w))
	}
	return json.Marshal(parts)
}

// Signatures is the "f" column. A nil entry is an item without a signature,
// encoded as 0.
type Signatures []*FunctionType

func (s *Signatures) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Signatures, len(raw))
	for i, r := range raw {
		if string(bytes.TrimSpace(r)) == "0" {
			continue
		}
		var fn FunctionType
		if err := json.Unmarshal(r, &fn); err != nil {
			return fmt.Errorf("signature %d: %w", i, err)
		}
		out[i] = &fn
	}
	*s = out
	return nil
}

func (s Signatures) MarshalJSON() ([]byte, error) {
	parts := make([]any, len(s))
	for i, fn := range s {
		if fn == nil {
			parts[i] = 0
			continue
		}
		parts[i] = fn
	}
	return json.Marshal(parts)
}

// typeList is the wire form of a list of types: a single plain id is written
// bare, anything else as an array.
type typeList []TypeRef

func (l typeList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 && l[0].Generics == nil && l[0].Bindings == nil {
		return json.Marshal(l[0].ID)
	}
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]TypeRef(l))
}

func decodeTypeList(data json.RawMessage) ([]TypeRef, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '[' {
		var id int
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, err
		}
		return []TypeRef{{ID: id}}, nil
	}
	list := []TypeRef{}
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func decodePair(data []byte, index *int, name *string) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return fmt.Errorf("expected [index, string] pair, got %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], index); err != nil {
		return fmt.Errorf("pair index: %w", err)
	}
	if err := json.Unmarshal(parts[1], name); err != nil {
		return fmt.Errorf("pair value: %w", err)
	}
	return nil
}

package searchindex

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedded_Crates(t *testing.T) {
	t.Parallel()
	ix, err := Embedded()
	require.NoError(t, err)
	assert.Equal(t, []string{"qrc", "xtask"}, ix.Names())
	assert.Equal(t, 2, ix.Len())
}

func TestEmbedded_SharedInstance(t *testing.T) {
	t.Parallel()
	a, err := Embedded()
	require.NoError(t, err)
	b, err := Embedded()
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestEmbedded_ParallelColumns(t *testing.T) {
	t.Parallel()
	ix, err := Embedded()
	require.NoError(t, err)

	want := map[string]int{"qrc": 53, "xtask": 1}
	for _, name := range ix.Names() {
		d, err := ix.Descriptor(name)
		require.NoError(t, err)
		n := len(d.Names)
		assert.Equal(t, want[name], n, name)
		assert.Len(t, d.Docs, n, name)
		assert.Len(t, d.Parents, n, name)
		assert.Len(t, []rune(d.Kinds), n, name)
		assert.Len(t, d.Functions, n, name)
		assert.Empty(t, d.Deprecated, name)
		assert.Empty(t, d.ImplDisambiguators, name)
	}
}

func TestEmbedded_Validates(t *testing.T) {
	t.Parallel()
	ix, err := Embedded()
	require.NoError(t, err)
	require.NoError(t, ix.Validate())
}

func TestEmbedded_ReferencesResolve(t *testing.T) {
	t.Parallel()
	ix, err := Embedded()
	require.NoError(t, err)

	for _, c := range ix.Crates() {
		d := c.Descriptor()
		np := len(d.TypePaths)
		for _, fn := range d.Functions {
			if fn == nil {
				continue
			}
			fn.walk(func(r TypeRef) {
				assert.LessOrEqual(t, r.ID, np, c.Name())
			}, func(b Binding) {
				assert.LessOrEqual(t, b.Key, np, c.Name())
			})
		}
		for _, tp := range d.TypePaths {
			if tp.HasPath {
				_, ok := c.ModulePath(tp)
				assert.True(t, ok, "%s: %s path %d", c.Name(), tp.Name, tp.PathIndex)
			}
		}
	}
}

func TestParse_Deterministic(t *testing.T) {
	t.Parallel()
	a, err := ParseEmbedded()
	require.NoError(t, err)
	b, err := ParseEmbedded()
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, a, b)
}

func TestParse_QrcHeader(t *testing.T) {
	t.Parallel()
	ix, err := Embedded()
	require.NoError(t, err)

	d, err := ix.Descriptor("qrc")
	require.NoError(t, err)
	assert.Equal(t, "A Rust library for generating and manipulating QR code …", d.Doc)
	assert.Equal(t, PathEntry{Index: 0, Path: "qrc"}, d.Paths[0])
	assert.Equal(t, TypePath{Kind: KindTypeAlias, Name: "RgbaImage", PathIndex: 53, HasPath: true}, d.TypePaths[0])
	assert.Equal(t, TypePath{Kind: KindPrimitive, Name: "tuple"}, d.TypePaths[1])
	assert.Nil(t, d.Functions[0])

	x, err := ix.Descriptor("xtask")
	require.NoError(t, err)
	assert.Equal(t, "This is the main entry point for the xtask crate.", x.Doc)
	assert.Equal(t, []string{"main"}, x.Names)
	require.NotNil(t, x.Functions[0])
	assert.Equal(t, &FunctionType{
		Inputs: []TypeRef{},
		Output: []TypeRef{{ID: 3, Generics: []TypeRef{{ID: 1}, {ID: 2}}}},
	}, x.Functions[0])
}

func TestParse_BareJSON(t *testing.T) {
	t.Parallel()
	src := `[["demo",{"doc":"d","t":"H","n":["run"],"q":[[0,"demo"]],"d":["Runs."],"i":[0],"f":[0],"c":[],"p":[],"b":[]}]]`
	ix, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, ix.Names())
	require.NoError(t, ix.Validate())
}

func TestParse_ObjectForm(t *testing.T) {
	t.Parallel()
	src := `var searchIndex = JSON.parse('{\
"zeta":{"doc":"","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]},\
"alpha":{"doc":"it\'s","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]}\
}');`
	ix, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, ix.Names())
	c, ok := ix.Crate("alpha")
	require.True(t, ok)
	assert.Equal(t, "it's", c.Doc())
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"no literal", "var x = 1;"},
		{"unterminated", "new Map(JSON.parse('[\\\n"},
		{"bad json", "JSON.parse('[[\"a\",{\"doc\":]]')"},
		{"short pair", `[["a"]]`},
		{"bad signature", `[["a",{"doc":"","t":"H","n":["x"],"q":[],"d":[""],"i":[0],"f":[[1]],"c":[],"p":[],"b":[]}]]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()
	ix, err := ParseEmbedded()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, ix))
	assert.Contains(t, buf.String(), "if (typeof exports !== 'undefined') exports.searchIndex = searchIndex;")
	assert.Contains(t, buf.String(), "window.initSearch(searchIndex)")

	again, err := Parse(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ix, again)
}

func TestEncode_MatchesRustdocLayout(t *testing.T) {
	t.Parallel()
	ix, err := ParseEmbedded()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, ix))
	assert.Equal(t, string(EmbeddedSource()), buf.String())
}

func TestEncodeJSON_QuotesSurvive(t *testing.T) {
	t.Parallel()
	src := `[["q",{"doc":"it's a \"quote\" \\ here","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]}]]`
	ix, err := Parse([]byte(src))
	require.NoError(t, err)

	var js bytes.Buffer
	require.NoError(t, Encode(&js, ix))
	again, err := Parse(js.Bytes())
	require.NoError(t, err)
	c, _ := again.Crate("q")
	assert.Equal(t, `it's a "quote" \ here`, c.Doc())

	var raw bytes.Buffer
	require.NoError(t, EncodeJSON(&raw, ix))
	fromJSON, err := ParseJSON(raw.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ix, fromJSON)
}

func TestDescriptor_CopyIsolation(t *testing.T) {
	t.Parallel()
	ix, err := ParseEmbedded()
	require.NoError(t, err)

	d, err := ix.Descriptor("qrc")
	require.NoError(t, err)
	d.Names[0] = "Mutated"
	d.Functions[1].Inputs[0].ID = 99
	d.TypePaths[0].Name = "Mutated"

	fresh, err := ix.Descriptor("qrc")
	require.NoError(t, err)
	assert.Equal(t, "QRCode", fresh.Names[0])
	assert.Equal(t, 1, fresh.Functions[1].Inputs[0].ID)
	assert.Equal(t, "RgbaImage", fresh.TypePaths[0].Name)

	_, err = ix.Descriptor("missing")
	assert.ErrorIs(t, err, ErrUnknownCrate)
}

func TestMergeAndSubset(t *testing.T) {
	t.Parallel()
	base, err := ParseEmbedded()
	require.NoError(t, err)
	override, err := Parse([]byte(`[["xtask",{"doc":"new","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]}],["extra",{"doc":"","t":"","n":[],"q":[],"d":[],"i":[],"f":[],"c":[],"p":[],"b":[]}]]`))
	require.NoError(t, err)

	merged := Merge(base, nil, override)
	assert.Equal(t, []string{"qrc", "xtask", "extra"}, merged.Names())
	x, _ := merged.Crate("xtask")
	assert.Equal(t, "new", x.Doc())

	sub, err := merged.Subset([]string{"extra", "qrc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"extra", "qrc"}, sub.Names())

	_, err = merged.Subset([]string{"nope"})
	assert.ErrorIs(t, err, ErrUnknownCrate)
}

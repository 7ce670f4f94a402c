package markdown

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"

	gm "github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	gmhtml "github.com/gomarkdown/markdown/html"
	gmparser "github.com/gomarkdown/markdown/parser"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
)

var (
	codeTag = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	anyTag  = regexp.MustCompile(`<[^>]+>`)
)

// DocToMarkdown converts a rustdoc doc fragment (an HTML snippet) to inline
// markdown: <code> spans become backticks, other tags are dropped.
func DocToMarkdown(doc string) string {
	out := codeTag.ReplaceAllString(doc, "`$1`")
	out = anyTag.ReplaceAllString(out, "")
	return html.UnescapeString(out)
}

// kindOrder lists the sections of a crate page, in order.
var kindOrder = []searchindex.ItemKind{
	searchindex.KindModule,
	searchindex.KindStruct,
	searchindex.KindEnum,
	searchindex.KindUnion,
	searchindex.KindTrait,
	searchindex.KindTypeAlias,
	searchindex.KindFunction,
	searchindex.KindMacro,
	searchindex.KindConstant,
	searchindex.KindStatic,
	searchindex.KindStructField,
	searchindex.KindVariant,
	searchindex.KindMethod,
	searchindex.KindTyMethod,
	searchindex.KindAssocType,
	searchindex.KindAssocConst,
}

// RenderCrate builds a markdown page for one crate: front matter, the crate
// summary, then one section per item kind.
func RenderCrate(c *searchindex.Crate) string {
	byKind := make(map[searchindex.ItemKind][]searchindex.Item)
	for _, it := range c.Items() {
		byKind[it.Kind] = append(byKind[it.Kind], it)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Crate %s\n\n", c.Name())
	if c.Doc() != "" {
		b.WriteString(DocToMarkdown(c.Doc()))
		b.WriteString("\n\n")
	}

	seen := make(map[searchindex.ItemKind]bool)
	for _, k := range kindOrder {
		seen[k] = true
		writeSection(&b, k, byKind[k])
	}
	var rest []searchindex.ItemKind
	for k := range byKind {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, k := range rest {
		writeSection(&b, k, byKind[k])
	}

	return AddFrontMatter(b.String(), map[string]string{
		"crate": c.Name(),
		"items": fmt.Sprint(c.Len()),
	})
}

func writeSection(b *strings.Builder, kind searchindex.ItemKind, items []searchindex.Item) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", kind)
	for _, it := range items {
		fmt.Fprintf(b, "- `%s`", it.Path())
		if it.Signature != "" {
			fmt.Fprintf(b, " — `%s`", it.Signature)
		}
		if it.Deprecated {
			b.WriteString(" (deprecated)")
		}
		if doc := DocToMarkdown(it.Doc); doc != "" {
			b.WriteString(": ")
			b.WriteString(doc)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

// AddFrontMatter prepends a YAML front-matter block.
func AddFrontMatter(src string, fields map[string]string) string {
	if len(fields) == 0 {
		return src
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("---\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s: %s\n", k, fields[k]))
	}
	b.WriteString("---\n\n")
	b.WriteString(src)
	return b.String()
}

// StripFrontMatter removes a leading front-matter block, if any.
func StripFrontMatter(src string) string {
	if !strings.HasPrefix(src, "---\n") {
		return src
	}
	end := strings.Index(src[4:], "\n---\n")
	if end < 0 {
		return src
	}
	return strings.TrimLeft(src[4+end+5:], "\n")
}

func newParser() *gmparser.Parser {
	return gmparser.NewWithExtensions(gmparser.CommonExtensions | gmparser.Autolink)
}

// ToHTML renders a markdown page (front matter removed) as a standalone
// HTML fragment.
func ToHTML(src string) []byte {
	renderer := gmhtml.NewRenderer(gmhtml.RendererOptions{Flags: gmhtml.CommonFlags})
	return gm.ToHTML([]byte(StripFrontMatter(src)), newParser(), renderer)
}

// Headings returns the text of every heading in src, in document order.
func Headings(src string) []string {
	doc := gm.Parse([]byte(StripFrontMatter(src)), newParser())

	var out []string
	ast.WalkFunc(doc, func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		h, ok := node.(*ast.Heading)
		if !ok {
			return ast.GoToNext
		}
		var text strings.Builder
		ast.WalkFunc(h, func(n ast.Node, entering bool) ast.WalkStatus {
			if entering {
				if leaf := n.AsLeaf(); leaf != nil {
					text.Write(leaf.Literal)
				}
			}
			return ast.GoToNext
		})
		out = append(out, text.String())
		return ast.SkipChildren
	})
	return out
}

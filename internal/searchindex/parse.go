package searchindex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Parse decodes a search-index.js file (or its bare JSON literal).
func Parse(src []byte) (*Index, error) {
	data, err := ExtractLiteral(src)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

// ParseJSON decodes the JSON literal. Both the array-of-pairs form used with
// `new Map(...)` and the older object form keyed by crate name are accepted;
// crate order follows the document either way.
func ParseJSON(data []byte) (*Index, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("unmarshaling search index: empty input")
	}
	if data[0] == '{' {
		return parseObject(data)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshaling search index: %w", err)
	}

	ix := newIndex()
	for i, raw := range entries {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return nil, fmt.Errorf("unmarshaling entry %d: %w", i, err)
		}
		if len(pair) != 2 {
			return nil, fmt.Errorf("unmarshaling entry %d: expected [name, descriptor], got %d elements", i, len(pair))
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			return nil, fmt.Errorf("unmarshaling entry %d name: %w", i, err)
		}
		var d Descriptor
		if err := json.Unmarshal(pair[1], &d); err != nil {
			return nil, fmt.Errorf("unmarshaling crate %s: %w", name, err)
		}
		ix.put(name, d)
	}
	return ix, nil
}

func parseObject(data []byte) (*Index, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("unmarshaling search index: %w", err)
	}

	ix := newIndex()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("unmarshaling search index: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unmarshaling search index: unexpected token %v", tok)
		}
		var d Descriptor
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("unmarshaling crate %s: %w", name, err)
		}
		ix.put(name, d)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("unmarshaling search index: %w", err)
	}
	return ix, nil
}

const (
	encodePrologue = "var searchIndex = new Map(JSON.parse('[\\\n"
	encodeEpilogue = "]'));\n" +
		"if (typeof exports !== 'undefined') exports.searchIndex = searchIndex;\n" +
		"else if (window.initSearch) window.initSearch(searchIndex);\n"
)

// Encode writes ix in the search-index.js layout rustdoc emits: one crate
// per continued line, followed by the export/initSearch registration.
func Encode(w io.Writer, ix *Index) error {
	var b bytes.Buffer
	b.WriteString(encodePrologue)
	for i, c := range ix.Crates() {
		line, err := encodeEntry(c)
		if err != nil {
			return fmt.Errorf("encoding crate %s: %w", c.Name(), err)
		}
		b.Write(quoteJS(line))
		if i < ix.Len()-1 {
			b.WriteByte(',')
		}
		b.WriteString("\\\n")
	}
	b.WriteString(encodeEpilogue)
	_, err := w.Write(b.Bytes())
	return err
}

// EncodeJSON writes only the JSON literal.
func EncodeJSON(w io.Writer, ix *Index) error {
	var b bytes.Buffer
	b.WriteByte('[')
	for i, c := range ix.Crates() {
		line, err := encodeEntry(c)
		if err != nil {
			return fmt.Errorf("encoding crate %s: %w", c.Name(), err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(line)
	}
	b.WriteByte(']')
	_, err := w.Write(b.Bytes())
	return err
}

func encodeEntry(c *Crate) ([]byte, error) {
	d := c.desc
	if d.Names == nil {
		d.Names = []string{}
	}
	if d.Paths == nil {
		d.Paths = []PathEntry{}
	}
	if d.Docs == nil {
		d.Docs = []string{}
	}
	if d.Parents == nil {
		d.Parents = []int{}
	}
	if d.Functions == nil {
		d.Functions = Signatures{}
	}
	if d.Deprecated == nil {
		d.Deprecated = []int{}
	}
	if d.TypePaths == nil {
		d.TypePaths = []TypePath{}
	}
	if d.ImplDisambiguators == nil {
		d.ImplDisambiguators = []ImplDisambiguator{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any{c.name, d}); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

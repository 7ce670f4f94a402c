package searchindex

import (
	"bytes"
	_ "embed"
	"sync"
)

//go:embed search-index.js
var embeddedSource []byte

var embedded = sync.OnceValues(func() (*Index, error) {
	return Parse(embeddedSource)
})

// Embedded returns the bundled index. It is parsed on first use and shared
// by every caller afterwards.
func Embedded() (*Index, error) {
	return embedded()
}

// ParseEmbedded parses the bundled payload again, independent of Embedded.
func ParseEmbedded() (*Index, error) {
	return Parse(embeddedSource)
}

// EmbeddedSource returns a copy of the bundled search-index.js.
func EmbeddedSource() []byte {
	return bytes.Clone(embeddedSource)
}

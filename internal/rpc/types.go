package rpc

// StatusResponse is the response body for GET /status.
type StatusResponse struct {
	PublishMode string         `json:"publish_mode"`
	Sources     []SourceStatus `json:"sources"`
	Crates      []CrateSummary `json:"crates"`
}

type SourceStatus struct {
	Source    string   `json:"source"`
	Crates    []string `json:"crates"`
	Bytes     int      `json:"bytes,omitempty"`
	FromCache bool     `json:"from_cache,omitempty"`
}

type CrateSummary struct {
	Name  string         `json:"name"`
	Doc   string         `json:"doc"`
	Items int            `json:"items"`
	Kinds map[string]int `json:"kinds,omitempty"`
}

// ListCratesResponse is the response body for GET /crates.
type ListCratesResponse struct {
	Crates []CrateSummary `json:"crates"`
}

// GetCrateRequest is the request body for POST /get-crate.
type GetCrateRequest struct {
	Crate  string `json:"crate"`
	Format string `json:"format,omitempty"` // "markdown" (default) or "html"
}

// GetCrateResponse is the response body for POST /get-crate.
type GetCrateResponse struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// LookupRequest is the request body for POST /lookup.
type LookupRequest struct {
	Query  string   `json:"query"`
	Crates []string `json:"crates,omitempty"`
	Kinds  []string `json:"kinds,omitempty"`
	Limit  int      `json:"limit,omitempty"`
}

// LookupResponse is the response body for POST /lookup.
type LookupResponse struct {
	Results []ItemResult `json:"results"`
}

type ItemResult struct {
	Crate      string `json:"crate"`
	Index      int    `json:"index"`
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Signature  string `json:"signature,omitempty"`
	Doc        string `json:"doc,omitempty"`
	Deprecated bool   `json:"deprecated,omitempty"`
}

// LoadRequest is the request body for POST /load. The loaded sources are
// merged over the currently served index.
type LoadRequest struct {
	Sources []string `json:"sources"`
	Refresh bool     `json:"refresh,omitempty"`
}

// LoadResponse is the response body for POST /load.
type LoadResponse struct {
	Sources []SourceStatus `json:"sources"`
	Crates  []string       `json:"crates"`
}

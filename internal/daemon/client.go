package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
	"github.com/jcdickinson/ferrisindex/internal/source"
)

type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
			Timeout: 2 * time.Minute, // load may fetch remote indexes
		},
	}
}

// ConnectOrSpawn tries to connect to the daemon, spawning it with opts if
// necessary.
func ConnectOrSpawn(socketPath string, opts SpawnOptions) (*Client, error) {
	client := NewClient(socketPath)

	if client.IsAvailable() {
		return client, nil
	}

	if err := Spawn(opts); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		if client.IsAvailable() {
			return client, nil
		}
	}

	return nil, fmt.Errorf("daemon did not start within 5 seconds")
}

func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) ListCrates(ctx context.Context) (*rpc.ListCratesResponse, error) {
	var resp rpc.ListCratesResponse
	err := c.get(ctx, "/crates", &resp)
	return &resp, err
}

func (c *Client) GetCrate(ctx context.Context, req rpc.GetCrateRequest) (*rpc.GetCrateResponse, error) {
	var resp rpc.GetCrateResponse
	err := c.post(ctx, "/get-crate", req, &resp)
	return &resp, err
}

func (c *Client) Lookup(ctx context.Context, req rpc.LookupRequest) (*rpc.LookupResponse, error) {
	var resp rpc.LookupResponse
	err := c.post(ctx, "/lookup", req, &resp)
	return &resp, err
}

// Load asks the daemon to merge the given sources over its current index.
// Relative file paths are resolved against the caller's working directory,
// since the daemon's may differ.
func (c *Client) Load(ctx context.Context, req rpc.LoadRequest) (*rpc.LoadResponse, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving sources: %w", err)
	}
	req.Sources = source.Resolve(wd, req.Sources)

	var resp rpc.LoadResponse
	err = c.post(ctx, "/load", req, &resp)
	return &resp, err
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	var resp rpc.StatusResponse
	if err := c.get(ctx, "/status", &resp); err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	return &resp, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp map[string]string
	return c.post(ctx, "/shutdown", nil, &resp)
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", "http://unix"+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "http://unix"+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

/*
Copyright 2025 The SuperSONIC Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package triton is a thin client for the control and telemetry surface of a
// Triton inference server, reached through an established tunnel's local
// endpoint. The transport is an implementation detail behind the Client
// interface, not a subtype hierarchy.
package triton

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ModelState is the readiness of one (name, version) repository entry.
type ModelState string

const (
	// StateReady means the server can serve the model right now.
	StateReady ModelState = "READY"
	// StateUnavailable means the entry exists but is not servable.
	StateUnavailable ModelState = "UNAVAILABLE"
)

// ModelRecord is one entry of a server's repository index. Version is an
// opaque token; the empty string means "known but nothing concretely loaded".
type ModelRecord struct {
	Name    string     `json:"name"`
	Version string     `json:"version,omitempty"`
	State   ModelState `json:"state,omitempty"`
}

// FullName is the fully qualified "<name>-v<version>" form.
func (r ModelRecord) FullName() string {
	return r.Name + "-v" + r.Version
}

// RepositoryQueryError reports a failed repository/readiness query.
type RepositoryQueryError struct {
	Server string
	Err    error
}

func (e *RepositoryQueryError) Error() string {
	return fmt.Sprintf("repository query against %q failed: %v", e.Server, e.Err)
}

func (e *RepositoryQueryError) Unwrap() error { return e.Err }

// ModelOperationError reports a rejected or failed load/unload.
type ModelOperationError struct {
	Server string
	Model  string
	Op     string
	Err    error
}

func (e *ModelOperationError) Error() string {
	return fmt.Sprintf("%s of model %q on %q failed: %v", e.Op, e.Model, e.Server, e.Err)
}

func (e *ModelOperationError) Unwrap() error { return e.Err }

// Client is the capability set this system needs from an inference server.
// All operations are synchronous and unary.
type Client interface {
	// ListRepository returns the server's repository index, one record per
	// (name, version) the server reports. A server may report several
	// records for one name, or a single unversioned record.
	ListRepository(ctx context.Context) ([]ModelRecord, error)

	// IsReady reports whether the named model is servable right now.
	IsReady(ctx context.Context, name string) (bool, error)

	// Load asks the server to load all available versions of the named
	// model. Loading an already-loaded model is not an error.
	Load(ctx context.Context, name string) error

	// Unload is symmetric to Load.
	Unload(ctx context.Context, name string) error

	// Metrics returns the raw exposition-format telemetry text.
	Metrics(ctx context.Context) (string, error)
}

// HTTPClient talks the Triton v2 HTTP API.
type HTTPClient struct {
	// server identifies the far end in errors (typically the Pod name).
	server     string
	baseURL    *url.URL
	httpClient *http.Client
}

var _ Client = &HTTPClient{}

// NewHTTPClient builds a client over a live local endpoint, e.g.
// "http://localhost:43211". server names the Pod behind the tunnel for
// error reporting.
func NewHTTPClient(server, baseURL string) (*HTTPClient, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	return &HTTPClient{
		server:  server,
		baseURL: parsedURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

func (c *HTTPClient) ListRepository(ctx context.Context) ([]ModelRecord, error) {
	var records []ModelRecord
	if err := c.do(ctx, http.MethodPost, "/v2/repository/index", &records); err != nil {
		return nil, &RepositoryQueryError{Server: c.server, Err: err}
	}
	return records, nil
}

func (c *HTTPClient) IsReady(ctx context.Context, name string) (bool, error) {
	u := c.resolve("/v2/models/" + url.PathEscape(name) + "/ready")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, &RepositoryQueryError{Server: c.server, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &RepositoryQueryError{Server: c.server, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Triton answers 4xx for a model that exists but is not ready.
		return false, nil
	default:
		b, _ := io.ReadAll(resp.Body)
		return false, &RepositoryQueryError{Server: c.server,
			Err: fmt.Errorf("ready query for %q returned status %d: %s", name, resp.StatusCode, string(b))}
	}
}

func (c *HTTPClient) Load(ctx context.Context, name string) error {
	path := "/v2/repository/models/" + url.PathEscape(name) + "/load"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return &ModelOperationError{Server: c.server, Model: name, Op: "load", Err: err}
	}
	return nil
}

func (c *HTTPClient) Unload(ctx context.Context, name string) error {
	path := "/v2/repository/models/" + url.PathEscape(name) + "/unload"
	if err := c.do(ctx, http.MethodPost, path, nil); err != nil {
		return &ModelOperationError{Server: c.server, Model: name, Op: "unload", Err: err}
	}
	return nil
}

func (c *HTTPClient) Metrics(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/metrics"), nil)
	if err != nil {
		return "", &RepositoryQueryError{Server: c.server, Err: err}
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RepositoryQueryError{Server: c.server, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &RepositoryQueryError{Server: c.server,
			Err: fmt.Errorf("metrics query returned status %d", resp.StatusCode)}
	}
	if readErr != nil {
		return "", &RepositoryQueryError{Server: c.server, Err: readErr}
	}
	return string(body), nil
}

func (c *HTTPClient) resolve(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error %d: %s", resp.StatusCode, string(b))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

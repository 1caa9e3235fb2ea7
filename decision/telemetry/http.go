package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/santoshpalla27/taulayer/pkg/platform"
)

// HTTPLookup queries a remote telemetry service.
//
// Request:  POST {url} {"shape": "...", "window_seconds": 86400}
// Response: 200 with a Snapshot, 404 when the shape is unknown.
type HTTPLookup struct {
	url    string
	client *platform.HTTPClient
}

func NewHTTPLookup(url string, client *platform.HTTPClient) *HTTPLookup {
	return &HTTPLookup{url: url, client: client}
}

type httpLookupRequest struct {
	Shape         string `json:"shape"`
	WindowSeconds int64  `json:"window_seconds"`
}

func (h *HTTPLookup) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	body, err := json.Marshal(httpLookupRequest{Shape: key.Shape, WindowSeconds: int64(key.Window.Seconds())})
	if err != nil {
		return nil, err
	}

	resp, err := h.client.PostJSON(ctx, h.url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoData
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("telemetry service returned %d: %s", resp.StatusCode, msg)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode telemetry snapshot: %w", err)
	}
	return &snap, nil
}

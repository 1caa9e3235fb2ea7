package platform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type HTTPClient struct {
	Client  *http.Client
	Retries int
	Timeout time.Duration
	Logger  zerolog.Logger
}

func NewHTTPClient(retries int, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Retries: retries,
		Timeout: timeout,
		Logger:  log.Logger,
	}
}

// PostJSON posts body to url, retrying 5xx and transport errors with
// exponential backoff until ctx is done.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, body []byte) (*http.Response, error) {
	var resp *http.Response
	var err error

	for i := 0; i <= c.Retries; i++ {
		req, rErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if rErr != nil {
			return nil, rErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.Client.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}
		if err == nil && i < c.Retries {
			resp.Body.Close()
		}

		if i < c.Retries {
			c.Logger.Warn().Str("url", url).Int("attempt", i+1).Err(err).Msg("HTTP request failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<i) * 200 * time.Millisecond):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("request failed after %d retries: %w", c.Retries, err)
	}
	return resp, nil // last response even if 5xx
}

package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mcdev12/buzzer/go/internal/gateway"
)

// HTTPClient reads the broker's plain HTTP endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		headers: make(map[string]string),
	}
}

func (c *HTTPClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *HTTPClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

func (c *HTTPClient) Get(endpoint string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("broker returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	return responseBody, nil
}

// ServerTime reads GET /time.
func (c *HTTPClient) ServerTime() (int64, error) {
	body, err := c.Get("/time")
	if err != nil {
		return 0, err
	}
	var reply gateway.TimeReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return 0, fmt.Errorf("decode time reply: %w", err)
	}
	return reply.ServerTime, nil
}

// Stats reads GET /stats.
func (c *HTTPClient) Stats() (map[string]any, error) {
	body, err := c.Get("/stats")
	if err != nil {
		return nil, err
	}
	stats := make(map[string]any)
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

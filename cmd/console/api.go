package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/jwebster45206/microsim/internal/handlers"
	"github.com/jwebster45206/microsim/internal/sim"
	"github.com/jwebster45206/microsim/pkg/chat"
)

// apiClient talks to a running microsim HTTP API.
type apiClient struct {
	client  *http.Client
	baseURL string
}

func newAPIClient(client *http.Client, baseURL string) *apiClient {
	return &apiClient{client: client, baseURL: baseURL}
}

func (c *apiClient) healthy() bool {
	resp, err := c.client.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()
	return resp.StatusCode == http.StatusOK
}

func (c *apiClient) status() (*sim.Status, error) {
	var status sim.Status
	if err := c.do(http.MethodGet, "/api/state", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *apiClient) act(input string) (*sim.Result, error) {
	var result sim.Result
	if err := c.do(http.MethodPost, "/api/action", chat.ActionRequest{Input: input}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) reset() (*sim.Result, error) {
	var result sim.Result
	if err := c.do(http.MethodPost, "/api/reset", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp handlers.ErrorResponse
		if err := json.Unmarshal(data, &errorResp); err != nil || errorResp.Error == "" {
			return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(data))
		}
		return errors.New(errorResp.Error)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const idempotencyHeader = "Idempotency-Key"

type apiClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func newAPIClient(endpoint, token string) *apiClient {
	return &apiClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

// envelope mirrors the gateway response shape.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		From    string `json:"from,omitempty"`
		To      string `json:"to,omitempty"`
	} `json:"error,omitempty"`
	Network string `json:"network"`
}

func (c *apiClient) do(method, path string, body any, idempotencyKey string) (*envelope, int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.endpoint+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	return &env, resp.StatusCode, nil
}

type command struct {
	client *apiClient
	stdout io.Writer
	stderr io.Writer
}

func (c *command) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

// call performs the request and prints the envelope. Mutating calls without
// an explicit key get a fresh one so the printed key can be reused on retry.
func (c *command) call(method, path string, body any, idempotencyKey string) int {
	if method != http.MethodGet && idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	env, status, err := c.client.do(method, path, body, idempotencyKey)
	if err != nil {
		if idempotencyKey != "" {
			fmt.Fprintf(c.stderr, "retry with --idempotency-key %s\n", idempotencyKey)
		}
		return c.fail(err.Error())
	}
	out, _ := json.MarshalIndent(env, "", "  ")
	fmt.Fprintln(c.stdout, string(out))
	if !env.Success {
		if env.Error != nil {
			fmt.Fprintf(c.stderr, "%s (%d): %s\n", env.Error.Kind, status, env.Error.Message)
		}
		return 1
	}
	return 0
}

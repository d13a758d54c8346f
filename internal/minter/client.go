package minter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPAllocatorClient calls the Range Allocator Service's own wire contract
// (POST /v1/allocate) — the original's block-allocation-over-HTTP pattern
// (original_source/app/service.py's _allocate_id_block), generalized from a
// bespoke keygen call to this project's allocator.
type HTTPAllocatorClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPAllocatorClient(baseURL string) *HTTPAllocatorClient {
	return &HTTPAllocatorClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *HTTPAllocatorClient) Allocate(ctx context.Context, size int64) (start, end int64, err error) {
	body, err := json.Marshal(map[string]int64{"size": size})
	if err != nil {
		return 0, 0, fmt.Errorf("marshal allocate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/allocate", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build allocate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("allocate request failed with status %d", resp.StatusCode)
	}

	var out struct {
		Start int64 `json:"start"`
		End   int64 `json:"end"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decode allocate response: %w", err)
	}
	return out.Start, out.End, nil
}

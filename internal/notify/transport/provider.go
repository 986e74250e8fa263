package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safewalk-io/safewalk/internal/config"
)

// providerClient is the shared HTTP client for external send providers
// (push, SMS). The provider contract: POST {base_url}/send with a JSON body,
// Bearer auth, 2xx response carrying {"delivered": bool, "cost_cents": int,
// "detail": string}.
type providerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

type providerResponse struct {
	Delivered bool   `json:"delivered"`
	CostCents int    `json:"cost_cents"`
	Detail    string `json:"detail"`
}

func newProviderClient(cfg config.ProviderConfig) (*providerClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("provider base_url is required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &providerClient{
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (p *providerClient) send(ctx context.Context, payload any) (providerResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return providerResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return providerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return providerResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return providerResponse{}, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	var decoded providerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return providerResponse{}, fmt.Errorf("decode provider response: %w", err)
	}
	return decoded, nil
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"propsync-service/internal/config"
)

// HTTPStore talks to a REST backing store with one resource per table.
// Inserts use upsert semantics so a duplicate resend of a confirmed apply is
// a no-op on the remote side.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	healthPath string
	client     *http.Client
}

func NewHTTPStore(cfg config.RemoteConfig) (*HTTPStore, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("remote base_url is required")
	}

	return &HTTPStore{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		healthPath: cfg.HealthPath,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (s *HTTPStore) Insert(ctx context.Context, table string, record json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(record))
	if err != nil {
		return &StoreError{Op: "insert", Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	// Duplicate primary keys merge instead of erroring.
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	return s.do(req, "insert", table)
}

func (s *HTTPStore) Update(ctx context.Context, table, id string, record json.RawMessage) error {
	endpoint := fmt.Sprintf("%s/%s?id=eq.%s", s.baseURL, url.PathEscape(table), url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(record))
	if err != nil {
		return &StoreError{Op: "update", Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return s.do(req, "update", table)
}

func (s *HTTPStore) Delete(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/%s?id=eq.%s", s.baseURL, url.PathEscape(table), url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &StoreError{Op: "delete", Table: table, Err: err}
	}

	return s.do(req, "delete", table)
}

func (s *HTTPStore) Ping(ctx context.Context) error {
	endpoint := s.baseURL + s.healthPath
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &StoreError{Op: "ping", Table: "", Err: err}
	}

	return s.do(req, "ping", "")
}

func (s *HTTPStore) do(req *http.Request, op, table string) error {
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &StoreError{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StoreError{
		Op:     op,
		Table:  table,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("%s", bytes.TrimSpace(body)),
	}
}

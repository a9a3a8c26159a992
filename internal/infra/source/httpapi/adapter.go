package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/source"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
)

// Adapter streams records from a paginated JSON HTTP API.
//
// Expected response shape:
//
//	{"data": [...], "total": 1234}
//
// or a bare JSON array for single-page sources. Pagination uses page
// and per_page query parameters.
type Adapter struct {
	baseURL    string
	authToken  string
	pageSize   int
	idField    string
	httpClient *http.Client
}

// New creates an uninitialized HTTP API adapter. Register it in the
// source registry under the "httpapi" handle.
func New() source.Adapter {
	return &Adapter{}
}

// Init reads adapter settings from the source config map.
// Required: base_url. Optional: auth_token, page_size, id_field,
// timeout_ms.
func (a *Adapter) Init(ctx context.Context, cfg source.Config) error {
	baseURL, _ := cfg["base_url"].(string)
	if baseURL == "" {
		return fmt.Errorf("httpapi: base_url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return fmt.Errorf("httpapi: invalid base_url: %w", err)
	}
	a.baseURL = baseURL
	a.authToken, _ = cfg["auth_token"].(string)
	a.idField, _ = cfg["id_field"].(string)
	if a.idField == "" {
		a.idField = "id"
	}

	a.pageSize = defaultPageSize
	if v, ok := toInt(cfg["page_size"]); ok && v > 0 {
		a.pageSize = v
	}

	timeout := defaultTimeout
	if v, ok := toInt(cfg["timeout_ms"]); ok && v > 0 {
		timeout = time.Duration(v) * time.Millisecond
	}

	a.httpClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return nil
}

// Stream opens a cursor that pulls pages lazily.
func (a *Adapter) Stream(ctx context.Context) (source.RecordCursor, error) {
	if a.httpClient == nil {
		return nil, fmt.Errorf("httpapi: adapter not initialized")
	}
	return &pageCursor{adapter: a, page: 1}, nil
}

// ValidateConnection probes the source with a single-record request.
func (a *Adapter) ValidateConnection(ctx context.Context) error {
	_, err := a.fetchPage(ctx, 1, 1)
	if err != nil {
		return fmt.Errorf("httpapi: connection check failed: %w", err)
	}
	return nil
}

// TotalCount reports the source's total when the API exposes one.
func (a *Adapter) TotalCount(ctx context.Context) (int, error) {
	p, err := a.fetchPage(ctx, 1, 1)
	if err != nil {
		return 0, err
	}
	if p.total <= 0 {
		return 0, source.ErrNotSupported
	}
	return p.total, nil
}

type page struct {
	items []map[string]any
	total int
}

func (a *Adapter) fetchPage(ctx context.Context, pageNum, perPage int) (*page, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(pageNum))
	q.Set("per_page", strconv.Itoa(perPage))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.authToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", pageNum, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	// Envelope first, bare array fallback.
	var envelope struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return &page{items: envelope.Data, total: envelope.Total}, nil
	}

	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &page{items: items}, nil
}

// pageCursor walks pages in order, buffering one page at a time.
type pageCursor struct {
	adapter *Adapter
	page    int
	buf     []map[string]any
	pos     int
	done    bool
}

func (c *pageCursor) Next(ctx context.Context) (*domain.Record, error) {
	for c.pos >= len(c.buf) {
		if c.done {
			return nil, source.ErrEndOfStream
		}
		p, err := c.adapter.fetchPage(ctx, c.page, c.adapter.pageSize)
		if err != nil {
			return nil, err
		}
		c.page++
		c.buf = p.items
		c.pos = 0
		if len(p.items) < c.adapter.pageSize {
			c.done = true
		}
		if len(p.items) == 0 {
			return nil, source.ErrEndOfStream
		}
	}

	item := c.buf[c.pos]
	c.pos++

	id := ""
	if v, ok := item[c.adapter.idField]; ok {
		id = fmt.Sprintf("%v", v)
	}
	return &domain.Record{ID: id, Fields: item}, nil
}

func (c *pageCursor) Close() error {
	c.adapter.httpClient.CloseIdleConnections()
	return nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}

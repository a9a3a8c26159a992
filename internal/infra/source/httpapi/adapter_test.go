package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/source"
)

func pagedServer(t *testing.T, total int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		if page < 1 || perPage < 1 {
			http.Error(w, "bad paging", http.StatusBadRequest)
			return
		}

		start := (page - 1) * perPage
		items := []map[string]any{}
		for i := start; i < start+perPage && i < total; i++ {
			items = append(items, map[string]any{
				"id":    fmt.Sprintf("c-%d", i),
				"email": fmt.Sprintf("user%d@example.com", i),
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items, "total": total})
	}))
}

func drain(t *testing.T, cursor source.RecordCursor) []*domain.Record {
	t.Helper()
	var records []*domain.Record
	for {
		rec, err := cursor.Next(context.Background())
		if errors.Is(err, source.ErrEndOfStream) {
			return records
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		records = append(records, rec)
	}
}

func TestAdapter_StreamsAllPages(t *testing.T) {
	srv := pagedServer(t, 25)
	defer srv.Close()

	a := New()
	if err := a.Init(context.Background(), source.Config{"base_url": srv.URL, "page_size": 10}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cursor, err := a.Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer cursor.Close()

	records := drain(t, cursor)
	if len(records) != 25 {
		t.Fatalf("records = %d, want 25", len(records))
	}
	if records[0].ID != "c-0" || records[24].ID != "c-24" {
		t.Errorf("record ids out of order: first=%s last=%s", records[0].ID, records[24].ID)
	}
}

func TestAdapter_TotalCount(t *testing.T) {
	srv := pagedServer(t, 42)
	defer srv.Close()

	a := New()
	if err := a.Init(context.Background(), source.Config{"base_url": srv.URL}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	counter, ok := a.(source.Counter)
	if !ok {
		t.Fatal("adapter should implement Counter")
	}
	n, err := counter.TotalCount(context.Background())
	if err != nil {
		t.Fatalf("TotalCount: %v", err)
	}
	if n != 42 {
		t.Errorf("total = %d, want 42", n)
	}
}

func TestAdapter_BareArrayFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			json.NewEncoder(w).Encode([]map[string]any{})
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{{"id": "a"}, {"id": "b"}})
	}))
	defer srv.Close()

	a := New()
	if err := a.Init(context.Background(), source.Config{"base_url": srv.URL, "page_size": 10}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cursor, _ := a.Stream(context.Background())
	defer cursor.Close()

	records := drain(t, cursor)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
}

func TestAdapter_RateLimitSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := New()
	if err := a.Init(context.Background(), source.Config{"base_url": srv.URL}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	cursor, _ := a.Stream(context.Background())
	defer cursor.Close()

	if _, err := cursor.Next(context.Background()); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestAdapter_InitRequiresBaseURL(t *testing.T) {
	a := New()
	if err := a.Init(context.Background(), source.Config{}); err == nil {
		t.Fatal("expected error without base_url")
	}
}

func TestAdapter_ValidateConnection(t *testing.T) {
	srv := pagedServer(t, 5)
	defer srv.Close()

	a := New()
	if err := a.Init(context.Background(), source.Config{"base_url": srv.URL}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	v, ok := a.(source.ConnectionValidator)
	if !ok {
		t.Fatal("adapter should implement ConnectionValidator")
	}
	if err := v.ValidateConnection(context.Background()); err != nil {
		t.Errorf("ValidateConnection: %v", err)
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/pipeline"
	"github.com/autopress/autopress/internal/telemetry"
)

type memStore struct {
	mu      sync.Mutex
	items   map[string]pipeline.WorkItem
	results map[string][]pipeline.StageResult
}

func newMemStore() *memStore {
	return &memStore{
		items:   make(map[string]pipeline.WorkItem),
		results: make(map[string][]pipeline.StageResult),
	}
}

func (m *memStore) CreateWorkItem(_ context.Context, item *pipeline.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = *item
	return nil
}

func (m *memStore) GetWorkItem(_ context.Context, id string) (pipeline.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return pipeline.WorkItem{}, fmt.Errorf("work item %s not found", id)
	}
	return item, nil
}

func (m *memStore) UpdateWorkItemStatus(_ context.Context, id string, status pipeline.Status, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return fmt.Errorf("work item %s not found", id)
	}
	item.Status = status
	item.LastError = lastError
	m.items[id] = item
	return nil
}

func (m *memStore) SetWorkItemPost(_ context.Context, id, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.PostID = postID
	m.items[id] = item
	return nil
}

func (m *memStore) ResetForRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok || item.Status != pipeline.StatusFailed {
		return fmt.Errorf("work item %s is not in a failed state", id)
	}
	item.Status = pipeline.StatusPending
	item.Attempt++
	item.LastError = ""
	m.items[id] = item
	return nil
}

func (m *memStore) RescheduleWorkItem(_ context.Context, id string, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[id]
	item.DueAt = dueAt
	item.Status = pipeline.StatusPending
	m.items[id] = item
	return nil
}

func (m *memStore) AppendStageResult(_ context.Context, res pipeline.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.WorkItemID] = append(m.results[res.WorkItemID], res)
	return nil
}

func (m *memStore) StageResults(_ context.Context, workItemID string) ([]pipeline.StageResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pipeline.StageResult(nil), m.results[workItemID]...), nil
}

func (m *memStore) DueWorkItems(_ context.Context, now time.Time, limit int) ([]pipeline.WorkItem, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *memStore) {
	t.Helper()
	st := newMemStore()
	orch := pipeline.NewOrchestrator(
		config.PipelineConfig{StageAttempts: 1, BackoffBase: time.Millisecond, MaxConcurrent: 1},
		st, nil, nil, nil, nil, nil, nil, telemetry.New(),
	)
	return New(config.ServerConfig{Address: ":0"}, orch, st, telemetry.New(), nil), st
}

func TestCreateWorkItemEndpoint(t *testing.T) {
	srv, st := newTestServer(t)

	body := `{"topic":"electric bikes","language":"en","target_word_count":2000,"available_categories":["Technology"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/workitems", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	item, err := st.GetWorkItem(context.Background(), resp["id"])
	if err != nil {
		t.Fatalf("stored item: %v", err)
	}
	if item.Status != pipeline.StatusPending || item.Topic != "electric bikes" {
		t.Errorf("stored item = %+v", item)
	}
}

func TestCreateWorkItemRequiresTopic(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/workitems", strings.NewReader(`{"topic":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetWorkItemEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	item := pipeline.WorkItem{ID: "item-1", Topic: "solar panels", Status: pipeline.StatusDrafting}
	_ = st.CreateWorkItem(context.Background(), &item)
	_ = st.AppendStageResult(context.Background(), pipeline.StageResult{
		WorkItemID: "item-1", Stage: pipeline.StageResearch, Attempt: 1, Accepted: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workitems/item-1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		WorkItem     pipeline.WorkItem      `json:"work_item"`
		StageResults []pipeline.StageResult `json:"stage_results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorkItem.Topic != "solar panels" || len(resp.StageResults) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestGetWorkItemNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/workitems/missing", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRetryEndpoint(t *testing.T) {
	srv, st := newTestServer(t)
	failed := pipeline.WorkItem{ID: "item-f", Topic: "t", Status: pipeline.StatusFailed, LastError: "publish rejected"}
	running := pipeline.WorkItem{ID: "item-r", Topic: "t", Status: pipeline.StatusDrafting}
	_ = st.CreateWorkItem(context.Background(), &failed)
	_ = st.CreateWorkItem(context.Background(), &running)

	req := httptest.NewRequest(http.MethodPost, "/api/workitems/item-f/retry", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry failed item: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var item pipeline.WorkItem
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Status != pipeline.StatusPending || item.Attempt != 1 {
		t.Errorf("after retry: %+v", item)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/workitems/item-r/retry", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("retry running item: status = %d, want 409", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

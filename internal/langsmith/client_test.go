package langsmith

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(endpoint string) *Client {
	client := NewClient(Config{
		APIKey:     "test-key",
		Project:    "sapience",
		Endpoint:   endpoint,
		APITimeout: 5,
	})
	client.backoffBase = time.Millisecond
	return client
}

func TestNewClient_DefaultTimeout(t *testing.T) {
	client := NewClient(Config{Endpoint: DefaultEndpoint})
	if client.httpClient.Timeout != DefaultTimeout*time.Second {
		t.Errorf("Timeout = %v, want %v", client.httpClient.Timeout, DefaultTimeout*time.Second)
	}
}

func TestClient_CreateRun(t *testing.T) {
	var received RunCreate
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/runs" {
			t.Errorf("Path = %s, want /runs", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", r.Header.Get("x-api-key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	run, err := client.CreateRun(context.Background(), RunCreate{
		Name:    "monthly_forecast",
		RunType: "chain",
	})
	if err != nil {
		t.Fatalf("CreateRun() error = %v, want nil", err)
	}
	if run.ID == "" {
		t.Error("CreateRun() returned empty run ID")
	}
	if received.ID != run.ID {
		t.Errorf("sent ID %q, returned ID %q", received.ID, run.ID)
	}
	if received.SessionName != "sapience" {
		t.Errorf("SessionName = %q, want sapience (project default)", received.SessionName)
	}
	if received.StartTime.IsZero() {
		t.Error("StartTime not populated")
	}
}

func TestClient_CreateDataset(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/datasets" {
			t.Errorf("Path = %s, want /datasets", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Dataset{ID: "ds-123", Name: "acdoca_eval"})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ds, err := client.CreateDataset(context.Background(), DatasetCreate{Name: "acdoca_eval"})
	if err != nil {
		t.Fatalf("CreateDataset() error = %v, want nil", err)
	}
	if ds.ID != "ds-123" {
		t.Errorf("Dataset ID = %q, want ds-123", ds.ID)
	}
}

func TestClient_QueryRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/query" {
			t.Errorf("Path = %s, want /runs/query", r.URL.Path)
		}
		var q RunQuery
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Errorf("decoding query body: %v", err)
		}
		if q.Project != "sapience" {
			t.Errorf("Project = %q, want sapience", q.Project)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"runs": []Run{
				{ID: "r1", Name: "monthly_forecast", RunType: "chain"},
				{ID: "r2", Name: "ml_prediction_pup_predictor", RunType: "llm", Error: "boom"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	runs, err := client.QueryRuns(context.Background(), RunQuery{Limit: 10})
	if err != nil {
		t.Fatalf("QueryRuns() error = %v, want nil", err)
	}
	if len(runs) != 2 {
		t.Fatalf("QueryRuns() returned %d runs, want 2", len(runs))
	}
	if runs[1].Error != "boom" {
		t.Errorf("runs[1].Error = %q, want boom", runs[1].Error)
	}
}

func TestClient_RetryOn500(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.CreateRun(context.Background(), RunCreate{Name: "retry"}); err != nil {
		t.Fatalf("CreateRun() error = %v, want nil after retry", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestClient_RetryOn429(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.CreateRun(context.Background(), RunCreate{Name: "throttled"}); err != nil {
		t.Fatalf("CreateRun() error = %v, want nil after rate-limit retry", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateRun(context.Background(), RunCreate{Name: "bad"})
	if err == nil {
		t.Fatal("CreateRun() error = nil, want client error")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %v, want mention of status 400", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (4xx must not retry)", got)
	}
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.CreateRun(context.Background(), RunCreate{Name: "down"})
	if err == nil {
		t.Fatal("CreateRun() error = nil, want max retries error")
	}
	if !strings.Contains(err.Error(), "max retries exceeded") {
		t.Errorf("error = %v, want max retries exceeded", err)
	}
}

func TestClient_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.CreateRun(ctx, RunCreate{Name: "slow"}); err == nil {
		t.Fatal("CreateRun() error = nil, want deadline error")
	}
}

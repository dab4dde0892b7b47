package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/teranos/flowd/store"
)

// TestClient_Configuration tests client configuration and defaults
func TestClient_Configuration(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewClient(Config{
			BaseURL: "https://app.example.com/",
			Secret:  "test-secret",
		})

		if client.baseURL != "https://app.example.com" {
			t.Errorf("expected trailing slash to be trimmed, got %s", client.baseURL)
		}
		if client.httpClient.Timeout != DefaultTimeout {
			t.Errorf("expected default timeout %v, got %v", DefaultTimeout, client.httpClient.Timeout)
		}
		if client.limiter == nil {
			t.Fatal("expected rate limiter to be configured")
		}
		if client.log == nil {
			t.Fatal("expected fallback logger to be configured")
		}
	})

	t.Run("preserves custom values", func(t *testing.T) {
		client := NewClient(Config{
			BaseURL: "http://localhost:3000",
			Secret:  "test-secret",
			Timeout: 5 * time.Second,
		})

		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("expected custom timeout, got %v", client.httpClient.Timeout)
		}
	})
}

// TestClient_ListQueued tests fetching queued jobs from the frontend
func TestClient_ListQueued(t *testing.T) {
	t.Run("fetches and converts jobs", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("expected GET, got %s", r.Method)
			}
			if r.URL.Path != "/api/external/jobs" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.URL.Query().Get("status") != "queued" {
				t.Errorf("expected status=queued, got %s", r.URL.Query().Get("status"))
			}
			if r.URL.Query().Get("limit") != "20" {
				t.Errorf("expected limit=20, got %s", r.URL.Query().Get("limit"))
			}
			if r.Header.Get("X-Api-Key") != "test-secret" {
				t.Error("expected X-Api-Key header")
			}

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{
				"jobs": [
					{
						"jobId": "job-1",
						"sessionId": "sess-1",
						"mode": "analysis",
						"responses": {"q1": "yes"},
						"userData": {"locale": "de"},
						"createdAt": "2026-08-01T10:00:00Z"
					},
					{
						"id": "job-2",
						"sessionId": "sess-2",
						"mode": "report",
						"responses": "plain answer text"
					}
				]
			}`))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		jobs, err := client.ListQueued(context.Background(), 20)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(jobs) != 2 {
			t.Fatalf("expected 2 jobs, got %d", len(jobs))
		}

		first := jobs[0]
		if first.ID != "job-1" {
			t.Errorf("expected job-1, got %s", first.ID)
		}
		if first.SessionID != "sess-1" {
			t.Errorf("expected sess-1, got %s", first.SessionID)
		}
		if first.Mode != "analysis" {
			t.Errorf("expected mode analysis, got %s", first.Mode)
		}
		if first.Status != store.JobStatusQueued {
			t.Errorf("expected queued status, got %s", first.Status)
		}
		if first.Responses.Fields["q1"] != "yes" {
			t.Errorf("expected structured responses, got %+v", first.Responses)
		}
		if first.UserData["locale"] != "de" {
			t.Errorf("expected user data to survive, got %+v", first.UserData)
		}
		if first.CreatedAt.IsZero() {
			t.Error("expected createdAt to be parsed")
		}

		// Older frontend builds send "id" and bare-string responses
		second := jobs[1]
		if second.ID != "job-2" {
			t.Errorf("expected id fallback to job-2, got %s", second.ID)
		}
		if second.Responses.Raw != "plain answer text" {
			t.Errorf("expected raw responses, got %+v", second.Responses)
		}
	})

	t.Run("skips entries without an ID", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"jobs": [{"sessionId": "sess-x", "mode": "analysis"}]}`))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		jobs, err := client.ListQueued(context.Background(), 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("expected ID-less entries to be dropped, got %d jobs", len(jobs))
		}
	})

	t.Run("returns error on HTTP failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "backend down", http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		_, err := client.ListQueued(context.Background(), 10)
		if err == nil {
			t.Fatal("expected error for HTTP 502")
		}
		if !strings.Contains(err.Error(), "status 502") {
			t.Errorf("expected status in error, got: %v", err)
		}
	})

	t.Run("returns error on malformed JSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		_, err := client.ListQueued(context.Background(), 10)
		if err == nil {
			t.Fatal("expected error for malformed JSON")
		}
	})

	t.Run("aborts on cancelled context", func(t *testing.T) {
		client := NewClient(Config{BaseURL: "http://localhost:1", Secret: "test-secret"})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.ListQueued(ctx, 10)
		if err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}

// TestClient_PatchStatus tests pushing status updates to the frontend
func TestClient_PatchStatus(t *testing.T) {
	t.Run("sends completion with timestamp", func(t *testing.T) {
		var gotBody map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPatch {
				t.Errorf("expected PATCH, got %s", r.Method)
			}
			if r.URL.Path != "/api/external/jobs/job-42" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("X-Api-Key") != "test-secret" {
				t.Error("expected X-Api-Key header")
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Error("expected JSON content type")
			}
			if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
				t.Errorf("failed to decode body: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		completedAt := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		err := client.PatchStatus(context.Background(), "job-42", store.JobStatusCompleted, "", &completedAt)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if gotBody["status"] != "completed" {
			t.Errorf("expected status completed, got %v", gotBody["status"])
		}
		if _, present := gotBody["error"]; present {
			t.Error("expected empty error to be omitted")
		}
		if gotBody["completedAt"] != "2026-08-01T12:30:00Z" {
			t.Errorf("expected RFC3339 completedAt, got %v", gotBody["completedAt"])
		}
	})

	t.Run("sends failure with error text", func(t *testing.T) {
		var gotBody map[string]interface{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&gotBody)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		err := client.PatchStatus(context.Background(), "job-9", store.JobStatusFailed, "Pipeline execution failed", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if gotBody["status"] != "failed" {
			t.Errorf("expected status failed, got %v", gotBody["status"])
		}
		if gotBody["error"] != "Pipeline execution failed" {
			t.Errorf("expected error text, got %v", gotBody["error"])
		}
		if _, present := gotBody["completedAt"]; present {
			t.Error("expected nil completedAt to be omitted")
		}
	})

	t.Run("returns error on HTTP failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "job not found", http.StatusNotFound)
		}))
		defer server.Close()

		client := NewClient(Config{BaseURL: server.URL, Secret: "test-secret"})
		err := client.PatchStatus(context.Background(), "job-missing", store.JobStatusProcessing, "", nil)
		if err == nil {
			t.Fatal("expected error for HTTP 404")
		}
		if !strings.Contains(err.Error(), "status 404") {
			t.Errorf("expected status in error, got: %v", err)
		}
	})
}

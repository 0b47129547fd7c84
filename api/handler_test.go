package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xraph/payhook/alert"
	"github.com/xraph/payhook/api"
	"github.com/xraph/payhook/delivery"
	"github.com/xraph/payhook/endpoint"
	"github.com/xraph/payhook/event"
	"github.com/xraph/payhook/id"
	"github.com/xraph/payhook/store/memory"
)

type testEnv struct {
	srv    *httptest.Server
	store  *memory.Store
	alerts *alert.Service
}

// newEnv creates a Handler backed by a memory store and returns the test server.
func newEnv(t *testing.T) *testEnv {
	t.Helper()

	s := memory.New()
	q := delivery.NewQueue(s, event.NewCatalog(), delivery.QueueConfig{}, nil)
	epSvc := endpoint.NewService(s, nil)
	alertSvc := alert.NewService(s, nil)

	srv := httptest.NewServer(api.NewHandler(q, epSvc, alertSvc, nil))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: s, alerts: alertSvc}
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("%s %s: expected %d, got %d: %s",
			resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func createEndpoint(t *testing.T, env *testEnv, merchantID string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", env.srv.URL+"/endpoints", map[string]any{
		"merchantId": merchantID,
		"url":        "https://merchant.example.com/hooks",
	})
	expectStatus(t, resp, http.StatusCreated)
	var ep map[string]any
	decodeBody(t, resp, &ep)
	return ep
}

func enqueue(t *testing.T, env *testEnv, merchantID, tx string) string {
	t.Helper()
	resp := doJSON(t, "POST", env.srv.URL+"/events", map[string]any{
		"merchantId": merchantID,
		"payload": map[string]any{
			"transactionId":   tx,
			"transactionType": "deposit",
			"status":          "completed",
			"amount":          "25.00",
			"asset":           "USDC",
			"eventType":       "payment.completed",
		},
	})
	expectStatus(t, resp, http.StatusAccepted)
	var handle map[string]any
	decodeBody(t, resp, &handle)
	jobID, _ := handle["jobId"].(string)
	if jobID == "" {
		t.Fatalf("expected jobId in %v", handle)
	}
	return jobID
}

// --- Endpoints ---

func TestEndpoints_CRUD(t *testing.T) {
	env := newEnv(t)

	ep := createEndpoint(t, env, "m1")
	epID, _ := ep["id"].(string)
	if secret, _ := ep["secret"].(string); len(secret) == 0 {
		t.Fatalf("expected secret on create, got %v", ep)
	}
	if ep["isActive"] != true {
		t.Fatalf("expected isActive, got %v", ep["isActive"])
	}

	// Get hides the secret.
	resp := doJSON(t, "GET", env.srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusOK)
	var got map[string]any
	decodeBody(t, resp, &got)
	if _, ok := got["secret"]; ok {
		t.Fatal("secret must not be listed after registration")
	}

	// Update
	resp = doJSON(t, "PUT", env.srv.URL+"/endpoints/"+epID, map[string]any{
		"url": "https://merchant.example.com/v2",
	})
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got["url"] != "https://merchant.example.com/v2" {
		t.Fatalf("expected updated url, got %v", got["url"])
	}

	// Active endpoint for merchant
	resp = doJSON(t, "GET", env.srv.URL+"/merchants/m1/endpoint", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &got)
	if got["id"] != epID {
		t.Fatalf("expected active %s, got %v", epID, got["id"])
	}

	// Disable then the merchant has no active endpoint.
	resp = doJSON(t, "PATCH", env.srv.URL+"/endpoints/"+epID+"/disable", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = doJSON(t, "GET", env.srv.URL+"/merchants/m1/endpoint", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "PATCH", env.srv.URL+"/endpoints/"+epID+"/enable", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	// Rotate
	resp = doJSON(t, "POST", env.srv.URL+"/endpoints/"+epID+"/rotate-secret", nil)
	expectStatus(t, resp, http.StatusOK)
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == "" || rotated["secret"] == ep["secret"] {
		t.Fatalf("expected a new secret, got %q", rotated["secret"])
	}

	// List
	resp = doJSON(t, "GET", env.srv.URL+"/endpoints?merchant_id=m1", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("expected 1 endpoint, got %d", len(list))
	}

	// Delete
	resp = doJSON(t, "DELETE", env.srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
	resp = doJSON(t, "GET", env.srv.URL+"/endpoints/"+epID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestEndpoints_Errors(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"insecure url", "POST", "/endpoints", map[string]any{"merchantId": "m1", "url": "http://x.example.com"}, http.StatusBadRequest},
		{"missing merchant", "POST", "/endpoints", map[string]any{"url": "https://x.example.com"}, http.StatusBadRequest},
		{"bad body", "POST", "/endpoints", "nope", http.StatusBadRequest},
		{"bad id", "GET", "/endpoints/not-an-id", nil, http.StatusBadRequest},
		{"unknown", "GET", "/endpoints/" + id.NewEndpointID().String(), nil, http.StatusNotFound},
		{"list without merchant", "GET", "/endpoints", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, env.srv.URL+tt.path, tt.body)
			expectStatus(t, resp, tt.want)
			var body map[string]string
			decodeBody(t, resp, &body)
			if body["error"] == "" {
				t.Fatalf("expected error message, got %v", body)
			}
		})
	}
}

// --- Events and jobs ---

func TestEvents_EnqueueAndList(t *testing.T) {
	env := newEnv(t)
	createEndpoint(t, env, "m1")

	jobID := enqueue(t, env, "m1", "tx-1")

	resp := doJSON(t, "GET", env.srv.URL+"/events/pending?merchant_id=m1", nil)
	expectStatus(t, resp, http.StatusOK)
	var pending []map[string]any
	decodeBody(t, resp, &pending)
	if len(pending) != 1 || pending[0]["jobId"] != jobID {
		t.Fatalf("expected pending %s, got %v", jobID, pending)
	}
	if pending[0]["status"] != "PENDING" {
		t.Fatalf("expected PENDING, got %v", pending[0]["status"])
	}

	resp = doJSON(t, "GET", env.srv.URL+"/events/failed", nil)
	expectStatus(t, resp, http.StatusOK)
	var failed []map[string]any
	decodeBody(t, resp, &failed)
	if len(failed) != 0 {
		t.Fatalf("expected no failed events, got %d", len(failed))
	}

	resp = doJSON(t, "GET", env.srv.URL+"/jobs/"+jobID, nil)
	expectStatus(t, resp, http.StatusOK)
	var job map[string]map[string]any
	decodeBody(t, resp, &job)
	if job["job"]["state"] != "pending" || job["record"]["jobId"] != jobID {
		t.Fatalf("unexpected job response %v", job)
	}
}

func TestEvents_EnqueueErrors(t *testing.T) {
	env := newEnv(t)

	// No endpoint for the merchant.
	resp := doJSON(t, "POST", env.srv.URL+"/events", map[string]any{
		"merchantId": "m1",
		"payload":    map[string]any{"transactionId": "tx"},
	})
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	createEndpoint(t, env, "m1")

	// Schema violation.
	resp = doJSON(t, "POST", env.srv.URL+"/events", map[string]any{
		"merchantId": "m1",
		"payload": map[string]any{
			"transactionId": "tx",
			"eventType":     "payment.completed",
			"status":        "failed",
		},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Malformed timestamp.
	resp = doJSON(t, "POST", env.srv.URL+"/events", map[string]any{
		"merchantId": "m1",
		"payload": map[string]any{
			"transactionId":   "tx",
			"transactionType": "deposit",
			"status":          "completed",
			"amount":          "1",
			"asset":           "USDC",
			"eventType":       "payment.completed",
			"timestamp":       "not-a-time",
		},
	})
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestJobs_Retry(t *testing.T) {
	env := newEnv(t)
	createEndpoint(t, env, "m1")
	jobID := enqueue(t, env, "m1", "tx-1")

	// Unknown job
	resp := doJSON(t, "POST", env.srv.URL+"/jobs/m1_nope_1/retry", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	// Held by a worker
	claimed, err := env.store.DequeueJobs(context.Background(), 1, time.Minute)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue: %v (%d jobs)", err, len(claimed))
	}
	resp = doJSON(t, "POST", env.srv.URL+"/jobs/"+jobID+"/retry", nil)
	expectStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Released and failed: retry re-opens it.
	j := claimed[0]
	j.State = delivery.StateFailed
	j.LockedUntil = nil
	if err := env.store.UpdateJob(context.Background(), j); err != nil {
		t.Fatal(err)
	}
	resp = doJSON(t, "POST", env.srv.URL+"/jobs/"+jobID+"/retry", nil)
	expectStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()

	got, err := env.store.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != delivery.StatePending || got.AttemptsMade != 0 {
		t.Fatalf("expected pending with 0 attempts, got %s/%d", got.State, got.AttemptsMade)
	}
}

// --- Metrics ---

func TestQueueMetrics(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, "GET", env.srv.URL+"/queue/metrics?merchant_id=m1", nil)
	expectStatus(t, resp, http.StatusOK)
	var m map[string]any
	decodeBody(t, resp, &m)
	if m["successRate"] != float64(100) {
		t.Fatalf("expected successRate 100 on empty queue, got %v", m["successRate"])
	}
	merchant, _ := m["merchant"].(map[string]any)
	if merchant == nil || merchant["total"] != float64(0) {
		t.Fatalf("expected empty merchant breakdown, got %v", m["merchant"])
	}

	createEndpoint(t, env, "m1")
	enqueue(t, env, "m1", "tx-1")

	resp = doJSON(t, "GET", env.srv.URL+"/queue/metrics", nil)
	expectStatus(t, resp, http.StatusOK)
	m = nil
	decodeBody(t, resp, &m)
	if m["waiting"] != float64(1) {
		t.Fatalf("expected 1 waiting job, got %v", m["waiting"])
	}
	if _, ok := m["merchant"]; ok {
		t.Fatal("merchant breakdown only appears when merchant_id is set")
	}
}

// --- Alerts ---

func TestAlerts(t *testing.T) {
	env := newEnv(t)

	a, err := env.alerts.Escalate(context.Background(), alert.Alert{
		MerchantID:    "m1",
		WebhookURL:    "https://merchant.example.com/hooks",
		TransactionID: "tx-1",
		Error:         "HTTP 500",
		AttemptNumber: 5,
		JobID:         "m1_tx-1_1",
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, "GET", env.srv.URL+"/alerts?merchant_id=m1", nil)
	expectStatus(t, resp, http.StatusOK)
	var list []map[string]any
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0]["id"] != a.ID.String() {
		t.Fatalf("expected alert %s, got %v", a.ID, list)
	}

	resp = doJSON(t, "POST", env.srv.URL+"/alerts/"+a.ID.String()+"/ack", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	resp = doJSON(t, "GET", env.srv.URL+"/alerts?unacknowledged=true", nil)
	expectStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &list)
	if len(list) != 0 {
		t.Fatalf("expected no unacknowledged alerts, got %d", len(list))
	}

	// The alert's job does not exist.
	resp = doJSON(t, "POST", env.srv.URL+"/alerts/"+a.ID.String()+"/replay", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "POST", env.srv.URL+"/alerts/"+id.NewAlertID().String()+"/ack", nil)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = doJSON(t, "GET", env.srv.URL+"/alerts/bogus", nil)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

// --- Middleware ---

func TestRequestID(t *testing.T) {
	env := newEnv(t)

	resp := doJSON(t, "GET", env.srv.URL+"/events/failed", nil)
	resp.Body.Close()
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	req, _ := http.NewRequestWithContext(context.Background(), "GET", env.srv.URL+"/events/failed", nil)
	req.Header.Set(api.RequestIDHeader, "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get(api.RequestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

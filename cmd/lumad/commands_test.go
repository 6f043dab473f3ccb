package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	APIKey string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			APIKey: r.Header.Get("X-API-KEY"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		apiKey:     "test-key",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestSettingsSetRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /settings": `{"ok":true}`,
	})

	client := ts.client()
	body := map[string]any{
		"user_id":  "alice",
		"settings": map[string]any{"language": "Spanish"},
	}
	resp, err := client.post(ctx, "/settings", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]bool
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result["ok"] {
		t.Error("expected ok response")
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/settings" {
		t.Errorf("request = %s %s, want POST /settings", r.Method, r.Path)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(r.Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["user_id"] != "alice" {
		t.Errorf("body.user_id = %v, want alice", sent["user_id"])
	}
	nested, ok := sent["settings"].(map[string]any)
	if !ok || nested["language"] != "Spanish" {
		t.Errorf("body.settings = %v, want nested language", sent["settings"])
	}
}

func TestSettingsShowURLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /settings": `{"user_id":"a b","theme_mode":"System"}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/settings?user_id="+url.QueryEscape("a b"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if !strings.Contains(ts.requests[0].Path, "user_id=a+b") {
		t.Errorf("query not URL-encoded: %q", ts.requests[0].Path)
	}
}

func TestHistoryClearRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /history/clear": `{"ok":true,"removed":4}`,
	})

	client := ts.client()
	resp, err := client.post(ctx, "/history/clear", map[string]any{"user_id": "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Removed int64 `json:"removed"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Removed != 4 {
		t.Errorf("removed = %d, want 4", result.Removed)
	}
}

func TestUserFlagRequired(t *testing.T) {
	defer rootCmd.SetArgs(nil)
	rootCmd.AddCommand(settingsCmd)

	rootCmd.SetArgs([]string{"settings", "show"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing --user flag")
	}
	if !strings.Contains(err.Error(), "user") {
		t.Errorf("error = %q, want it to mention the user flag", err.Error())
	}
}

func TestStatusCommandStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClientKeyHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.apiKey = "my-secret"

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].APIKey != "my-secret" {
		t.Errorf("X-API-KEY = %q, want my-secret", ts.requests[0].APIKey)
	}
}

func TestDecodeJSONErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing API key","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		apiKey:     "bad-key",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/settings?user_id=u1")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

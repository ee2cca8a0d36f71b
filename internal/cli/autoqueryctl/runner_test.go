package autoqueryctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRunHealthCommand(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-api-key", "k1", "health"}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodGet || gotPath != "/health" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" {
		t.Fatalf("api key = %q", gotAPIKey)
	}
	if !strings.Contains(stdout.String(), `"status": "ok"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunQueryRendersTable(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/query" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"columns":["Maker","n"],"rows":[["Audi",12],["BMW",null]],"truncated":false}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "query", "SELECT", "Maker,", "count(*)", "AS", "n", "FROM", "Price_table"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotBody["sql"] != "SELECT Maker, count(*) AS n FROM Price_table" {
		t.Fatalf("sql = %v", gotBody["sql"])
	}
	out := stdout.String()
	for _, want := range []string{"Maker", "Audi", "12", "NULL", "(2 rows)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunQueryCSVOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"columns":["Maker","Price"],"rows":[["Audi",21000.5],["Kia",9000]],"truncated":true}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-output", "csv", "query", "SELECT 1"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if got := strings.TrimSpace(stdout.String()); got != "Maker,Price\nAudi,21000.5\nKia,9000" {
		t.Fatalf("csv = %q", got)
	}
	if !strings.Contains(stderr.String(), "truncated") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunQueryEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"columns":["Maker"],"rows":[],"truncated":false}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	if code := Run(context.Background(), []string{"-base-url", srv.URL, "query", "SELECT 1"}, Options{Stdout: &stdout}); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if strings.TrimSpace(stdout.String()) != "(0 rows)" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"SQL_EXECUTION_ERROR: only read-only statements are allowed","error_code":"QUERY_REJECTED"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "query", "DELETE FROM Price_table"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "http 400: SQL_EXECUTION_ERROR") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunAskSendsSession(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"response":"Audi sold the most.","session_id":"s-1","steps":[{"tool":"execute_query","input":{"query":"SELECT 1"},"output":"1"}]}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "-session", "s-1", "-steps", "ask", "who", "sold", "most?"}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotBody["message"] != "who sold most?" || gotBody["session_id"] != "s-1" {
		t.Fatalf("body = %v", gotBody)
	}
	if _, ok := gotBody["history"]; ok {
		t.Fatalf("ask should not send history: %v", gotBody)
	}
	if strings.TrimSpace(stdout.String()) != "Audi sold the most." {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "step 1: execute_query") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunChatKeepsHistory(t *testing.T) {
	var mu sync.Mutex
	var histories []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Message string           `json:"message"`
			History []map[string]any `json:"history"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		histories = append(histories, len(body.History))
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "echo " + body.Message})
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	stdin := strings.NewReader("first\n\nsecond\nthird\nquit\nnever\n")
	code := Run(context.Background(), []string{"-base-url", srv.URL, "chat"}, Options{Stdin: stdin, Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if len(histories) != 3 || histories[0] != 0 || histories[1] != 1 || histories[2] != 2 {
		t.Fatalf("history lengths = %v", histories)
	}
	if !strings.Contains(stdout.String(), "Agent: echo third") || strings.Contains(stdout.String(), "never") {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	if code := Run(context.Background(), []string{"bogus"}, Options{Stderr: &stderr}); code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "usage: autoqueryctl") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if code := Run(context.Background(), []string{"query"}, Options{}); code != 2 {
		t.Fatalf("query without sql exit code = %d", code)
	}
	if code := Run(context.Background(), nil, Options{}); code != 2 {
		t.Fatalf("no command exit code = %d", code)
	}
}

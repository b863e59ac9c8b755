package providers

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

func chatServerResponse(content string) string {
	resp := map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestChatClientGenerate(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(chatServerResponse("生成结果")))
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{
		Name:    "text",
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := client.Generate(context.Background(), "总结这段剧情", "你是助手", 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if out != "生成结果" {
		t.Errorf("unexpected output %q", out)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("unexpected messages %+v", gotReq.Messages)
	}
	if gotReq.Temperature != 0.5 {
		t.Errorf("unexpected temperature %v", gotReq.Temperature)
	}
}

func TestChatClientAnalyzeBatch(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		gotBody, _ = json.Marshal(req)
		w.Write([]byte(chatServerResponse(`{
			"pages": [{"page_number": 3, "page_summary": "页面三"}],
			"batch_summary": "批次摘要",
			"key_events": ["事件"]
		}`)))
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{
		Name:    "vision",
		BaseURL: srv.URL,
		Model:   "test-model",
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := client.AnalyzeBatch(context.Background(), [][]byte{[]byte("img")}, 3, "上文")
	if err != nil {
		t.Fatal(err)
	}
	if result.ParseError {
		t.Fatal("unexpected parse error")
	}
	if result.BatchSummary != "批次摘要" {
		t.Errorf("unexpected summary %q", result.BatchSummary)
	}
	if len(result.Pages) != 1 || result.Pages[0].PageNumber != 3 {
		t.Errorf("unexpected pages %+v", result.Pages)
	}

	body := string(gotBody)
	if !strings.Contains(body, "data:image/jpeg;base64,") {
		t.Error("request missing base64 image content")
	}
	if !strings.Contains(body, "json_schema") {
		t.Error("request missing structured response format")
	}
}

func TestChatClientRetriesOnServerError(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatServerResponse("第三次成功")))
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := client.Generate(context.Background(), "prompt", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if out != "第三次成功" {
		t.Errorf("unexpected output %q", out)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestChatClientNoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{
		BaseURL:    srv.URL,
		Model:      "test-model",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Generate(context.Background(), "prompt", "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call for 4xx, got %d", calls.Load())
	}
}

func TestNewChatClientValidation(t *testing.T) {
	if _, err := NewChatClient(ChatConfig{Model: "m"}); err == nil {
		t.Error("expected error for missing base URL")
	}
	if _, err := NewChatClient(ChatConfig{BaseURL: "http://localhost"}); err == nil {
		t.Error("expected error for missing model")
	}
}

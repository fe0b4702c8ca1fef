package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		URL:       url,
		APIKey:    "test-key",
		Model:     "test-model",
		Timeout:   5 * time.Second,
		MaxTokens: 4000,
	})
}

func textResponse(text string) string {
	return fmt.Sprintf(`{"content":[{"type":"text","text":%q}]}`, text)
}

func TestComplete(t *testing.T) {
	var got completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("request path = %s", r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "test-key" {
			t.Errorf("missing api key header")
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Errorf("malformed request body: %v", err)
		}
		fmt.Fprint(w, textResponse("Widget A|10"))
	}))
	defer server.Close()

	text, err := newTestClient(server.URL).Complete(context.Background(), "CLASSES:\n10 - Bread", "ITEMS:\nWidget A")
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "Widget A|10" {
		t.Errorf("response text = %q", text)
	}

	if got.Model != "test-model" || got.MaxTokens != 4000 || got.Temperature != 0 {
		t.Errorf("request settings = %s / %d / %v", got.Model, got.MaxTokens, got.Temperature)
	}
	if len(got.System) != 1 {
		t.Fatalf("system blocks = %d, want 1", len(got.System))
	}
	if got.System[0].Text != "CLASSES:\n10 - Bread" || got.System[0].CacheControl["type"] != "ephemeral" {
		t.Errorf("system block not cache-marked: %+v", got.System[0])
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "ITEMS:\nWidget A" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestCompleteWithoutPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &req)
		if len(req.System) != 0 {
			t.Errorf("empty prefix still produced system blocks: %+v", req.System)
		}
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL).Complete(context.Background(), "", "hello"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

func TestCompleteStatusClasses(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ClassThrottled},
		{529, ClassOverloaded},
		{500, ClassTransient},
		{503, ClassTransient},
		{400, ClassFatal},
		{401, ClassFatal},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"type":"api_error","message":"nope"}}`)
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Complete(context.Background(), "", "hello")
			var svcErr *ServiceError
			if !errors.As(err, &svcErr) {
				t.Fatalf("error = %v, want *ServiceError", err)
			}
			if svcErr.Class != tt.want || svcErr.StatusCode != tt.status {
				t.Errorf("class = %s status = %d, want %s %d",
					svcErr.Class, svcErr.StatusCode, tt.want, tt.status)
			}
			if svcErr.Message != "nope" {
				t.Errorf("message = %q, want error body message", svcErr.Message)
			}
		})
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), "", "hello")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("error = %v, want ErrEmptyResponse", err)
	}
}

func TestRefreshCache(t *testing.T) {
	var got completionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &got)
		fmt.Fprint(w, textResponse("ok"))
	}))
	defer server.Close()

	if err := newTestClient(server.URL).RefreshCache(context.Background(), "CLASSES:\n10 - Bread"); err != nil {
		t.Fatalf("RefreshCache failed: %v", err)
	}
	if got.MaxTokens != 10 {
		t.Errorf("refresh max_tokens = %d, want minimal request", got.MaxTokens)
	}
	if len(got.System) != 1 || got.System[0].CacheControl["type"] != "ephemeral" {
		t.Errorf("refresh did not resend the cache-marked prefix: %+v", got.System)
	}
}

func TestCompleteTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	_, err := newTestClient(server.URL).Complete(context.Background(), "", "hello")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error = %v, want *ServiceError", err)
	}
	if svcErr.Class != ClassTransient {
		t.Errorf("transport failure class = %s, want transient", svcErr.Class)
	}
}

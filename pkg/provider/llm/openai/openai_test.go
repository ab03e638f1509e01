package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/pivoice/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		wantErr bool
	}{
		{role: llm.RoleSystem},
		{role: llm.RoleUser},
		{role: llm.RoleAssistant},
		{role: "tool", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			t.Parallel()
			p, err := convertMessage(llm.Message{Role: tt.role, Content: "x"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("convertMessage error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			set := map[string]bool{
				llm.RoleSystem:    p.OfSystem != nil,
				llm.RoleUser:      p.OfUser != nil,
				llm.RoleAssistant: p.OfAssistant != nil,
			}
			if !set[tt.role] {
				t.Errorf("union for role %q not set", tt.role)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "qwen2.5-1.5b-instruct-q4_k_m"}
	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Ты голосовой ассистент.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Привет"}},
		Temperature:  0.7,
		TopP:         0.9,
		MaxTokens:    150,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if len(params.Messages) != 2 {
		t.Errorf("messages = %d, want 2 (system + user)", len(params.Messages))
	}
	if params.MaxCompletionTokens.Value != 150 {
		t.Errorf("MaxCompletionTokens = %d, want 150", params.MaxCompletionTokens.Value)
	}
	if params.TopP.Value != 0.9 {
		t.Errorf("TopP = %v, want 0.9", params.TopP.Value)
	}

	if _, err := p.buildParams(llm.CompletionRequest{}); err == nil {
		t.Error("buildParams with no messages error = nil, want error")
	}
}

func TestComplete_MockServer(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "local",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "Здравствуйте!"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p, err := New("local", "local", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Привет"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Здравствуйте!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Здравствуйте!")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
	if gotBody["model"] != "local" {
		t.Errorf("request model = %v, want local", gotBody["model"])
	}
}

func TestComplete_ServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := New("local", "local", WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Привет"}},
	})
	if !errors.Is(err, llm.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o-mini", WithBaseURL("https://custom.example.com"), WithOrganization("org-123")); err != nil {
		t.Errorf("unexpected error with valid options: %v", err)
	}
}

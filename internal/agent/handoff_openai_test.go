package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"

	"machineid-swarm/internal/llm/openai"
)

// chatNamePattern 是 Chat Completions 对 message name 的约束。
var chatNamePattern = regexp.MustCompile(`^[^\s<|\\/>]+$`)

func TestRunHandoffOverOpenAI(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []map[string]any `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		for _, msg := range body.Messages {
			if name, ok := msg["name"].(string); ok && !chatNamePattern.MatchString(name) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":{"message":"'` + name + `' does not match name pattern"}}`))
				return
			}
		}

		var message map[string]any
		if calls.Add(1) == 1 {
			message = map[string]any{
				"role":    "assistant",
				"content": nil,
				"tool_calls": []map[string]any{{
					"id":       "call_1",
					"type":     "function",
					"function": map[string]any{"name": "transfer_to_reviewer", "arguments": "{}"},
				}},
			}
		} else {
			message = map[string]any{"role": "assistant", "content": "1. deviceId\n2. register\n3. validate"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{{"message": message}}})
	}))
	defer srv.Close()

	client, err := openai.NewClient(openai.Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reviewer := &Agent{Name: "Reviewer", Instructions: "review the plan"}
	planner := NewPlanner("")
	planner.Handoffs = []*Agent{reviewer}

	resp, err := New(client).Run(context.Background(), RunRequest{Agent: planner, Messages: PlanMessages()})
	if err != nil {
		t.Fatalf("handoff failed: %v", err)
	}
	if calls.Load() != 2 || resp.Agent != reviewer {
		t.Fatalf("unexpected run: calls=%d agent=%s", calls.Load(), resp.Agent.Name)
	}
	if resp.Messages[0].Sender != PlannerName || resp.Messages[2].Sender != "Reviewer" {
		t.Fatalf("senders not tracked: %+v", resp.Messages)
	}
}

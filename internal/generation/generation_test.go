package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuestions(t *testing.T) {
	got := ParseQuestions("1. What is the budget?\nPlease answer this question.\n- What is the deadline?\n", 0)
	if diff := cmp.Diff([]string{"What is the budget?", "What is the deadline?"}, got); diff != "" {
		t.Fatalf("questions mismatch (-want +got):\n%s", diff)
	}
}

func TestParseQuestionsTruncatesAndCleans(t *testing.T) {
	raw := "* One? Answer this question.\r\n2) Two?\n\n3. Three? Please provide an answer.\n4. Four?\n5. Five?\n6. Six?\n7. Seven?"
	got := ParseQuestions(raw, 6)
	require.Len(t, got, 6)
	assert.Equal(t, "One?", got[0])
	assert.Equal(t, ") Two?", got[1])
	assert.Equal(t, "Three?", got[2])
	assert.Equal(t, "Six?", got[5])
}

func TestBuildContractPrompt(t *testing.T) {
	p := BuildContractPrompt(DraftRequest{
		Input:            "Website redesign",
		Questions:        []Question{{Text: "Budget?"}, {Text: "Deadline?"}},
		Answers:          []string{"$500"},
		SelectedTemplate: "Fixed price",
	})
	for _, section := range ContractSections {
		assert.Contains(t, p, "# "+section+"\n")
	}
	assert.Contains(t, p, "\n\nUser Description:\nWebsite redesign")
	assert.Contains(t, p, "\n- Budget?: $500\n- Deadline?: ")
	assert.True(t, strings.HasSuffix(p, "\n\nTemplate Used: Fixed price"))
	assert.NotContains(t, p, "Uploaded File Content")

	noAnswers := BuildContractPrompt(DraftRequest{Input: "x", Questions: []Question{{Text: "Budget?"}}})
	assert.NotContains(t, noAnswers, "Clarifying Answers")
}

func TestBuildQuestionsPrompt(t *testing.T) {
	p := BuildQuestionsPrompt("Logo", "brief.txt contents")
	assert.True(t, strings.HasPrefix(p, questionsPrompt))
	assert.True(t, strings.HasSuffix(p, "\n\nUser Description:\nLogo\n\nUploaded File Content:\nbrief.txt contents"))
}

type fakeLLM struct {
	calls   atomic.Int32
	status  int
	content string
	mu      sync.Mutex
	last    map[string]any
}

func (f *fakeLLM) request() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeLLM) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.last = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if f.status != 0 {
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-3.5-turbo",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientClarifyingQuestions(t *testing.T) {
	fake := &fakeLLM{content: "1. Who are the parties?\n2. What is the budget?"}
	srv := fake.server(t)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", QuestionsTemperature: 0.7}, nil)

	qs, err := c.ClarifyingQuestions(context.Background(), QuestionsRequest{Input: "Build a shop"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Who are the parties?", "What is the budget?"}, qs)
	assert.Equal(t, "gpt-3.5-turbo", fake.request()["model"])
	assert.InDelta(t, 0.7, fake.request()["temperature"], 0.0001)
	msgs, _ := fake.request()["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestClientContractDraft(t *testing.T) {
	fake := &fakeLLM{content: "# Title\nService Agreement"}
	srv := fake.server(t)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/", ContractTemperature: 0.2}, nil)

	md, err := c.ContractDraft(context.Background(), DraftRequest{Input: "Build a shop"})
	require.NoError(t, err)
	assert.Equal(t, "# Title\nService Agreement", md)
	msgs, _ := fake.request()["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestClientUpstreamFailureIsNotRetried(t *testing.T) {
	fake := &fakeLLM{status: http.StatusInternalServerError}
	srv := fake.server(t)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"}, nil)

	_, err := c.ContractDraft(context.Background(), DraftRequest{Input: "x"})
	var genErr *Error
	require.True(t, errors.As(err, &genErr), "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, genErr.Status)
	assert.EqualValues(t, 1, fake.calls.Load())
}

func TestClientEmptyDraftIsAnError(t *testing.T) {
	fake := &fakeLLM{content: "  "}
	srv := fake.server(t)
	c := New(Config{APIKey: "test", BaseURL: srv.URL + "/v1/"}, nil)
	_, err := c.ContractDraft(context.Background(), DraftRequest{Input: "x"})
	var genErr *Error
	assert.True(t, errors.As(err, &genErr))
}

func TestClientWithoutKey(t *testing.T) {
	c := New(Config{}, nil)
	_, err := c.ClarifyingQuestions(context.Background(), QuestionsRequest{Input: "x"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

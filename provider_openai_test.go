package secretary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

// fakeCompletions answers chat completion requests with reply(body) and
// records what it received.
type fakeCompletions struct {
	mu       sync.Mutex
	requests []recordedRequest
	status   int
	reply    func(body map[string]any) string
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: body})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 && f.status != http.StatusOK {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": f.reply(body)},
			"finish_reason": "stop",
		}},
	})
}

func (f *fakeCompletions) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func lastUserContent(body map[string]any) string {
	msgs, _ := body["messages"].([]any)
	for i := len(msgs) - 1; i >= 0; i-- {
		m, _ := msgs[i].(map[string]any)
		if m["role"] == "user" {
			s, _ := m["content"].(string)
			return s
		}
	}
	return ""
}

func TestOpenAIProvider_Generate(t *testing.T) {
	fake := &fakeCompletions{reply: func(map[string]any) string { return `{"name":"Jane","age":29}` }}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"), WithTemperature(0), WithProviderLogger(quietLogger()))
	x := NewWithLogger[Simple](p, quietLogger())

	got, err := x.Generate(context.Background(), simpleTask(t), "Jane is 29.")
	require.NoError(t, err)
	assert.Equal(t, &Simple{Name: "Jane", Age: 29}, got)

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/chat/completions", reqs[0].Path)
	assert.Equal(t, "Bearer sk-test", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "gpt-4o-mini", reqs[0].Body["model"])
	assert.Equal(t, 0.0, reqs[0].Body["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, reqs[0].Body["response_format"])
	assert.Equal(t, "This is the basis for generating a json:\nJane is 29.", lastUserContent(reqs[0].Body))
}

func TestOpenAIProvider_JSONModeOnlyInSingle(t *testing.T) {
	fake := &fakeCompletions{reply: func(body map[string]any) string {
		if _, ok := body["response_format"]; ok {
			return "unexpected"
		}
		msgs := body["messages"].([]any)
		system := msgs[0].(map[string]any)["content"].(string)
		switch {
		case strings.Contains(system, "finish your response"):
			return "I think... " + `{"name":"Jane","age":29}`
		case strings.Contains(system, "- name:"):
			return "<result>Jane</result>"
		case strings.Contains(system, "- age:"):
			return "<result>29</result>"
		}
		return ""
	}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL), WithProviderLogger(quietLogger()))
	x := NewWithLogger[Simple](p, quietLogger())
	ctx := context.Background()

	got, err := x.GenerateFields(ctx, simpleTask(t), "Jane is 29.")
	require.NoError(t, err)
	assert.Equal(t, 29, got.Age)

	got, err = x.ForceGenerate(ctx, simpleTask(t), "Jane is 29.")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)

	for _, r := range fake.recorded() {
		assert.NotContains(t, r.Body, "response_format")
	}
}

func TestOpenAIProvider_JSONModeDisabled(t *testing.T) {
	fake := &fakeCompletions{reply: func(map[string]any) string { return `{"name":"Jane","age":29}` }}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "o3-mini", WithBaseURL(srv.URL), WithJSONMode(false), WithProviderLogger(quietLogger()))
	_, err := p.Send(WithMode(context.Background(), ModeSingle), "system", "input")
	require.NoError(t, err)
	assert.NotContains(t, fake.recorded()[0].Body, "response_format")
	assert.Nil(t, fake.recorded()[0].Body["temperature"])
}

func TestOpenAIProvider_History(t *testing.T) {
	fake := &fakeCompletions{reply: func(map[string]any) string { return `{"name":"Jane","age":29}` }}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "gpt-4o", WithBaseURL(srv.URL), WithProviderLogger(quietLogger()))
	task := simpleTask(t)
	require.NoError(t, task.Push(RoleUser, "Who is Jane?"))
	require.NoError(t, task.Push(RoleAssistant, "A customer."))

	_, err := NewWithLogger[Simple](p, quietLogger()).Generate(context.Background(), task, "Jane is 29.")
	require.NoError(t, err)

	msgs := fake.recorded()[0].Body["messages"].([]any)
	require.Len(t, msgs, 4)
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i] = m.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestAzureProvider(t *testing.T) {
	fake := &fakeCompletions{reply: func(map[string]any) string { return "pong" }}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	p := NewAzureProvider(srv.URL+"/", "azure-key", "my-deployment", "", WithProviderLogger(quietLogger()))
	assert.Equal(t, "my-deployment", p.Model())

	got, err := p.Send(context.Background(), "system", "ping")
	require.NoError(t, err)
	assert.Equal(t, "pong", got)

	req := fake.recorded()[0]
	assert.Equal(t, "/openai/deployments/my-deployment/chat/completions", req.Path)
	assert.Equal(t, "api-version="+DefaultAzureVersion, req.Query)
	assert.Equal(t, "azure-key", req.Header.Get("api-key"))
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.NotContains(t, req.Body, "model")
}

func TestOpenAIProvider_Errors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		fake := &fakeCompletions{status: http.StatusTooManyRequests}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		p := NewOpenAIProvider("sk-test", "gpt-4o", WithBaseURL(srv.URL), WithProviderLogger(quietLogger()))
		_, err := p.Send(context.Background(), "s", "i")
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
		assert.Equal(t, "quota exceeded", apiErr.Message)

		_, err = NewWithLogger[Simple](p, quietLogger()).Generate(context.Background(), simpleTask(t), "text")
		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorAs(t, err, &apiErr)
	})

	t.Run("empty content", func(t *testing.T) {
		fake := &fakeCompletions{reply: func(map[string]any) string { return "" }}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		p := NewOpenAIProvider("sk-test", "gpt-4o", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
		_, err := p.Send(context.Background(), "s", "i")
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := NewOpenAIProvider("", "gpt-4o").Send(context.Background(), "s", "i")
		assert.ErrorContains(t, err, "API key is not set")
	})

	t.Run("cancelled", func(t *testing.T) {
		fake := &fakeCompletions{reply: func(map[string]any) string { return "x" }}
		srv := httptest.NewServer(fake)
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := NewOpenAIProvider("sk-test", "gpt-4o", WithBaseURL(srv.URL))
		_, err := p.Send(ctx, "s", "i")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

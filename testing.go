package secretary

import (
	"context"
	"sync"
)

// MockCall records one request seen by a MockProvider.
type MockCall struct {
	Mode     Mode
	Field    string
	System   string
	Input    string
	Messages []Message
}

// MockProvider answers from canned responses keyed by field path, so tests
// and examples can run without a model. Whole-object calls use the "" key.
// It is safe for concurrent use.
type MockProvider struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	calls     []MockCall

	// Respond, when set, takes precedence over the canned responses.
	Respond func(ctx context.Context, call MockCall) (string, error)
}

// NewMockProvider answers whole-object calls with response.
func NewMockProvider(response string) *MockProvider {
	return &MockProvider{
		responses: map[string]string{"": response},
		errs:      map[string]error{},
	}
}

// On sets the answer for one field path of a distributed call.
func (m *MockProvider) On(field, response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[field] = response
	return m
}

// Fail makes calls for field return err.
func (m *MockProvider) Fail(field string, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[field] = err
	return m
}

// Calls returns a copy of every request received so far.
func (m *MockProvider) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockProvider) Send(ctx context.Context, systemPrompt, input string) (string, error) {
	return m.answer(ctx, MockCall{System: systemPrompt, Input: input})
}

func (m *MockProvider) SendMessages(ctx context.Context, messages []Message) (string, error) {
	call := MockCall{Messages: append([]Message(nil), messages...)}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			call.System = msg.Content
		case RoleUser:
			call.Input = msg.Content
		}
	}
	return m.answer(ctx, call)
}

func (m *MockProvider) answer(ctx context.Context, call MockCall) (string, error) {
	call.Mode = ModeFromContext(ctx)
	call.Field = FieldFromContext(ctx)

	m.mu.Lock()
	m.calls = append(m.calls, call)
	respond := m.Respond
	err, failed := m.errs[call.Field]
	resp, ok := m.responses[call.Field]
	m.mu.Unlock()

	if respond != nil {
		return respond(ctx, call)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if failed {
		return "", err
	}
	if !ok {
		return "", ErrEmptyResponse
	}
	return resp, nil
}

package secretary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Instrument(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("secretary", reg)

	ok := m.Instrument(ProviderFunc(func(context.Context, string, string) (string, error) {
		return "fine", nil
	}))
	_, isChat := ok.(ChatProvider)
	assert.False(t, isChat)

	ctx := WithMode(context.Background(), ModeForce)
	_, err := ok.Send(ctx, "system", "input")
	require.NoError(t, err)

	failing := m.Instrument(NewMockProvider("").Fail("", errors.New("down")))
	chat, isChat := failing.(ChatProvider)
	require.True(t, isChat)
	_, err = chat.SendMessages(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	require.Error(t, err)

	expected := `
# HELP secretary_provider_requests_total Total number of provider calls
# TYPE secretary_provider_requests_total counter
secretary_provider_requests_total{mode="force",status="success"} 1
secretary_provider_requests_total{mode="single",status="error"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.requests, strings.NewReader(expected)))
	assert.Equal(t, 2, testutil.CollectAndCount(m.duration))
	assert.Equal(t, 2, testutil.CollectAndCount(m.promptBytes))
}

func TestMetrics_ObserveResult(t *testing.T) {
	m := NewMetrics("x", prometheus.NewRegistry())
	s := MustSchemaOf[Person]()

	m.ObserveResult(s, nil)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.fieldResults.WithLabelValues("Person", "ok")))

	m.ObserveResult(s, &FieldDeserializationError{
		Failed:     map[string]FieldFailure{"age": {Err: ErrTypeMismatch}},
		Successful: map[string]any{"name": "Jane"},
	})
	assert.Equal(t, 7.0, testutil.ToFloat64(m.fieldResults.WithLabelValues("Person", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fieldResults.WithLabelValues("Person", "failed")))

	m.ObserveResult(s, &ParseError{Raw: "x"})
	assert.Equal(t, 7.0, testutil.ToFloat64(m.fieldResults.WithLabelValues("Person", "failed")))
}

func TestMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("dup", reg)
	assert.Panics(t, func() { NewMetrics("dup", reg) })
}

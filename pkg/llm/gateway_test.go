package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/models"
)

// stubProvider is an in-memory provider for gateway tests.
type stubProvider struct {
	name      string
	kind      config.ProviderKind
	priority  int
	residency models.DataResidency
	models    []string

	probeErr    error
	generateErr error
	calls       int
}

func (s *stubProvider) Name() string                    { return s.name }
func (s *stubProvider) Kind() config.ProviderKind       { return s.kind }
func (s *stubProvider) Priority() int                   { return s.priority }
func (s *stubProvider) Residency() models.DataResidency { return s.residency }
func (s *stubProvider) Models() []string                { return s.models }

func (s *stubProvider) Probe(context.Context) error { return s.probeErr }

func (s *stubProvider) Generate(_ context.Context, req Request) (*Response, error) {
	s.calls++
	if s.generateErr != nil {
		return nil, s.generateErr
	}
	return &Response{Provider: s.name, Model: req.Model, Content: "ok"}, nil
}

func localStub(name string, priority int, models ...string) *stubProvider {
	return &stubProvider{
		name: name, kind: config.ProviderKindLocalRuntime,
		priority: priority, residency: "local", models: models,
	}
}

func TestGatewayDispatchPrefersPriority(t *testing.T) {
	primary := localStub("ollama", 1, "llama3.1:8b")
	secondary := localStub("backup", 2, "llama3.1:8b")
	g := NewGatewayWithProviders(config.LLMConfig{}, primary, secondary)

	resp, err := g.Dispatch(context.Background(),
		Request{Model: "llama3.1:8b", Prompt: "hi"}, []string{"ollama", "backup"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", resp.Provider)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

func TestGatewayDispatchFallsBack(t *testing.T) {
	primary := localStub("ollama", 1, "llama3.1:8b")
	primary.generateErr = errors.New("connection refused")
	secondary := localStub("backup", 2, "llama3.1:8b")
	g := NewGatewayWithProviders(config.LLMConfig{MaxRetries: 2}, primary, secondary)

	resp, err := g.Dispatch(context.Background(),
		Request{Model: "llama3.1:8b", Prompt: "hi"}, []string{"ollama", "backup"})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Provider)
	assert.Equal(t, 1, primary.calls)
}

func TestGatewayDispatchRespectsAllowedList(t *testing.T) {
	local := localStub("ollama", 1, "llama3.1:8b")
	cloud := localStub("cloud", 2, "llama3.1:8b")
	g := NewGatewayWithProviders(config.LLMConfig{}, local, cloud)

	resp, err := g.Dispatch(context.Background(),
		Request{Model: "llama3.1:8b", Prompt: "hi"}, []string{"cloud"})
	require.NoError(t, err)
	assert.Equal(t, "cloud", resp.Provider)
	assert.Equal(t, 0, local.calls)
}

func TestGatewayDispatchFailureCategories(t *testing.T) {
	t.Run("unknown model", func(t *testing.T) {
		g := NewGatewayWithProviders(config.LLMConfig{}, localStub("ollama", 1, "llama3.1:8b"))
		_, err := g.Dispatch(context.Background(),
			Request{Model: "made-up-model"}, []string{"ollama"})
		var dErr *DispatchError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, FailureModelUnknown, dErr.Category)
	})

	t.Run("no allowed provider", func(t *testing.T) {
		g := NewGatewayWithProviders(config.LLMConfig{}, localStub("ollama", 1, "llama3.1:8b"))
		_, err := g.Dispatch(context.Background(),
			Request{Model: "llama3.1:8b"}, nil)
		var dErr *DispatchError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, FailureUnavailableProvider, dErr.Category)
		assert.ErrorIs(t, err, ErrNoProvider)
	})

	t.Run("provider error after retries", func(t *testing.T) {
		broken := localStub("ollama", 1, "llama3.1:8b")
		broken.generateErr = errors.New("boom")
		g := NewGatewayWithProviders(config.LLMConfig{MaxRetries: 1}, broken)
		_, err := g.Dispatch(context.Background(),
			Request{Model: "llama3.1:8b"}, []string{"ollama"})
		var dErr *DispatchError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, FailureProviderError, dErr.Category)
		assert.Equal(t, "ollama", dErr.Provider)
	})

	t.Run("timeout", func(t *testing.T) {
		slow := localStub("ollama", 1, "llama3.1:8b")
		slow.generateErr = context.DeadlineExceeded
		g := NewGatewayWithProviders(config.LLMConfig{MaxRetries: 0}, slow)
		_, err := g.Dispatch(context.Background(),
			Request{Model: "llama3.1:8b"}, []string{"ollama"})
		var dErr *DispatchError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, FailureTimeout, dErr.Category)
	})
}

func TestGatewayModelMapping(t *testing.T) {
	g := NewGatewayWithProviders(config.LLMConfig{
		ModelMappings: map[string]string{"gpt-4": "llama3.1:8b"},
		DefaultModel:  "llama3.1:8b",
	}, localStub("ollama", 1, "llama3.1:8b"))

	t.Run("alias maps without substitution flag", func(t *testing.T) {
		resp, err := g.Dispatch(context.Background(),
			Request{Model: "gpt-4", Prompt: "hi"}, []string{"ollama"})
		require.NoError(t, err)
		assert.Equal(t, "llama3.1:8b", resp.Model)
		assert.False(t, resp.ModelSubstituted)
	})

	t.Run("unknown model substitutes default and records it", func(t *testing.T) {
		resp, err := g.Dispatch(context.Background(),
			Request{Model: "claude-sonnet"}, []string{"ollama"})
		require.NoError(t, err)
		assert.Equal(t, "llama3.1:8b", resp.Model)
		assert.True(t, resp.ModelSubstituted)
		assert.Equal(t, "claude-sonnet", resp.RequestedModel)
	})
}

func TestGatewayHealthThreshold(t *testing.T) {
	flaky := localStub("ollama", 1, "llama3.1:8b")
	flaky.probeErr = errors.New("connection refused")
	g := NewGatewayWithProviders(config.LLMConfig{
		FailureThreshold: 3,
		ProbeTimeout:     100 * time.Millisecond,
	}, flaky)

	ctx := context.Background()
	assert.True(t, g.IsAvailable("ollama"), "providers start healthy")

	g.sweep(ctx)
	g.sweep(ctx)
	assert.True(t, g.IsAvailable("ollama"), "below threshold stays healthy")

	g.sweep(ctx)
	assert.False(t, g.IsAvailable("ollama"), "third consecutive failure trips threshold")

	flaky.probeErr = nil
	g.sweep(ctx)
	assert.True(t, g.IsAvailable("ollama"), "successful probe recovers")
}

func TestGatewaySkipsUnhealthyProvider(t *testing.T) {
	down := localStub("ollama", 1, "llama3.1:8b")
	up := localStub("backup", 2, "llama3.1:8b")
	g := NewGatewayWithProviders(config.LLMConfig{FailureThreshold: 1}, down, up)
	g.MarkFailure("ollama")

	resp, err := g.Dispatch(context.Background(),
		Request{Model: "llama3.1:8b"}, []string{"ollama", "backup"})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Provider)
	assert.Equal(t, 0, down.calls)
}

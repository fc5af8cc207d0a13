package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"support-agent/internal/domain"
	"support-agent/internal/integrations/openai"
)

var (
	recorderOnce sync.Once
	recorder     *tracetest.SpanRecorder
)

// spanRecorder installs a recording provider once; the package tracer is
// obtained from the global provider and follows it after installation.
func spanRecorder() *tracetest.SpanRecorder {
	recorderOnce.Do(func() {
		recorder = tracetest.NewSpanRecorder()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	})
	return recorder
}

type fakeLLM struct {
	mu      sync.Mutex
	replies map[string]func(ctx context.Context) (string, error)
	calls   []openai.ChatRequest
}

func (f *fakeLLM) Chat(ctx context.Context, in openai.ChatRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	fn := f.replies[in.Model]
	f.mu.Unlock()
	if fn == nil {
		return "", errors.New("unknown model")
	}
	return fn(ctx)
}

func (f *fakeLLM) models() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.Model)
	}
	return out
}

func ok(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func fail(msg string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", errors.New(msg) }
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T, client LLMClient, candidates ...Candidate) *Gateway {
	t.Helper()
	g, err := New(client, Config{
		Candidates:  candidates,
		Temperature: 0.7,
		MaxTokens:   1024,
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	return g
}

var transcript = []domain.Turn{{Role: domain.RoleUser, Content: "The save button is broken"}}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, Config{Candidates: []Candidate{{Model: "a"}}, MaxTokens: 10})
	require.Error(t, err)

	_, err = New(&fakeLLM{}, Config{MaxTokens: 10})
	require.Error(t, err)

	_, err = New(&fakeLLM{}, Config{Candidates: []Candidate{{Model: "  "}}, MaxTokens: 10})
	require.Error(t, err)

	_, err = New(&fakeLLM{}, Config{Candidates: []Candidate{{Model: "a"}}})
	require.Error(t, err)

	g, err := New(&fakeLLM{}, Config{Candidates: []Candidate{{Model: "a"}}, MaxTokens: 10})
	require.NoError(t, err)
	require.Equal(t, DefaultCandidateTimeout, g.candidateTimeout)
}

func TestGenerate_FirstCandidateWins(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"a": ok("hello"),
		"b": ok("unused"),
	}}
	g := newGateway(t, llm, Candidate{Model: "a"}, Candidate{Model: "b"})

	reply, err := g.Generate(context.Background(), "system", transcript, false)
	require.NoError(t, err)
	require.Equal(t, Reply{Text: "hello", Model: "a", Attempt: 1}, reply)
	require.Equal(t, []string{"a"}, llm.models())

	call := llm.calls[0]
	require.Equal(t, 0.7, call.Temperature)
	require.Equal(t, 1024, call.MaxTokens)
	require.Len(t, call.Messages, 2)
	require.Equal(t, domain.RoleSystem, call.Messages[0].Role)
	require.Equal(t, "system", call.Messages[0].Content)
}

func TestGenerate_FallsBackInOrder(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"a": fail("503"),
		"b": fail("timeout"),
		"c": ok("third time lucky"),
	}}
	g := newGateway(t, llm, Candidate{Model: "a"}, Candidate{Model: "b"}, Candidate{Model: "c"})

	reply, err := g.Generate(context.Background(), "system", transcript, false)
	require.NoError(t, err)
	require.Equal(t, "third time lucky", reply.Text)
	require.Equal(t, "c", reply.Model)
	require.Equal(t, 3, reply.Attempt)
	require.Equal(t, []string{"a", "b", "c"}, llm.models())
}

func TestGenerate_AllFail(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"a": fail("boom a"),
		"b": fail("boom b"),
	}}
	g := newGateway(t, llm, Candidate{Model: "a"}, Candidate{Model: "b"})

	_, err := g.Generate(context.Background(), "system", transcript, false)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailable)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Len(t, unavailable.Attempts, 2)
	require.Equal(t, "a", unavailable.Attempts[0].Model)
	require.EqualError(t, unavailable.Last(), "boom b")
	require.Contains(t, err.Error(), "boom b")
	require.Equal(t, []string{"a", "b"}, llm.models())
}

func TestGenerate_VisionCandidatesFirstWhenImagesPresent(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"text":   ok("text reply"),
		"vision": fail("vision down"),
	}}
	g := newGateway(t, llm, Candidate{Model: "text"}, Candidate{Model: "vision", Vision: true})

	withImage := []domain.Turn{{
		Role:    domain.RoleUser,
		Content: "see screenshot",
		Images:  []string{"data:image/png;base64,AAAA"},
	}}
	reply, err := g.Generate(context.Background(), "system", withImage, true)
	require.NoError(t, err)
	require.Equal(t, "text", reply.Model)
	require.Equal(t, []string{"vision", "text"}, llm.models())

	require.Equal(t, []string{"data:image/png;base64,AAAA"}, llm.calls[0].Messages[1].Images)
	require.Empty(t, llm.calls[1].Messages[1].Images)
	require.Equal(t, "see screenshot", llm.calls[1].Messages[1].Content)
}

func TestGenerate_NoImagesKeepsConfiguredOrder(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"text":   fail("down"),
		"vision": ok("ok"),
	}}
	g := newGateway(t, llm, Candidate{Model: "text"}, Candidate{Model: "vision", Vision: true})

	_, err := g.Generate(context.Background(), "system", transcript, false)
	require.NoError(t, err)
	require.Equal(t, []string{"text", "vision"}, llm.models())
}

func TestGenerate_CandidateTimeout(t *testing.T) {
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"slow": func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
		"fast": ok("fast reply"),
	}}
	g, err := New(llm, Config{
		Candidates:       []Candidate{{Model: "slow"}, {Model: "fast"}},
		MaxTokens:        100,
		CandidateTimeout: 20 * time.Millisecond,
		Logger:           quietLogger(),
	})
	require.NoError(t, err)

	reply, err := g.Generate(context.Background(), "system", transcript, false)
	require.NoError(t, err)
	require.Equal(t, "fast", reply.Model)
}

func TestGenerate_ParentCancellationStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"a": func(context.Context) (string, error) {
			cancel()
			return "", errors.New("cancelled mid-flight")
		},
		"b": ok("never"),
	}}
	g := newGateway(t, llm, Candidate{Model: "a"}, Candidate{Model: "b"})

	_, err := g.Generate(ctx, "system", transcript, false)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a"}, llm.models())
}

func TestGenerate_RecordsSpans(t *testing.T) {
	sr := spanRecorder()
	before := len(sr.Ended())

	llm := &fakeLLM{replies: map[string]func(context.Context) (string, error){
		"a": fail("down"),
		"b": ok("fine"),
	}}
	g := newGateway(t, llm, Candidate{Model: "a"}, Candidate{Model: "b"})

	_, err := g.Generate(context.Background(), "system", transcript, false)
	require.NoError(t, err)

	spans := sr.Ended()[before:]
	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	require.Equal(t, []string{"gateway.candidate", "gateway.candidate", "gateway.generate"}, names)
	require.Len(t, spans[0].Events(), 1)
	require.Equal(t, spans[2].SpanContext().TraceID(), spans[0].SpanContext().TraceID())
}

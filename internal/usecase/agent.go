package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"support-agent/internal/domain"
	"support-agent/internal/gateway"
	"support-agent/internal/prompt"
	"support-agent/internal/sanitize"
	"support-agent/internal/telemetry"
)

// DefaultDeflection is returned instead of a model reply when the latest
// user message looks like a link drop or script injection.
const DefaultDeflection = "I can only help with questions about this website. " +
	"Could you describe what you need in a sentence or two?"

var tracer = telemetry.Tracer("usecase")

// Generator produces a model reply for a composed prompt.
type Generator interface {
	Generate(ctx context.Context, system string, transcript []domain.Turn, hasImages bool) (gateway.Reply, error)
}

// RateLimiter admits or rejects one call for an identity key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type AgentConfig struct {
	Schema     Schema
	Generator  Generator
	Limiter    RateLimiter
	Logger     *slog.Logger
	MaxLen     int
	Deflection string
}

// Agent runs one chat turn through sanitize, rate check, prompt, model
// and extraction. The Schema decides what is extracted and what completes
// the conversation.
type Agent struct {
	schema     Schema
	generator  Generator
	limiter    RateLimiter
	logger     *slog.Logger
	maxLen     int
	deflection string
}

type TurnInput struct {
	Transcript  []domain.Turn
	IdentityKey string
	SessionID   string
	Tenant      domain.TenantContext
	// Brief is the caller's copy of the scoping brief, if it has one.
	Brief *domain.Brief
}

type TurnOutput struct {
	DisplayText string
	Deflected   bool
	Model       string
	Ticket      *TicketOutcome
	Brief       *BriefOutcome
	Complete    bool
}

func NewAgent(cfg AgentConfig) (*Agent, error) {
	if cfg.Schema == nil {
		return nil, errors.New("usecase: schema must not be nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("usecase: rate limiter must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = sanitize.DefaultMaxLen
	}
	if strings.TrimSpace(cfg.Deflection) == "" {
		cfg.Deflection = DefaultDeflection
	}
	return &Agent{
		schema:     cfg.Schema,
		generator:  cfg.Generator,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
		maxLen:     cfg.MaxLen,
		deflection: cfg.Deflection,
	}, nil
}

func (a *Agent) Run(ctx context.Context, in TurnInput) (out TurnOutput, err error) {
	ctx, span := tracer.Start(ctx, "agent.turn", trace.WithAttributes(
		attribute.String("agent.schema", a.schema.Name()),
		attribute.Int("agent.turns", len(in.Transcript)),
	))
	defer func() {
		var uerr *Error
		if errors.As(err, &uerr) {
			span.SetAttributes(attribute.String("agent.error_code", string(uerr.Code)))
			span.SetStatus(codes.Error, uerr.Reason)
		}
		span.SetAttributes(attribute.Bool("agent.deflected", out.Deflected), attribute.Bool("agent.complete", out.Complete))
		span.End()
	}()

	key := strings.TrimSpace(in.IdentityKey)
	if key == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_identity", nil)
	}
	if len(in.Transcript) == 0 {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_transcript", nil)
	}
	last := domain.LastUserIndex(in.Transcript)
	if last < 0 {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_user_message", nil)
	}

	suspicious := sanitize.IsSuspicious(in.Transcript[last].Content)
	turns, images, kept := a.normalize(in.Transcript, last)
	if !suspicious && !kept {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}

	// Variants share one store; the schema name keeps their windows apart.
	allowed, err := a.limiter.Allow(ctx, a.schema.Name()+":"+key)
	if err != nil {
		a.logger.Error("rate limit store failed", "schema", a.schema.Name(), "err", err)
		return TurnOutput{}, newError(ErrorRateLimited, "rate_limit_store_error", err)
	}
	if !allowed {
		return TurnOutput{}, newError(ErrorRateLimited, "rate_limit_exceeded", nil)
	}

	if suspicious {
		a.logger.Warn("deflected suspicious message", "schema", a.schema.Name())
		return TurnOutput{DisplayText: a.deflection, Deflected: true}, nil
	}

	system := prompt.Compose(a.schema.Instructions(), in.Tenant)
	reply, err := a.generator.Generate(ctx, system, turns, len(images) > 0)
	if err != nil {
		attrs := []any{"schema", a.schema.Name(), "err", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
		}
		a.logger.Error("model gateway unavailable", attrs...)
		return TurnOutput{}, newError(ErrorUpstream, "model_unavailable", err)
	}

	latest := turns[domain.LastUserIndex(turns)]
	done := a.schema.Finish(ctx, FinishInput{
		Turn:       in,
		Reply:      reply.Text,
		LatestUser: latest.Content,
		Images:     images,
	})
	return TurnOutput{
		DisplayText: done.Display,
		Model:       reply.Model,
		Ticket:      done.Ticket,
		Brief:       done.Brief,
		Complete:    done.Complete,
	}, nil
}

// normalize sanitizes user turns, coerces other roles to assistant and drops
// empty turns. Only the latest user turn keeps its images, and only inline
// data:image payloads, at most domain.MaxImages of them. kept reports whether
// the latest user turn still has text; images alone do not count.
func (a *Agent) normalize(transcript []domain.Turn, last int) (turns []domain.Turn, images []string, kept bool) {
	turns = make([]domain.Turn, 0, len(transcript))
	for i, t := range transcript {
		out := domain.Turn{Role: domain.RoleAssistant, Content: t.Content}
		if t.Role == domain.RoleUser {
			out.Role = domain.RoleUser
			out.Content = sanitize.Sanitize(t.Content, a.maxLen)
		}
		if i == last {
			images = inlineImages(t.Images)
			out.Images = images
		}
		if strings.TrimSpace(out.Content) == "" && len(out.Images) == 0 {
			continue
		}
		turns = append(turns, out)
		kept = kept || (i == last && strings.TrimSpace(out.Content) != "")
	}
	return turns, images, kept
}

func inlineImages(in []string) []string {
	var out []string
	for _, img := range in {
		if len(out) == domain.MaxImages {
			break
		}
		if strings.HasPrefix(img, "data:image/") {
			out = append(out, img)
		}
	}
	return out
}

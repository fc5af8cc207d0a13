// Package gateway calls an ordered list of candidate models and returns the
// first successful reply.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"support-agent/internal/domain"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/prompt"
	"support-agent/internal/telemetry"
)

const DefaultCandidateTimeout = 20 * time.Second

var tracer = telemetry.Tracer("gateway")

// ErrUnavailable is matched by errors.Is on every UnavailableError.
var ErrUnavailable = errors.New("gateway: no model candidate succeeded")

// LLMClient is the completion transport used for each candidate.
type LLMClient interface {
	Chat(ctx context.Context, in openai.ChatRequest) (string, error)
}

// Candidate is one entry in the fallback list.
type Candidate struct {
	Model  string `yaml:"model"`
	Vision bool   `yaml:"vision"`
}

// Config fixes the call parameters for every request made by a Gateway.
type Config struct {
	Candidates       []Candidate
	Temperature      float64
	MaxTokens        int
	CandidateTimeout time.Duration
	Logger           *slog.Logger
}

// Attempt records one failed candidate call.
type Attempt struct {
	Model string
	Err   error
}

// UnavailableError is returned when every candidate failed.
type UnavailableError struct {
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	last := e.Last()
	if last == nil {
		return ErrUnavailable.Error()
	}
	return fmt.Sprintf("gateway: all %d model candidates failed, last %s: %v",
		len(e.Attempts), e.Attempts[len(e.Attempts)-1].Model, last)
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Last()
}

// Last returns the error of the final attempt, or nil.
func (e *UnavailableError) Last() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// Reply is a successful generation.
type Reply struct {
	Text    string
	Model   string
	Attempt int
}

type Gateway struct {
	client           LLMClient
	candidates       []Candidate
	temperature      float64
	maxTokens        int
	candidateTimeout time.Duration
	logger           *slog.Logger
}

func New(client LLMClient, cfg Config) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("gateway: llm client must not be nil")
	}
	candidates := make([]Candidate, 0, len(cfg.Candidates))
	for _, c := range cfg.Candidates {
		c.Model = strings.TrimSpace(c.Model)
		if c.Model == "" {
			return nil, errors.New("gateway: candidate model must not be empty")
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return nil, errors.New("gateway: at least one candidate is required")
	}
	if cfg.MaxTokens <= 0 {
		return nil, errors.New("gateway: max tokens must be positive")
	}
	if cfg.CandidateTimeout <= 0 {
		cfg.CandidateTimeout = DefaultCandidateTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gateway{
		client:           client,
		candidates:       candidates,
		temperature:      cfg.Temperature,
		maxTokens:        cfg.MaxTokens,
		candidateTimeout: cfg.CandidateTimeout,
		logger:           cfg.Logger,
	}, nil
}

type plannedCandidate struct {
	Candidate
	stripImages bool
}

// plan returns the candidates in call order. With images, vision-capable
// models go first; the rest are kept as a text-only fallback.
func (g *Gateway) plan(hasImages bool) []plannedCandidate {
	out := make([]plannedCandidate, 0, len(g.candidates))
	if !hasImages {
		for _, c := range g.candidates {
			out = append(out, plannedCandidate{Candidate: c})
		}
		return out
	}
	for _, c := range g.candidates {
		if c.Vision {
			out = append(out, plannedCandidate{Candidate: c})
		}
	}
	for _, c := range g.candidates {
		if !c.Vision {
			out = append(out, plannedCandidate{Candidate: c, stripImages: true})
		}
	}
	return out
}

// Generate tries each candidate once, in order, and returns the first
// success. It fails with *UnavailableError when all candidates fail.
func (g *Gateway) Generate(ctx context.Context, system string, transcript []domain.Turn, hasImages bool) (Reply, error) {
	ctx, span := tracer.Start(ctx, "gateway.generate", trace.WithAttributes(
		attribute.Int("gateway.candidates", len(g.candidates)),
		attribute.Bool("gateway.has_images", hasImages),
	))
	defer span.End()

	withImages := prompt.Messages(system, transcript)
	var textOnly []domain.ChatMessage

	unavailable := &UnavailableError{}
	for i, c := range g.plan(hasImages) {
		if err := ctx.Err(); err != nil {
			unavailable.Attempts = append(unavailable.Attempts, Attempt{Model: c.Model, Err: err})
			break
		}
		messages := withImages
		if c.stripImages {
			if textOnly == nil {
				textOnly = stripImages(withImages)
			}
			messages = textOnly
		}

		text, err := g.call(ctx, c, messages)
		if err == nil {
			if i > 0 {
				g.logger.Info("gateway: used fallback candidate", "model", c.Model, "attempt", i+1)
			}
			span.SetAttributes(attribute.String("gateway.model", c.Model), attribute.Int("gateway.attempt", i+1))
			return Reply{Text: text, Model: c.Model, Attempt: i + 1}, nil
		}
		unavailable.Attempts = append(unavailable.Attempts, Attempt{Model: c.Model, Err: err})
		g.logger.Warn("gateway: candidate failed, trying next", "model", c.Model, "attempt", i+1, "err", err)
	}

	span.RecordError(unavailable)
	span.SetStatus(codes.Error, "all candidates failed")
	return Reply{}, unavailable
}

func (g *Gateway) call(ctx context.Context, c plannedCandidate, messages []domain.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.candidateTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "gateway.candidate", trace.WithAttributes(
		attribute.String("gateway.model", c.Model),
		attribute.Bool("gateway.vision", c.Vision),
		attribute.Bool("gateway.images_stripped", c.stripImages),
	))
	defer span.End()

	text, err := g.client.Chat(ctx, openai.ChatRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "candidate failed")
		return "", err
	}
	return text, nil
}

func stripImages(messages []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, len(messages))
	for i, m := range messages {
		m.Images = nil
		out[i] = m
	}
	return out
}

// Package app assembles the support and scoping agents from an agent
// profile and the process's outbound clients.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"support-agent/internal/config"
	"support-agent/internal/gateway"
	"support-agent/internal/ratelimit"
	"support-agent/internal/usecase"
)

type Deps struct {
	Profile   *config.Profile
	LLM       gateway.LLMClient
	RateStore ratelimit.Store
	Tickets   usecase.TicketCreator
	// Briefs is optional; without it scoping sessions are not persisted.
	Briefs usecase.BriefStore
	Logger *slog.Logger
}

type Agents struct {
	Support *usecase.Agent
	Scoping *usecase.Agent
}

func Build(d Deps) (*Agents, error) {
	if d.Profile == nil {
		d.Profile = config.Defaults()
	}
	if err := d.Profile.Validate(); err != nil {
		return nil, err
	}
	if d.RateStore == nil {
		return nil, errors.New("app: rate store must not be nil")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	p := d.Profile

	ticketSchema, err := usecase.NewTicketSchema(d.Tickets, d.Logger.With("agent", "support"))
	if err != nil {
		return nil, err
	}
	support, err := buildAgent(d, ticketSchema, p.Support)
	if err != nil {
		return nil, fmt.Errorf("app: support agent: %w", err)
	}
	scoping, err := buildAgent(d, usecase.NewBriefSchema(d.Briefs, d.Logger.With("agent", "scoping")), p.Scoping)
	if err != nil {
		return nil, fmt.Errorf("app: scoping agent: %w", err)
	}
	return &Agents{Support: support, Scoping: scoping}, nil
}

func buildAgent(d Deps, schema usecase.Schema, ep config.EndpointConfig) (*usecase.Agent, error) {
	logger := d.Logger.With("agent", schema.Name())
	gw, err := gateway.New(d.LLM, gateway.Config{
		Candidates:       d.Profile.Candidates,
		Temperature:      d.Profile.Temperature,
		MaxTokens:        ep.MaxTokens,
		CandidateTimeout: d.Profile.CandidateTimeout,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.New(d.RateStore, ep.RateLimit, ratelimit.WithWindow(d.Profile.RateWindow))
	if err != nil {
		return nil, err
	}
	return usecase.NewAgent(usecase.AgentConfig{
		Schema:     schema,
		Generator:  gw,
		Limiter:    limiter,
		Logger:     logger,
		MaxLen:     d.Profile.MaxMessageLen,
		Deflection: d.Profile.Deflection,
	})
}

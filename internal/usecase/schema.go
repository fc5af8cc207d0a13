package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"support-agent/internal/domain"
	"support-agent/internal/extract"
	"support-agent/internal/prompt"
)

// Schema is the variant-specific half of a turn: the base instructions sent
// to the model and what happens to its reply.
type Schema interface {
	Name() string
	Instructions() string
	Finish(ctx context.Context, in FinishInput) Finished
}

type FinishInput struct {
	Turn       TurnInput
	Reply      string
	LatestUser string
	Images     []string
}

type Finished struct {
	Display  string
	Ticket   *TicketOutcome
	Brief    *BriefOutcome
	Complete bool
}

// TicketCreator files a validated ticket with the external tracker and
// returns its identifier.
type TicketCreator interface {
	CreateTicket(ctx context.Context, token string, action domain.TicketAction) (string, error)
}

// TicketOutcome reports a ticket action found in the reply. Err is set when
// the tracker rejected it; the turn still succeeds.
type TicketOutcome struct {
	Action domain.TicketAction
	ID     string
	Err    error
}

func (o *TicketOutcome) Created() bool {
	return o != nil && o.Err == nil && o.ID != ""
}

type ticketSchema struct {
	creator TicketCreator
	logger  *slog.Logger
}

// NewTicketSchema returns the support variant. The caller's identity key is
// passed to the tracker as its auth token.
func NewTicketSchema(creator TicketCreator, logger *slog.Logger) (Schema, error) {
	if creator == nil {
		return nil, errors.New("usecase: ticket creator must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ticketSchema{creator: creator, logger: logger}, nil
}

func (s *ticketSchema) Name() string { return "support" }

func (s *ticketSchema) Instructions() string { return prompt.SupportInstructions }

func (s *ticketSchema) Finish(ctx context.Context, in FinishInput) Finished {
	res := extract.Ticket(in.Reply)
	if res.Action == nil {
		return Finished{Display: res.Display}
	}

	action := *res.Action
	if action.PageURL == "" {
		action.PageURL = strings.TrimSpace(in.Turn.Tenant.PageURL)
	}
	if action.Screenshot == "" && len(in.Images) > 0 {
		action.Screenshot = in.Images[0]
	}

	outcome := &TicketOutcome{Action: action}
	id, err := s.creator.CreateTicket(ctx, in.Turn.IdentityKey, action)
	if err == nil && strings.TrimSpace(id) == "" {
		err = errors.New("usecase: ticket tracker returned an empty id")
	}
	if err != nil {
		attrs := []any{"type", action.Type, "err", err}
		if status, ok := upstreamStatusCode(err); ok {
			attrs = append(attrs, "status", status)
		}
		s.logger.Warn("ticket create failed", attrs...)
		outcome.Err = err
		return Finished{Display: res.Display, Ticket: outcome}
	}

	outcome.ID = id
	s.logger.Info("ticket created", "ticket_id", id, "type", action.Type, "priority", action.EffectivePriority())
	return Finished{
		Display:  extract.Confirm(res.Display, action.Title),
		Ticket:   outcome,
		Complete: true,
	}
}

// BriefStore persists scoping sessions. All calls are best effort.
type BriefStore interface {
	LoadBrief(ctx context.Context, sessionID string) (domain.Brief, error)
	SaveBrief(ctx context.Context, sessionID string, brief domain.Brief) error
	SaveExchange(ctx context.Context, sessionID, userText, assistantText string) error
}

// BriefOutcome is the merged brief after this turn.
type BriefOutcome struct {
	Brief domain.Brief
	// Update is the partial brief the model emitted this turn, if any.
	Update domain.BriefUpdate
	// PersistErr is the first persistence failure, if any.
	PersistErr error
}

func (o *BriefOutcome) Updated() bool {
	return o != nil && o.Update != nil
}

type briefSchema struct {
	store  BriefStore
	logger *slog.Logger
}

// NewBriefSchema returns the scoping variant. store may be nil, in which
// case nothing is persisted and the caller's brief is the only state.
func NewBriefSchema(store BriefStore, logger *slog.Logger) Schema {
	if logger == nil {
		logger = slog.Default()
	}
	return &briefSchema{store: store, logger: logger}
}

func (s *briefSchema) Name() string { return "scoping" }

func (s *briefSchema) Instructions() string { return prompt.ScopingInstructions }

func (s *briefSchema) Finish(ctx context.Context, in FinishInput) Finished {
	res := extract.Brief(in.Reply)
	sessionID := strings.TrimSpace(in.Turn.SessionID)
	outcome := &BriefOutcome{}

	prior := domain.Brief{Status: domain.BriefGathering}
	switch {
	case in.Turn.Brief != nil:
		prior = *in.Turn.Brief
	case s.store != nil && sessionID != "":
		loaded, err := s.store.LoadBrief(ctx, sessionID)
		if err != nil {
			s.logger.Warn("brief load failed", "session_id", sessionID, "err", err)
			outcome.PersistErr = err
		} else {
			prior = loaded
		}
	}

	merged := prior.Merge(res.Update)
	outcome.Brief = merged
	outcome.Update = res.Update

	if s.store != nil && sessionID != "" {
		if err := s.store.SaveExchange(ctx, sessionID, in.LatestUser, res.Display); err != nil {
			s.logger.Warn("scoping exchange not saved", "session_id", sessionID, "err", err)
			if outcome.PersistErr == nil {
				outcome.PersistErr = err
			}
		}
		if outcome.Updated() {
			if err := s.store.SaveBrief(ctx, sessionID, merged); err != nil {
				s.logger.Warn("brief not saved", "session_id", sessionID, "err", err)
				if outcome.PersistErr == nil {
					outcome.PersistErr = err
				}
			}
		}
	}

	return Finished{
		Display:  res.Display,
		Brief:    outcome,
		Complete: merged.Ready(),
	}
}

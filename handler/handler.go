package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"support-agent/internal/domain"
	"support-agent/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// TurnRunner runs one agent turn.
type TurnRunner interface {
	Run(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

type Handler struct {
	support    TurnRunner
	scoping    TurnRunner
	logger     *slog.Logger
	retryAfter time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRetryAfter sets the Retry-After hint sent with 429 responses.
func WithRetryAfter(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.retryAfter = d
		}
	}
}

type turnRequest struct {
	Messages     []domain.Turn `json:"messages"`
	Token        string        `json:"token"`
	SiteID       string        `json:"siteId"`
	SiteName     string        `json:"siteName"`
	PageURL      string        `json:"pageUrl"`
	SystemPrompt string        `json:"systemPrompt"`
	Images       []string      `json:"images"`
	SessionID    string        `json:"sessionId"`
	Brief        *domain.Brief `json:"brief"`
}

type ticketCreated struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type chatResponse struct {
	Message       string         `json:"message"`
	TicketCreated *ticketCreated `json:"ticketCreated"`
	Deflected     bool           `json:"deflected,omitempty"`
}

type scopeResponse struct {
	Message     string             `json:"message"`
	BriefUpdate domain.BriefUpdate `json:"briefUpdate"`
	Brief       *domain.Brief      `json:"brief,omitempty"`
	Complete    bool               `json:"complete"`
	Deflected   bool               `json:"deflected,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewHandler(support, scoping TurnRunner, opts ...Option) (*Handler, error) {
	if support == nil {
		return nil, errors.New("handler: support runner must not be nil")
	}
	if scoping == nil {
		return nil, errors.New("handler: scoping runner must not be nil")
	}
	h := &Handler{
		support:    support,
		scoping:    scoping,
		logger:     slog.Default(),
		retryAfter: time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(event.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := h.logger.With("correlation_id", correlationID)

	route := routeOf(event)
	if route == "" {
		return h.errorJSON(http.StatusNotFound, correlationID, string(usecase.ErrorInvalidInput), "Not found"), nil
	}
	if event.HTTPMethod != http.MethodPost {
		return h.errorJSON(http.StatusMethodNotAllowed, correlationID, string(usecase.ErrorInvalidInput), "Method not allowed"), nil
	}

	var req turnRequest
	if err := json.Unmarshal([]byte(event.Body), &req); err != nil {
		logger.Warn("invalid request body", "route", route, "err", err)
		return h.errorJSON(http.StatusBadRequest, correlationID, string(usecase.ErrorInvalidInput), "Invalid JSON body"), nil
	}

	in := usecase.TurnInput{
		Transcript: withImages(req.Messages, req.Images),
		Tenant: domain.TenantContext{
			SiteID:         req.SiteID,
			SiteName:       req.SiteName,
			PageURL:        req.PageURL,
			PromptOverride: req.SystemPrompt,
		},
	}

	start := time.Now()
	if route == "scope" {
		in.IdentityKey = req.SessionID
		in.SessionID = req.SessionID
		in.Brief = req.Brief
		out, err := h.scoping.Run(ctx, in)
		if err != nil {
			return h.fromError(logger, correlationID, route, err), nil
		}
		resp := scopeResponse{Message: out.DisplayText, Complete: out.Complete, Deflected: out.Deflected}
		if out.Brief != nil {
			resp.BriefUpdate = out.Brief.Update
			resp.Brief = &out.Brief.Brief
		}
		logger.Info("scope turn", "model", out.Model, "complete", out.Complete, "duration_ms", time.Since(start).Milliseconds())
		return h.json(http.StatusOK, correlationID, resp), nil
	}

	in.IdentityKey = req.Token
	out, err := h.support.Run(ctx, in)
	if err != nil {
		return h.fromError(logger, correlationID, route, err), nil
	}
	resp := chatResponse{Message: out.DisplayText, Deflected: out.Deflected}
	if out.Ticket.Created() {
		resp.TicketCreated = &ticketCreated{ID: out.Ticket.ID, Title: out.Ticket.Action.Title}
	}
	logger.Info("chat turn", "model", out.Model, "ticket", resp.TicketCreated != nil, "duration_ms", time.Since(start).Milliseconds())
	return h.json(http.StatusOK, correlationID, resp), nil
}

func (h *Handler) fromError(logger *slog.Logger, correlationID, route string, err error) events.APIGatewayProxyResponse {
	var uerr *usecase.Error
	if !errors.As(err, &uerr) {
		logger.Error("unexpected error", "route", route, "err", err)
		return h.errorJSON(http.StatusInternalServerError, correlationID, string(usecase.ErrorInternal), "Internal error")
	}

	logger.Warn("turn failed", "route", route, "code", uerr.Code, "reason", uerr.Reason, "err", uerr.Err)
	switch uerr.Code {
	case usecase.ErrorInvalidInput:
		return h.errorJSON(http.StatusBadRequest, correlationID, string(uerr.Code), "Missing required fields")
	case usecase.ErrorRateLimited:
		resp := h.errorJSON(http.StatusTooManyRequests, correlationID, string(uerr.Code), "Rate limited. Try again in a minute.")
		resp.Headers["Retry-After"] = strconv.Itoa(int(h.retryAfter / time.Second))
		return resp
	case usecase.ErrorUpstream:
		return h.errorJSON(http.StatusBadGateway, correlationID, string(uerr.Code), "AI unavailable. Please try again shortly.")
	default:
		return h.errorJSON(http.StatusInternalServerError, correlationID, string(usecase.ErrorInternal), "Internal error")
	}
}

func (h *Handler) json(status int, correlationID string, body any) events.APIGatewayProxyResponse {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error("marshal response", "correlation_id", correlationID, "err", err)
		status = http.StatusInternalServerError
		payload = []byte(`{"error":"INTERNAL_ERROR","message":"Internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(payload),
	}
}

func (h *Handler) errorJSON(status int, correlationID, code, message string) events.APIGatewayProxyResponse {
	return h.json(status, correlationID, errorResponse{Error: code, Message: message})
}

// routeOf maps the request to "chat" or "scope", tolerating stage and
// proxy prefixes on the path.
func routeOf(event events.APIGatewayProxyRequest) string {
	path := strings.TrimRight(event.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat"):
		return "chat"
	case strings.HasSuffix(path, "/scope"):
		return "scope"
	default:
		return ""
	}
}

// withImages attaches request-level images to the latest user turn when it
// carries none of its own.
func withImages(turns []domain.Turn, images []string) []domain.Turn {
	if len(images) == 0 {
		return turns
	}
	last := domain.LastUserIndex(turns)
	if last < 0 || len(turns[last].Images) > 0 {
		return turns
	}
	out := append([]domain.Turn(nil), turns...)
	out[last].Images = images
	return out
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"support-agent/internal/app"
	"support-agent/internal/config"
	"support-agent/internal/domain"
	"support-agent/internal/integrations/openai"
	"support-agent/internal/integrations/ticketing"
	"support-agent/internal/ratelimit"
	"support-agent/internal/usecase"
)

var (
	logger     *slog.Logger
	configPath string
	rateDB     string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Run support and scoping agent turns locally",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to agent profile YAML (default: built-in profile)")
	root.PersistentFlags().StringVar(&rateDB, "rate-db", "", "SQLite file for rate-limit windows (default: in-memory)")

	root.AddCommand(chatCmd())
	root.AddCommand(scopeCmd())
	root.AddCommand(profileCmd())
	root.AddCommand(pruneCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type turnFlags struct {
	messages []string
	images   []string
	siteID   string
	siteName string
	pageURL  string
	override string
	baseURL  string
}

func (f *turnFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.messages, "message", "m", nil, "transcript turn as role:text; a bare text is a user turn (repeatable)")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "image file attached to the latest user turn (repeatable)")
	cmd.Flags().StringVar(&f.siteID, "site-id", "", "tenant site id")
	cmd.Flags().StringVar(&f.siteName, "site-name", "", "tenant display name")
	cmd.Flags().StringVar(&f.pageURL, "page-url", "", "page the visitor is on")
	cmd.Flags().StringVar(&f.override, "system-prompt", "", "tenant instruction override")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "OpenAI-compatible API base URL")
}

func (f *turnFlags) input() (usecase.TurnInput, error) {
	turns := make([]domain.Turn, 0, len(f.messages))
	for _, m := range f.messages {
		turns = append(turns, parseTurn(m))
	}
	if len(f.images) > 0 {
		last := domain.LastUserIndex(turns)
		if last < 0 {
			return usecase.TurnInput{}, errors.New("--image needs at least one user message")
		}
		for _, path := range f.images {
			uri, err := imageDataURL(path)
			if err != nil {
				return usecase.TurnInput{}, err
			}
			turns[last].Images = append(turns[last].Images, uri)
		}
	}
	return usecase.TurnInput{
		Transcript: turns,
		Tenant: domain.TenantContext{
			SiteID:         f.siteID,
			SiteName:       f.siteName,
			PageURL:        f.pageURL,
			PromptOverride: f.override,
		},
	}, nil
}

func chatCmd() *cobra.Command {
	var (
		flags      turnFlags
		token      string
		ticketsURL string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Run one support turn; files a ticket when the reply carries one",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			in.IdentityKey = token

			var tickets usecase.TicketCreator = dryRunTickets{}
			if ticketsURL != "" {
				tickets, err = ticketing.NewClient(ticketsURL)
				if err != nil {
					return err
				}
			}
			agents, closeFn, err := buildAgents(flags.baseURL, tickets, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := agents.Support.Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.DisplayText)
			if out.Ticket != nil {
				logger.Info("ticket action", "created", out.Ticket.Created(), "id", out.Ticket.ID, "type", out.Ticket.Action.Type, "err", out.Ticket.Err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&token, "token", "", "site token; also the rate-limit key")
	cmd.Flags().StringVar(&ticketsURL, "tickets-url", "", "ticket backend base URL (default: dry run)")
	return cmd
}

func scopeCmd() *cobra.Command {
	var (
		flags     turnFlags
		sessionID string
		briefFile string
	)
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Run one scoping turn and update the brief file",
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
				logger.Info("started scoping session", "session_id", sessionID)
			}
			in.IdentityKey = sessionID
			in.SessionID = sessionID

			if briefFile != "" {
				brief, err := readBrief(briefFile)
				if err != nil {
					return err
				}
				in.Brief = brief
			}

			agents, closeFn, err := buildAgents(flags.baseURL, dryRunTickets{}, nil)
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := agents.Scoping.Run(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.DisplayText)
			if out.Brief == nil {
				return nil
			}
			if out.Complete {
				logger.Info("brief ready", "session_id", sessionID)
			}
			if briefFile == "" {
				return json.NewEncoder(cmd.ErrOrStderr()).Encode(out.Brief.Brief)
			}
			return writeBrief(briefFile, out.Brief.Brief)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&sessionID, "session", "", "scoping session id (default: new id)")
	cmd.Flags().StringVar(&briefFile, "brief-file", "", "JSON file holding the brief between turns")
	return cmd
}

func profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the effective agent profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.Load(configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(p)
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired windows from the SQLite rate-limit store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rateDB == "" {
				return errors.New("--rate-db is required")
			}
			store, err := ratelimit.NewSQLiteStore(rateDB)
			if err != nil {
				return err
			}
			defer store.Close()
			n, err := store.Prune(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			logger.Info("pruned rate windows", "rows", n)
			return nil
		},
	}
}

func buildAgents(baseURL string, tickets usecase.TicketCreator, briefs usecase.BriefStore) (*app.Agents, func(), error) {
	profile, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	key := strings.TrimSpace(os.Getenv("MODEL_API_KEY"))
	if key == "" {
		return nil, nil, errors.New("MODEL_API_KEY is not set")
	}
	opts := []openai.Option{openai.WithAPIKey(key)}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.NewClient(nil, "", opts...)
	if err != nil {
		return nil, nil, err
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore(0)
	closeFn := func() {}
	if rateDB != "" {
		sqliteStore, err := ratelimit.NewSQLiteStore(rateDB)
		if err != nil {
			return nil, nil, err
		}
		store = sqliteStore
		closeFn = func() {
			if err := sqliteStore.Close(); err != nil {
				logger.Warn("close rate store", "err", err)
			}
		}
	}

	agents, err := app.Build(app.Deps{
		Profile:   profile,
		LLM:       llm,
		RateStore: store,
		Tickets:   tickets,
		Briefs:    briefs,
		Logger:    logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return agents, closeFn, nil
}

// parseTurn reads "assistant:text" or "user:text"; anything else is a user turn.
func parseTurn(s string) domain.Turn {
	if role, text, ok := strings.Cut(s, ":"); ok {
		switch strings.TrimSpace(role) {
		case domain.RoleUser, domain.RoleAssistant:
			return domain.Turn{Role: strings.TrimSpace(role), Content: strings.TrimSpace(text)}
		}
	}
	return domain.Turn{Role: domain.RoleUser, Content: s}
}

func imageDataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func readBrief(path string) (*domain.Brief, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read brief: %w", err)
	}
	var b domain.Brief
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse brief: %w", err)
	}
	return &b, nil
}

func writeBrief(path string, b domain.Brief) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// dryRunTickets logs ticket actions instead of filing them.
type dryRunTickets struct{}

func (dryRunTickets) CreateTicket(_ context.Context, _ string, action domain.TicketAction) (string, error) {
	id := "dry-run-" + uuid.NewString()
	logger.Info("dry run: ticket not filed", "id", id, "title", action.Title, "type", action.Type, "priority", action.EffectivePriority())
	return id, nil
}

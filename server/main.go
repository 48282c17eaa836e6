package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/meikuraledutech/flow"
	"github.com/meikuraledutech/flow/actions"
	"github.com/meikuraledutech/flow/engine"
	"github.com/meikuraledutech/flow/postgres"
)

func loadConfig() *koanf.Koanf {
	k := koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"DATABASE_URL":       "",
		"HTTP_ADDR":          ":3000",
		"LOG_LEVEL":          "info",
		"SCHEDULER_INTERVAL": "5s",
		"SCHEDULER_BATCH":    50,
	}, "."), nil)

	// Environment variables override defaults.
	k.Load(env.Provider("", "__", nil), nil)

	return k
}

func main() {
	k := loadConfig()

	level, err := zerolog.ParseLevel(strings.ToLower(k.String("LOG_LEVEL")))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		Level(level).With().Timestamp().Logger()
	zlog.Logger = logger

	dbURL := k.String("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect")
	}
	defer pool.Close()

	store := postgres.New(pool)

	registry := flow.NewRegistry()
	if err := registry.Register("log", &actions.Log{Logger: logger}); err != nil {
		logger.Fatal().Err(err).Msg("register log action")
	}
	if err := registry.Register("webhook", &actions.Webhook{Client: &http.Client{Timeout: 30 * time.Second}}); err != nil {
		logger.Fatal().Err(err).Msg("register webhook action")
	}
	registry.Freeze()

	eng, err := engine.New(engine.Config{
		Workflows:  store,
		Executions: store,
		Ledger:     store,
		Registry:   registry,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("engine")
	}

	interval, _ := time.ParseDuration(k.String("SCHEDULER_INTERVAL"))
	scheduler := engine.NewScheduler(eng, interval, k.Int("SCHEDULER_BATCH"), logger)
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	go scheduler.Run(schedCtx)

	app := fiber.New()

	// ── Schema ────────────────────────────────────────────────────────
	app.Post("/schema", func(c fiber.Ctx) error {
		if err := store.CreateSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema created"})
	})

	app.Delete("/schema", func(c fiber.Ctx) error {
		if err := store.DropSchema(c.Context()); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "schema dropped"})
	})

	// ── Workflows ─────────────────────────────────────────────────────
	app.Post("/workflows", func(c fiber.Ctx) error {
		var w flow.Workflow
		if err := c.Bind().JSON(&w); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		// Save-time validation is structural only; action resolvability
		// is re-checked against the registry at trigger time.
		if violations := flow.NewGraph(&w).Validate(nil); len(violations) > 0 {
			return c.Status(422).JSON(fiber.Map{"violations": violations})
		}
		saved, err := store.SaveWorkflow(c.Context(), &w)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(saved)
	})

	app.Get("/workflows", func(c fiber.Ctx) error {
		workflows, err := store.ListWorkflows(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(workflows)
	})

	app.Get("/workflows/:id", func(c fiber.Ctx) error {
		w, err := store.GetWorkflow(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if w == nil {
			return c.Status(404).JSON(fiber.Map{"error": "workflow not found"})
		}
		return c.JSON(w)
	})

	app.Post("/workflows/:id/activate", setStatus(store, flow.WorkflowActive))
	app.Post("/workflows/:id/archive", setStatus(store, flow.WorkflowArchived))

	app.Delete("/workflows/:id", func(c fiber.Ctx) error {
		if err := store.DeleteWorkflow(c.Context(), c.Params("id")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.SendStatus(204)
	})

	// ── Trigger ───────────────────────────────────────────────────────
	app.Post("/workflows/:id/trigger", func(c fiber.Ctx) error {
		var body struct {
			SubmissionID string         `json:"submission_id"`
			Submission   map[string]any `json:"submission"`
		}
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid body"})
		}
		execID, err := eng.StartExecution(c.Context(), c.Params("id"), body.SubmissionID, body.Submission)
		switch {
		case errors.Is(err, flow.ErrWorkflowNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "workflow not found"})
		case errors.Is(err, flow.ErrWorkflowNotActive):
			return c.Status(409).JSON(fiber.Map{"error": "workflow is not active"})
		case errors.Is(err, flow.ErrInvalidWorkflow):
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "execution_id": execID})
		}
		return c.Status(202).JSON(fiber.Map{"execution_id": execID})
	})

	// ── Executions ────────────────────────────────────────────────────
	app.Get("/executions", func(c fiber.Ctx) error {
		executions, err := store.ListExecutions(c.Context(), flow.ExecutionStatus(c.Query("status")))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(executions)
	})

	app.Get("/executions/:id", func(c fiber.Ctx) error {
		e, err := store.GetExecution(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		if e == nil {
			return c.Status(404).JSON(fiber.Map{"error": "execution not found"})
		}
		return c.JSON(e)
	})

	app.Post("/executions/:id/cancel", func(c fiber.Ctx) error {
		err := eng.Cancel(c.Context(), c.Params("id"))
		switch {
		case errors.Is(err, flow.ErrExecutionNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "execution not found"})
		case errors.Is(err, flow.ErrExecutionFinished):
			return c.Status(409).JSON(fiber.Map{"error": "execution already finished"})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "cancellation requested"})
	})

	app.Post("/executions/:id/resume", func(c fiber.Ctx) error {
		err := eng.Resume(c.Context(), c.Params("id"))
		switch {
		case errors.Is(err, flow.ErrExecutionNotFound):
			return c.Status(404).JSON(fiber.Map{"error": "execution not found"})
		case errors.Is(err, flow.ErrExecutionNotDue):
			return c.Status(409).JSON(fiber.Map{"error": err.Error()})
		case err != nil:
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"message": "resumed"})
	})

	// External cron surface: which suspended executions are due now.
	app.Get("/executions/due/now", func(c fiber.Ctx) error {
		ids, err := store.DueExecutions(c.Context(), time.Now())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"due": ids})
	})

	// ── Sync ledger ───────────────────────────────────────────────────
	app.Get("/submissions/:id/sync", func(c fiber.Ctx) error {
		records, err := store.History(c.Context(), c.Params("id"))
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(records)
	})

	app.Get("/sync/stats", func(c fiber.Ctx) error {
		since := time.Time{}
		if raw := c.Query("since"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "since must be RFC3339"})
			}
			since = parsed
		}
		stats, err := store.Stats(c.Context(), c.Query("integration_id"), since)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(stats)
	})

	logger.Info().Str("addr", k.String("HTTP_ADDR")).Msg("listening")
	if err := app.Listen(k.String("HTTP_ADDR")); err != nil {
		logger.Fatal().Err(err).Msg("listen")
	}
}

func setStatus(store *postgres.PGStore, status flow.WorkflowStatus) fiber.Handler {
	return func(c fiber.Ctx) error {
		err := store.SetWorkflowStatus(c.Context(), c.Params("id"), status)
		if errors.Is(err, flow.ErrWorkflowNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "workflow not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": status})
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/vigilsec/vigil/pkg/analysis"
	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/persist"
	"github.com/vigilsec/vigil/pkg/session"
)

const Version = "0.1.0"

func main() {
	port := os.Getenv("VIGIL_PORT")
	if port == "" {
		port = "8642"
	}

	cfg := config.NewDefaultConfig()
	cfg.MustValidate()

	history, err := buildHistoryStore(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] history store: %v", err)
	}
	defer history.Close()

	audit, err := buildAuditStore(cfg)
	if err != nil {
		log.Fatalf("[STARTUP] audit store: %v", err)
	}
	defer audit.Close()

	registry := analysis.DefaultRegistry()
	if rc := analysis.NewRemoteClassifier(); rc != nil {
		registry.MustRegister(rc.Task())
		log.Println("[STARTUP] remote classifier enabled")
	}

	svc, err := analysis.NewService(cfg, registry, history, audit)
	if err != nil {
		log.Fatalf("[STARTUP] engine: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName: "Vigil",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":           "ok",
			"version":          Version,
			"cached_verdicts":  svc.CacheLen(),
			"dropped_persists": svc.DroppedPersists(),
		})
	})

	// Assess one conversational turn. The request hash keys the verdict
	// cache, so resubmitting the same turn inside the TTL is cheap.
	app.Post("/analyze", func(c fiber.Ctx) error {
		var req analysis.AnalysisRequest
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}

		verdict, err := svc.Analyze(c.Context(), req)
		if err != nil {
			if errors.Is(err, analysis.ErrInvalidRequest) {
				return c.Status(400).JSON(fiber.Map{"error": err.Error()})
			}
			return c.Status(500).JSON(fiber.Map{"error": "analysis failed"})
		}
		return c.JSON(verdict)
	})

	// Forget a conversation, e.g. on user deletion requests.
	app.Delete("/session/:id", func(c fiber.Ctx) error {
		id := c.Params("id")
		if id == "" {
			return c.Status(400).JSON(fiber.Map{"error": "session id is required"})
		}
		if err := history.Delete(c.Context(), id); err != nil {
			log.Printf("[WARN] session delete failed for %s: %v", id, err)
			return c.Status(500).JSON(fiber.Map{"error": "delete failed"})
		}
		return c.JSON(fiber.Map{"deleted": id})
	})

	log.Printf("[STARTUP] Vigil %s listening on :%s", Version, port)
	log.Printf("[STARTUP]   GET    /health       - health and engine counters")
	log.Printf("[STARTUP]   POST   /analyze      - assess one conversational turn")
	log.Printf("[STARTUP]   DELETE /session/:id  - forget a conversation")

	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

func buildHistoryStore(cfg *config.Config) (session.HistoryStore, error) {
	switch cfg.History {
	case config.HistoryRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store, err := session.NewRedisStore(ctx, cfg.RedisAddr, time.Hour)
		if err != nil {
			return nil, err
		}
		log.Printf("[STARTUP] session history: redis (%s)", cfg.RedisAddr)
		return store, nil
	case config.HistoryMemory:
		log.Println("[STARTUP] session history: in-memory")
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.History)
	}
}

func buildAuditStore(cfg *config.Config) (persist.AuditStore, error) {
	switch cfg.Audit {
	case config.AuditPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := persist.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		log.Println("[STARTUP] audit trail: postgres")
		return store, nil
	case config.AuditNone:
		log.Println("[STARTUP] audit trail: disabled")
		return persist.NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown audit backend %q", cfg.Audit)
	}
}

package http

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"podcast-illustrator/internal/catalog"
	"podcast-illustrator/internal/config"
	"podcast-illustrator/internal/metrics"
	"podcast-illustrator/internal/pipeline"
)

const (
	ServiceName = "podcast-illustrator"
	Version     = "1.0.0"
)

// JobCatalog is the queryable job listing backed by the database.
type JobCatalog interface {
	List(ctx context.Context, limit int) ([]catalog.Job, error)
	Get(ctx context.Context, id string) (catalog.Job, error)
	Ping(ctx context.Context) error
}

// VersionProber reports the transcoder binary version for health checks.
type VersionProber interface {
	Version(ctx context.Context) (string, error)
}

// Deps are the optional collaborators of the server. Nil fields disable the
// features that need them.
type Deps struct {
	Queue   *pipeline.Queue
	Catalog JobCatalog
	Redis   *redis.Client
	FFmpeg  VersionProber
}

type Server struct {
	app    *fiber.App
	config *config.Config
	logger *slog.Logger
}

func NewServer(cfg *config.Config, orch *pipeline.Orchestrator, deps Deps, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		BodyLimit:             cfg.BodyLimitBytes(),
		ErrorHandler:          fiberErrorHandler,
		DisableStartupMessage: true,
	})

	// Inject config, pipeline, and collaborators into context for handlers
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("pipeline", orch)
		if deps.Queue != nil {
			c.Locals("queue", deps.Queue)
		}
		if deps.Catalog != nil {
			c.Locals("catalog", deps.Catalog)
		}
		return c.Next()
	})

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)
		c.Set("X-Request-Id", reqID)
		if logger != nil {
			c.Locals("logger", logger)
		}

		err := c.Next()
		if err != nil {
			// Render now so the logged status is the one sent.
			if herr := fiberErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			err = nil
		}

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := routePath(c)

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			attrs := []any{
				"request_id", reqID,
				"method", method,
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			}
			if jobID := c.Locals("job_id"); jobID != nil {
				attrs = append(attrs, "job_id", jobID)
			}
			logger.Info("request", attrs...)
		}

		return err
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": ServiceName,
			"message": "Audio segmentation service is running",
		})
	})

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": Version,
		})
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		storageStatus := "ok"
		if err := checkWritable(cfg.Storage.Root); err != nil {
			storageStatus = "error"
		}

		ffmpegStatus := "disabled"
		ffmpegVersion := ""
		if deps.FFmpeg != nil {
			if v, err := deps.FFmpeg.Version(ctx); err != nil {
				ffmpegStatus = "error"
			} else {
				ffmpegStatus = "ok"
				ffmpegVersion = v
			}
		}

		dbStatus := "disabled"
		if deps.Catalog != nil {
			if err := deps.Catalog.Ping(ctx); err != nil {
				dbStatus = "error"
			} else {
				dbStatus = "ok"
			}
		}

		redisStatus := "disabled"
		if deps.Redis != nil {
			if err := deps.Redis.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		status := "ok"
		httpStatus := fiber.StatusOK
		if storageStatus != "ok" || ffmpegStatus == "error" || dbStatus == "error" || redisStatus == "error" {
			status = "error"
			httpStatus = fiber.StatusServiceUnavailable
		}

		return c.Status(httpStatus).JSON(fiber.Map{
			"status":         status,
			"storage":        storageStatus,
			"ffmpeg":         ffmpegStatus,
			"ffmpeg_version": ffmpegVersion,
			"db":             dbStatus,
			"redis":          redisStatus,
		})
	})

	// Prometheus-style metrics endpoint
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	var rateMw fiber.Handler
	if deps.Redis != nil {
		rateMw = rateLimitMiddleware(cfg, deps.Redis)
	} else {
		rateMw = func(c *fiber.Ctx) error { return c.Next() }
	}

	api := app.Group("/api", rateMw)
	registerAPIRoutes(api)

	return &Server{
		app:    app,
		config: cfg,
		logger: logger,
	}
}

func registerAPIRoutes(group fiber.Router) {
	group.Post("/upload", uploadHandler)
	group.Post("/process/:id", processHandler)
	group.Get("/status/:id", statusHandler)
	group.Get("/jobs", jobsListHandler)
	group.Get("/jobs/:id", jobDetailHandler)
	group.Get("/jobs/:id/segments", segmentsHandler)
	group.Get("/jobs/:id/segments/:index", segmentDownloadHandler)
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	if s.logger != nil {
		s.logger.Info("listening", "addr", addr)
	}
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// routePath returns the matched route pattern so metrics do not grow one
// series per job id. Requests no endpoint handled share one label.
func routePath(c *fiber.Ctx) string {
	r := c.Route()
	if r == nil || r.Path == "" || r.Method == "USE" || len(r.Handlers) == 0 {
		return unmatchedRoute
	}
	return r.Path
}

const unmatchedRoute = "unmatched"

// checkWritable verifies a file can be created under root.
func checkWritable(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".healthz-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
